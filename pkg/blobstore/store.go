// Package blobstore persists per-line audit objects and finalized CSV
// exports. Objects are
// addressed by caller-chosen key (bom_id/line_number, or a finalized export
// path) rather than content hash, since audit trails must be retrievable by
// BOM identity rather than by content, backed by the
// artifacts.Store contract and artifacts.S3Store implementation.
package blobstore

import "context"

// Store is a key-addressed object store.
type Store interface {
	// Put writes data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get retrieves the object stored at key.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns all keys under prefix, for CSV finalization scans.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
}

// ObjectKind names one of the three per-line JSON object families written
// during Phase 1 of the audit sink.
type ObjectKind string

const (
	KindVendorResponses   ObjectKind = "vendor_responses"
	KindNormalizedData    ObjectKind = "normalized_data"
	KindComparisonSummary ObjectKind = "comparison_summary"
)

// ObjectKey builds the per-line audit-object path
// audit/{bom_id}/_objects/{kind}/{line_id}.json.
// Independent per-line paths make retries last-writer-wins rather than
// contending on a shared object.
func ObjectKey(bomID string, kind ObjectKind, lineID string) string {
	return "audit/" + bomID + "/_objects/" + string(kind) + "/" + lineID + ".json"
}

// ObjectPrefix returns the prefix under which all of a kind's per-line
// objects for a BOM live, for the finalize-stage ListObjectsV2 scan.
func ObjectPrefix(bomID string, kind ObjectKind) string {
	return "audit/" + bomID + "/_objects/" + string(kind) + "/"
}

// FinalizedCSVKey builds the path for a kind's finalized CSV export.
func FinalizedCSVKey(bomID string, kind ObjectKind, label string) string {
	return "audit/" + bomID + "/" + string(kind) + "-" + label + ".csv"
}

// FieldDiffKey builds the path for the post-finalize field-diff CSV.
func FieldDiffKey(bomID, label string) string {
	return "audit/" + bomID + "/field_diff-" + label + ".csv"
}

// OriginalBOMKey builds the path for the original uploaded BOM CSV.
func OriginalBOMKey(bomID, label string) string {
	return "audit/" + bomID + "/bom_original-" + label + ".csv"
}

// ParsedSnapshotKey builds the path of a registered parsed-BOM snapshot.
func ParsedSnapshotKey(organizationID, bomID string) string {
	return "parsed/" + organizationID + "/" + bomID + ".json"
}

// CustomerUploadKey builds the path of a raw customer-uploaded file.
func CustomerUploadKey(organizationID, uploadID, filename string) string {
	return "customer-uploads/" + organizationID + "/" + uploadID + "/" + filename
}
