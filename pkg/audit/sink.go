// Package audit is the enrichment evidence sink. Phase 1
// writes three independent per-line JSON objects (vendor_responses,
// normalized_data, comparison_summary) so retries are last-writer-wins
// rather than contending on one shared object. Phase 2, triggered at
// workflow terminal state, lists each kind's objects under the BOM prefix
// and concatenates them into a canonical-header CSV. Grounded on the
// manifest-and-archive export shape, generalized
// from a zip-of-everything export to a per-kind CSV (per spec) and
// retargeted from pkg/store.AuditStore to pkg/blobstore.Store since the
// audit trail here is an S3-backed object tree, not a local hash-chained
// log.
package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/blobstore"
)

// VendorResponse is the raw-evidence object written per line: every
// supplier attempt, successful or not, so a rejected line still carries
// the evidence of what was tried.
type VendorResponse struct {
	BOMID      string `json:"bom_id"`
	LineNumber int    `json:"line_number"`
	MPN        string `json:"mpn"`
	Attempts   []any  `json:"attempts"`
}

// NormalizedData is the post-scoring, post-normalization object written per
// line: the shape a field-diff worker compares against the original BOM.
type NormalizedData struct {
	BOMID           string         `json:"bom_id"`
	LineNumber      int            `json:"line_number"`
	MPN             string         `json:"mpn"`
	Manufacturer    string         `json:"manufacturer"`
	Category        string         `json:"category"`
	UnitPrice       float64        `json:"unit_price"`
	LifecycleStatus string         `json:"lifecycle_status"`
	DatasheetURL    string         `json:"datasheet_url"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

// ComparisonSummary is the per-line outcome object: quality score, routing
// decision, and the final enrichment status. Exactly one of
// these per completed line.
type ComparisonSummary struct {
	BOMID        string  `json:"bom_id"`
	LineNumber   int     `json:"line_number"`
	MPN          string  `json:"mpn"`
	Manufacturer string  `json:"manufacturer"`
	QualityScore int     `json:"quality_score"`
	Route        string  `json:"route"` // production | staging | rejected
	Status       string  `json:"status"`
	Reason       string  `json:"reason,omitempty"`
	EnrichedAt   time.Time `json:"enriched_at"`
}

// Sink is the per-workflow writer used by enrichment activities.
type Sink struct {
	blobs blobstore.Store
}

func NewSink(blobs blobstore.Store) *Sink {
	return &Sink{blobs: blobs}
}

func (s *Sink) put(ctx context.Context, bomID string, kind blobstore.ObjectKind, lineID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("audit: marshal %s object for line %s: %w", kind, lineID, err)
	}
	return s.blobs.Put(ctx, blobstore.ObjectKey(bomID, kind, lineID), data, "application/json")
}

// WriteVendorResponses persists the raw per-supplier attempt trail.
func (s *Sink) WriteVendorResponses(ctx context.Context, bomID, lineID string, v VendorResponse) error {
	return s.put(ctx, bomID, blobstore.KindVendorResponses, lineID, v)
}

// WriteNormalizedData persists the winning, normalized result.
func (s *Sink) WriteNormalizedData(ctx context.Context, bomID, lineID string, v NormalizedData) error {
	return s.put(ctx, bomID, blobstore.KindNormalizedData, lineID, v)
}

// WriteComparisonSummary persists the scoring/routing outcome. Because
// exactly one of these must exist for every completed line.
func (s *Sink) WriteComparisonSummary(ctx context.Context, bomID, lineID string, v ComparisonSummary) error {
	return s.put(ctx, bomID, blobstore.KindComparisonSummary, lineID, v)
}

// finalizeKind lists every per-line object of one kind under bomID and
// concatenates them into a canonical-header CSV, using fields as the
// header order.
func (s *Sink) finalizeKind(ctx context.Context, bomID string, kind blobstore.ObjectKind, label string, fields []string, rowOf func(map[string]any) []string) error {
	keys, err := s.blobs.List(ctx, blobstore.ObjectPrefix(bomID, kind))
	if err != nil {
		return fmt.Errorf("audit: list %s objects for %s: %w", kind, bomID, err)
	}
	sort.Strings(keys)

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(fields); err != nil {
		return fmt.Errorf("audit: write %s header: %w", kind, err)
	}
	for _, key := range keys {
		raw, err := s.blobs.Get(ctx, key)
		if err != nil {
			continue // best-effort: a missing object degrades the export, not the workflow
		}
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		if err := w.Write(rowOf(record)); err != nil {
			return fmt.Errorf("audit: write %s row: %w", kind, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush %s csv: %w", kind, err)
	}

	return s.blobs.Put(ctx, blobstore.FinalizedCSVKey(bomID, kind, label), buf.Bytes(), "text/csv")
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// Finalize runs Phase 2: per-kind CSV export for a terminal BOM. Permanent
// upload failure marks the step degraded (logged by the caller) but never
// fails the workflow.
func (s *Sink) Finalize(ctx context.Context, bomID, label string) error {
	if err := s.finalizeKind(ctx, bomID, blobstore.KindVendorResponses, label,
		[]string{"bom_id", "line_number", "mpn", "attempts"},
		func(m map[string]any) []string {
			attempts, _ := json.Marshal(m["attempts"])
			return []string{stringField(m, "bom_id"), stringField(m, "line_number"), stringField(m, "mpn"), string(attempts)}
		}); err != nil {
		return err
	}

	if err := s.finalizeKind(ctx, bomID, blobstore.KindNormalizedData, label,
		[]string{"bom_id", "line_number", "mpn", "manufacturer", "category", "unit_price", "lifecycle_status", "datasheet_url"},
		func(m map[string]any) []string {
			return []string{
				stringField(m, "bom_id"), stringField(m, "line_number"), stringField(m, "mpn"),
				stringField(m, "manufacturer"), stringField(m, "category"), stringField(m, "unit_price"),
				stringField(m, "lifecycle_status"), stringField(m, "datasheet_url"),
			}
		}); err != nil {
		return err
	}

	if err := s.finalizeKind(ctx, bomID, blobstore.KindComparisonSummary, label,
		[]string{"bom_id", "line_number", "mpn", "manufacturer", "quality_score", "route", "status", "reason"},
		func(m map[string]any) []string {
			return []string{
				stringField(m, "bom_id"), stringField(m, "line_number"), stringField(m, "mpn"),
				stringField(m, "manufacturer"), stringField(m, "quality_score"), stringField(m, "route"),
				stringField(m, "status"), stringField(m, "reason"),
			}
		}); err != nil {
		return err
	}

	return nil
}

// CountComparisonSummaries returns how many comparison_summary objects
// exist for bomID, the quantity P7 compares against enriched+failed.
func (s *Sink) CountComparisonSummaries(ctx context.Context, bomID string) (int, error) {
	keys, err := s.blobs.List(ctx, blobstore.ObjectPrefix(bomID, blobstore.KindComparisonSummary))
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
