package engine

import (
	"context"

	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

// LineOutcome is what EnrichLine returns: the resulting status, plus
// whether the line needs to be retried at the end of the batch because its
// enrichment:{mpn} lock could not be acquired within its wait timeout
// (deferred, not failed).
type LineOutcome struct {
	Status   model.LineItemStatus
	Deferred bool
}

// Activities is the set of stages the engine drives a BOM through:
// verify-snapshot, bulk-pre-filter, per-line enrichment (run inside
// bounded batches), progress-update, and finalize.
type Activities interface {
	// VerifySnapshot runs before the pre-filter; a non-nil error fails the
	// workflow. DefaultActivities makes no check here and returns nil.
	VerifySnapshot(ctx context.Context, bom *model.BOM) error
	// BulkPreFilter removes lines that don't need enrichment (already
	// enriched past the staleness window, or explicitly skipped).
	BulkPreFilter(ctx context.Context, bom *model.BOM, lines []model.BOMLineItem) ([]model.BOMLineItem, error)
	// EnrichLine resolves one line item via the supplier gateway and
	// catalog, returning its resulting outcome. A Deferred outcome means
	// the line's component lock was contended and must be retried at the
	// end of the batch rather than counted as failed.
	EnrichLine(ctx context.Context, bom *model.BOM, line model.BOMLineItem) (LineOutcome, error)
	// ProgressUpdate persists/publishes an EnrichmentEvent after a batch.
	ProgressUpdate(ctx context.Context, bom *model.BOM, progress model.EnrichmentEvent) error
	// PersistStatus writes bom's current status to the durable BOM row;
	// the engine calls it on every state transition, after the history
	// append.
	PersistStatus(ctx context.Context, bom *model.BOM) error
	// Finalize writes the completed BOM's audit export; the engine sets
	// bom's terminal status after it returns.
	Finalize(ctx context.Context, bom *model.BOM) error
}
