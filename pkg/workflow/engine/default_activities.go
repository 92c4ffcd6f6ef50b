package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/aiprovider"
	"github.com/Mindburn-Labs/bomforge/core/pkg/audit"
	"github.com/Mindburn-Labs/bomforge/core/pkg/blobstore"
	"github.com/Mindburn-Labs/bomforge/core/pkg/bomerr"
	"github.com/Mindburn-Labs/bomforge/core/pkg/catalog"
	"github.com/Mindburn-Labs/bomforge/core/pkg/config"
	"github.com/Mindburn-Labs/bomforge/core/pkg/eventbus"
	"github.com/Mindburn-Labs/bomforge/core/pkg/lock"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/observability"
	"github.com/Mindburn-Labs/bomforge/core/pkg/scoring"
	"github.com/Mindburn-Labs/bomforge/core/pkg/snapshot"
	"github.com/Mindburn-Labs/bomforge/core/pkg/supplier"
)

// Catalog is the subset of pkg/catalog.PostgresCatalog the engine needs,
// kept as a narrow interface so tests can fake it without a database.
type Catalog interface {
	Get(ctx context.Context, mpn, manufacturer string) (*model.CatalogComponent, error)
	Upsert(ctx context.Context, comp model.CatalogComponent) error
}

// Publisher is the subset of eventbus.Bus the engine needs to announce
// progress events on the enrichment stream.
type Publisher interface {
	Publish(ctx context.Context, key eventbus.RoutingKey, eventID, eventType string, payload any) error
}

// BOMRepository is the slice of pkg/bomstore the activities write through:
// line-item state after each enrichment, BOM status on transitions, and
// the append-only progress history.
type BOMRepository interface {
	UpdateStatus(ctx context.Context, bomID string, status model.BOMStatus) error
	UpdateLineItem(ctx context.Context, l model.BOMLineItem) error
	RecordProgress(ctx context.Context, ev model.EnrichmentEvent) error
}

// StalenessWindow bounds how long a catalog hit is served without
// re-enrichment; a pre-filter match older than this re-enriches instead
// of skipping. Shared with the catalog upsert's overwrite predicate so
// the two reads of "stale" can't drift apart.
const StalenessWindow = catalog.StalenessWindow

// componentLockTTL bounds how long an enrichment:{mpn} lock is held before
// auto-expiring, guarding against a crashed worker wedging the component.
const componentLockTTL = 30 * time.Second

// componentLockWait is the per-line wait timeout: if the lock isn't
// acquired within this window the line is deferred, not failed.
const componentLockWait = 2 * time.Second

// DefaultActivities wires the supplier gateway, catalog, blob store,
// locking, config, and event bus into the Activities contract the Engine
// drives. One DefaultActivities is shared by every run of the Engine; its
// Tunables are the snapshot it was built with, so the thresholds it
// applies do not follow the Tunables passed to each Run.
type DefaultActivities struct {
	Gateway     *supplier.Gateway
	AIProviders *aiprovider.Registry
	Catalog     Catalog
	Sink        *audit.Sink
	Snapshot    *snapshot.Writer
	Repo        BOMRepository
	LockStore   lock.Store
	Publisher   Publisher
	Telemetry   *observability.Provider
	Tunables    config.Tunables

	// AuditLabel identifies the finalized-CSV revision (the "-{label}" suffix);
	// callers pass a deterministic value, e.g. the workflow run's start time.
	AuditLabel string
}

func (a *DefaultActivities) VerifySnapshot(ctx context.Context, bom *model.BOM) error {
	if bom.Source != model.SourceSnapshot {
		return nil
	}
	// No check is made for snapshot-sourced BOMs either: the source
	// snapshot is not read and nothing is compared against the catalog.
	return nil
}

// BulkPreFilter resolves every line against the existing catalog before
// any supplier is called. A line whose part already has a fresh,
// catalog-quality row skips straight to enriched, annotated with the
// existing component id; everything else (no match, stale match,
// below-threshold match) proceeds to supplier enrichment.
func (a *DefaultActivities) BulkPreFilter(ctx context.Context, bom *model.BOM, lines []model.BOMLineItem) ([]model.BOMLineItem, error) {
	var filtered []model.BOMLineItem
	for _, line := range lines {
		mpn, manufacturer := line.Key()
		existing, err := a.Catalog.Get(ctx, supplier.NormalizeMPN(mpn), supplier.NormalizeManufacturer(manufacturer))
		if err == nil && existing != nil && !isStale(*existing) &&
			existing.QualityScore >= a.Tunables.QualityThreshold {
			a.persistLine(ctx, line, model.LineItemEnriched, existing.ID, existing)
			a.writeComparisonSummary(ctx, bom, line, existing.QualityScore, "catalog", "enriched", "")
			a.publish(ctx, bom, line, "enrichment.component.enriched", nil)
			continue
		}
		filtered = append(filtered, line)
	}
	return filtered, nil
}

func isStale(comp model.CatalogComponent) bool {
	return time.Since(comp.LastVerifiedAt) > StalenessWindow
}

// EnrichLine is the per-line activity: acquire the component lock (or
// defer), resolve via the supplier gateway (falling back to an AI provider
// when the gateway fails or the result it returns is below the confidence
// threshold; other suppliers are not tried for a better match), score, route per the
// three-tier promotion table, write the audit objects, and release the
// lock.
func (a *DefaultActivities) EnrichLine(ctx context.Context, bom *model.BOM, line model.BOMLineItem) (LineOutcome, error) {
	mpn, manufacturer := line.Key()
	mpn = supplier.NormalizeMPN(mpn)
	manufacturer = supplier.NormalizeManufacturer(manufacturer)
	if mpn == "" {
		return LineOutcome{Status: model.LineItemSkipped}, nil
	}

	l := lock.New(a.LockStore, lock.EnrichmentKey(mpn))
	ok, err := l.AcquireWait(ctx, componentLockTTL, componentLockWait)
	if err != nil {
		return LineOutcome{}, err
	}
	if !ok {
		return LineOutcome{Deferred: true}, nil
	}
	defer func() { _ = l.Release(ctx) }()

	result, trail, err := a.Gateway.LookupTrail(ctx, mpn, manufacturer)
	belowConfidence := err == nil && result.MatchConfidence < a.Tunables.SupplierConfidenceThreshold
	if err != nil || belowConfidence {
		if aiResult, aiErr := a.tryAIProvider(ctx, mpn, manufacturer, line.Description); aiErr == nil && aiResult != nil && aiResult.MatchConfidence >= a.Tunables.SupplierConfidenceThreshold {
			result = &supplier.LookupResult{
				Component:       aiResult.Component,
				MatchConfidence: aiResult.MatchConfidence,
				RetrievedAt:     aiResult.RetrievedAt,
			}
			trail = append(trail, supplier.Attempt{Supplier: "ai_provider", Success: true, Result: result})
			err = nil
			belowConfidence = false
		}
	}

	a.writeVendorResponses(ctx, bom, line, trail)

	// No source clearing the confidence threshold means a failed line,
	// with the collected attempt trail already persisted above.
	if err == nil && belowConfidence {
		err = bomerr.New(bomerr.PermanentDownstream, fmt.Sprintf("supplier: no source met confidence threshold for %s/%s", manufacturer, mpn))
	}

	if err != nil {
		a.writeComparisonSummary(ctx, bom, line, 0, "rejected", "failed", err.Error())
		a.publish(ctx, bom, line, "enrichment.component.failed", err)
		a.Telemetry.RecordLine(ctx, observability.LineAttrs(bom.ID, line.LineNumber, mpn, string(model.LineItemFailed))...)
		a.persistLine(ctx, line, model.LineItemFailed, "", nil)
		return LineOutcome{Status: model.LineItemFailed}, nil
	}

	fieldsPresent, fieldsExpected := countFields(result.Component)
	result.Component.QualityScore = scoring.Score(scoring.Input{
		FieldsPresent:   fieldsPresent,
		FieldsExpected:  fieldsExpected,
		MatchConfidence: result.MatchConfidence,
		RetrievedAt:     result.RetrievedAt,
		StalenessWindow: StalenessWindow,
	}, scoring.DefaultWeights)
	result.Component.LastVerifiedAt = result.RetrievedAt
	result.Component.MPN = mpn
	result.Component.Manufacturer = manufacturer

	route, status, componentID := a.route(ctx, line, result.Component)

	a.writeNormalizedData(ctx, bom, line, result.Component)
	a.writeComparisonSummary(ctx, bom, line, result.Component.QualityScore, route, status, "")
	a.publish(ctx, bom, line, "enrichment.component.enriched", nil)
	a.Telemetry.RecordPromotion(ctx, observability.PromotionAttrs(mpn, route, result.Component.QualityScore)...)

	if status == "failed" {
		a.Telemetry.RecordLine(ctx, observability.LineAttrs(bom.ID, line.LineNumber, mpn, string(model.LineItemFailed))...)
		a.persistLine(ctx, line, model.LineItemFailed, "", nil)
		return LineOutcome{Status: model.LineItemFailed}, nil
	}
	a.Telemetry.RecordLine(ctx, observability.LineAttrs(bom.ID, line.LineNumber, mpn, string(model.LineItemEnriched))...)
	a.persistLine(ctx, line, model.LineItemEnriched, componentID, &result.Component)
	return LineOutcome{Status: model.LineItemEnriched}, nil
}

// persistLine writes the line's terminal state back to its durable row. A
// nil Repo (single-component workflows run on synthetic lines with no
// row) makes this a no-op.
func (a *DefaultActivities) persistLine(ctx context.Context, line model.BOMLineItem, status model.LineItemStatus, componentID string, comp *model.CatalogComponent) {
	if a.Repo == nil || line.ID == "" {
		return
	}
	now := time.Now().UTC()
	line.EnrichmentStatus = status
	line.EnrichedAt = &now
	if componentID != "" {
		line.ComponentID = componentID
	}
	if comp != nil {
		line.LifecycleStatus = string(comp.LifecycleStatus)
		line.DatasheetURL = comp.DatasheetURL
		if len(comp.Parameters) > 0 {
			line.Specifications = comp.Parameters
		}
	}
	if err := a.Repo.UpdateLineItem(ctx, line); err != nil {
		a.Telemetry.RecordError(ctx, err, observability.AttrMPN.String(line.MPN))
	}
}

// tryAIProvider calls the optional AI provider registry; a nil registry is
// a normal ambient-disabled configuration, not an error.
func (a *DefaultActivities) tryAIProvider(ctx context.Context, mpn, manufacturer, description string) (*aiprovider.Result, error) {
	if a.AIProviders == nil {
		return nil, nil
	}
	return a.AIProviders.Search(ctx, mpn, manufacturer, description)
}

// route implements the three-tier promotion table, holding enrichment:{mpn}
// (via the caller's already-held lock) across the catalog upsert so a
// replayed line cannot double-insert. On the production route it returns
// the catalog row's id for line-item annotation.
func (a *DefaultActivities) route(ctx context.Context, line model.BOMLineItem, comp model.CatalogComponent) (route, status, componentID string) {
	switch {
	case comp.QualityScore >= a.Tunables.QualityThreshold:
		if err := a.Catalog.Upsert(ctx, comp); err != nil {
			if a.Snapshot != nil {
				_ = a.Snapshot.WriteRejected(ctx, line.ID, comp.MPN, comp.Manufacturer, comp.QualityScore, nil, err.Error(), a.Tunables.RedisSnapshotTTL)
			}
			return "rejected", "failed", ""
		}
		// The upsert may have kept a better existing row; the read-back
		// under the held lock yields the canonical id either way.
		if existing, err := a.Catalog.Get(ctx, comp.MPN, comp.Manufacturer); err == nil && existing != nil {
			componentID = existing.ID
		}
		return "production", "enriched", componentID
	case comp.QualityScore >= a.Tunables.PromoteThreshold:
		if a.Snapshot != nil {
			_ = a.Snapshot.WriteStaging(ctx, line.ID, comp.MPN, comp.Manufacturer, comp.QualityScore, componentData(comp), a.Tunables.RedisSnapshotTTL)
		}
		return "staging", "enriched", ""
	default:
		if a.Snapshot != nil {
			_ = a.Snapshot.WriteRejected(ctx, line.ID, comp.MPN, comp.Manufacturer, comp.QualityScore, componentData(comp), "below_promote_threshold", a.Tunables.RedisSnapshotTTL)
		}
		return "rejected", "enriched", ""
	}
}

func componentData(comp model.CatalogComponent) map[string]any {
	return map[string]any{
		"category":         comp.Category,
		"lifecycle_status": comp.LifecycleStatus,
		"datasheet_url":    comp.DatasheetURL,
		"image_url":        comp.ImageURL,
		"parameters":       comp.Parameters,
	}
}

func countFields(c model.CatalogComponent) (present, expected int) {
	expected = 6
	if c.Category != "" {
		present++
	}
	if c.LifecycleStatus != "" && c.LifecycleStatus != model.LifecycleUnknown {
		present++
	}
	if c.DatasheetURL != "" {
		present++
	}
	if c.ImageURL != "" {
		present++
	}
	if c.RohsCompliant != nil {
		present++
	}
	if c.ReachCompliant != nil {
		present++
	}
	return present, expected
}

func (a *DefaultActivities) writeVendorResponses(ctx context.Context, bom *model.BOM, line model.BOMLineItem, trail []supplier.Attempt) {
	if a.Sink == nil || !a.Tunables.EnableEnrichmentAudit {
		return
	}
	attempts := make([]any, len(trail))
	for i, at := range trail {
		attempts[i] = at
	}
	_ = a.Sink.WriteVendorResponses(ctx, bom.ID, lineAuditID(line), audit.VendorResponse{
		BOMID: bom.ID, LineNumber: line.LineNumber, MPN: line.MPN, Attempts: attempts,
	})
}

func (a *DefaultActivities) writeNormalizedData(ctx context.Context, bom *model.BOM, line model.BOMLineItem, comp model.CatalogComponent) {
	if a.Sink == nil || !a.Tunables.EnableEnrichmentAudit {
		return
	}
	var unitPrice float64
	if v, ok := comp.Parameters["unit_price"].(float64); ok {
		unitPrice = v
	}
	_ = a.Sink.WriteNormalizedData(ctx, bom.ID, lineAuditID(line), audit.NormalizedData{
		BOMID: bom.ID, LineNumber: line.LineNumber, MPN: comp.MPN, Manufacturer: comp.Manufacturer,
		Category: comp.Category, UnitPrice: unitPrice, LifecycleStatus: string(comp.LifecycleStatus),
		DatasheetURL: comp.DatasheetURL, Parameters: comp.Parameters,
	})
}

func (a *DefaultActivities) writeComparisonSummary(ctx context.Context, bom *model.BOM, line model.BOMLineItem, qualityScore int, route, status, reason string) {
	if a.Sink == nil || !a.Tunables.EnableEnrichmentAudit {
		return
	}
	_ = a.Sink.WriteComparisonSummary(ctx, bom.ID, lineAuditID(line), audit.ComparisonSummary{
		BOMID: bom.ID, LineNumber: line.LineNumber, MPN: line.MPN, Manufacturer: line.Manufacturer,
		QualityScore: qualityScore, Route: route, Status: status, Reason: reason, EnrichedAt: time.Now().UTC(),
	})
}

func lineAuditID(line model.BOMLineItem) string {
	if line.ID != "" {
		return line.ID
	}
	return fmt.Sprintf("line-%d", line.LineNumber)
}

func (a *DefaultActivities) publish(ctx context.Context, bom *model.BOM, line model.BOMLineItem, eventType string, cause error) {
	if a.Publisher == nil {
		return
	}
	payload := map[string]any{"bom_id": bom.ID, "line_number": line.LineNumber, "mpn": line.MPN}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	_ = a.Publisher.Publish(ctx, eventbus.RoutingEnrichment, fmt.Sprintf("%s:%d:%s", bom.ID, line.LineNumber, eventType), eventType, payload)
}

func (a *DefaultActivities) ProgressUpdate(ctx context.Context, bom *model.BOM, progress model.EnrichmentEvent) error {
	progress.State = string(bom.Status)
	progress.WorkflowID = WorkflowID(bom.ID)
	// Synthetic single-component BOMs carry no organization and no durable
	// row; their progress lives only in the workflow history.
	if a.Repo != nil && bom.OrganizationID != "" {
		if err := a.Repo.RecordProgress(ctx, progress); err != nil {
			return err
		}
	}
	if a.Publisher == nil {
		return nil
	}
	payload := map[string]any{
		"bom_id":           bom.ID,
		"percent_complete": progress.PercentComplete(),
		"enriched":         progress.Enriched,
		"failed":           progress.Failed,
		"total":            progress.Total,
	}
	return a.Publisher.Publish(ctx, eventbus.RoutingBOM, fmt.Sprintf("%s:progress:%d", bom.ID, progress.Enriched+progress.Failed+progress.Skipped),
		"customer.bom.enrichment_progress", payload)
}

// PersistStatus mirrors the workflow's in-memory status onto the durable
// BOM row (the workflow lock makes this a single-writer update) and
// announces the failed terminal state; completion is announced by
// Finalize once the audit artifacts exist.
func (a *DefaultActivities) PersistStatus(ctx context.Context, bom *model.BOM) error {
	if bom.Status == model.BOMFailed && a.Publisher != nil {
		_ = a.Publisher.Publish(ctx, eventbus.RoutingBOM, bom.ID+":enrichment_failed",
			"customer.bom.enrichment_failed", map[string]any{"bom_id": bom.ID})
	}
	if a.Repo == nil {
		return nil
	}
	return a.Repo.UpdateStatus(ctx, bom.ID, bom.Status)
}

// Finalize runs the audit sink's Phase 2 CSV finalization, announces the
// finalized artifacts to the audit stream (the field-diff worker attaches
// there), and publishes the terminal customer-facing event. A degraded
// finalize (a failed blob-store write) is logged here and skips the
// audit_ready announcement; it is not surfaced as a workflow failure.
func (a *DefaultActivities) Finalize(ctx context.Context, bom *model.BOM) error {
	if a.Sink == nil {
		return nil
	}
	label := a.AuditLabel
	if label == "" {
		label = bom.ID
	}
	if err := a.Sink.Finalize(ctx, bom.ID, label); err != nil {
		slog.Warn("engine: audit finalize degraded", "bom_id", bom.ID, "error", err)
		if a.Publisher != nil {
			_ = a.Publisher.Publish(ctx, eventbus.RoutingBOM, bom.ID+":enrichment_completed",
				"customer.bom.enrichment_completed", map[string]any{"bom_id": bom.ID})
		}
		return nil
	}
	if a.Publisher != nil {
		files := []string{
			blobstore.FinalizedCSVKey(bom.ID, blobstore.KindVendorResponses, label),
			blobstore.FinalizedCSVKey(bom.ID, blobstore.KindNormalizedData, label),
			blobstore.FinalizedCSVKey(bom.ID, blobstore.KindComparisonSummary, label),
		}
		_ = a.Publisher.Publish(ctx, eventbus.RoutingAudit, bom.ID+":audit_ready:"+label,
			"customer.bom.audit_ready", map[string]any{"bom_id": bom.ID, "label": label, "files": files})
		_ = a.Publisher.Publish(ctx, eventbus.RoutingBOM, bom.ID+":enrichment_completed",
			"customer.bom.enrichment_completed", map[string]any{"bom_id": bom.ID})
	}
	return nil
}
