package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic attribute keys for the enrichment pipeline.
var (
	AttrBOMID          = attribute.Key("bomforge.bom.id")
	AttrOrganizationID = attribute.Key("bomforge.org.id")
	AttrBOMSource      = attribute.Key("bomforge.bom.source")
	AttrWorkflowState  = attribute.Key("bomforge.workflow.state")

	AttrLineNumber = attribute.Key("bomforge.line.number")
	AttrLineStatus = attribute.Key("bomforge.line.status")
	AttrMPN        = attribute.Key("bomforge.component.mpn")

	AttrSupplier      = attribute.Key("bomforge.supplier.name")
	AttrSupplierTier  = attribute.Key("bomforge.supplier.tier")
	AttrBreakerState  = attribute.Key("bomforge.supplier.breaker_state")
	AttrCallOutcome   = attribute.Key("bomforge.supplier.outcome")
	AttrRetryAttempt  = attribute.Key("bomforge.supplier.attempt")
	AttrMatchScore    = attribute.Key("bomforge.supplier.match_confidence")
	AttrQualityScore  = attribute.Key("bomforge.component.quality_score")
	AttrPromotionPath = attribute.Key("bomforge.promotion.route")
)

// LineAttrs labels a line item's terminal status.
func LineAttrs(bomID string, lineNumber int, mpn, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBOMID.String(bomID),
		AttrLineNumber.Int(lineNumber),
		AttrMPN.String(mpn),
		AttrLineStatus.String(status),
	}
}

// SupplierCallAttrs labels one supplier search.
func SupplierCallAttrs(supplier, outcome string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSupplier.String(supplier),
		AttrCallOutcome.String(outcome),
		AttrRetryAttempt.Int(attempt),
	}
}

// PromotionAttrs labels a routing decision with its quality score.
func PromotionAttrs(mpn, route string, qualityScore int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrMPN.String(mpn),
		AttrPromotionPath.String(route),
		AttrQualityScore.Int(qualityScore),
	}
}

// WorkflowAttrs labels a workflow-level transition.
func WorkflowAttrs(bomID, orgID, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBOMID.String(bomID),
		AttrOrganizationID.String(orgID),
		AttrWorkflowState.String(state),
	}
}

// AddSpanEvent attaches a named event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanError records err on the span in ctx when non-nil.
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)
}
