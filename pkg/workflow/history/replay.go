package history

import (
	"context"

	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

// Transition kinds the engine appends. The fold below is the only other
// place that needs to understand them; adding a kind means extending both.
const (
	KindStarted   = "workflow.started"
	KindEnriching = "workflow.enriching"
	KindProgress  = "workflow.progress"
	KindPaused    = "workflow.paused"
	KindResumed   = "workflow.resumed"
	KindCancelled = "workflow.cancelled"
	KindCompleted = "workflow.completed"
	KindFailed    = "workflow.failed"
)

// Snapshot is a workflow's reconstructed position: its BOM status plus the
// latest progress counters. Enriched+Failed+Skipped never exceeds Total
// because the engine appends progress entries only after a batch's
// counters settle.
type Snapshot struct {
	WorkflowID string
	Status     model.BOMStatus
	Enriched   int
	Failed     int
	Skipped    int
	Total      int
	LastSeq    uint64
}

// Fold reduces a workflow's entries to its current Snapshot. The engine
// uses it, through Replay, to serve progress reads; the engine's Run does
// not resume a BOM from a Snapshot.
func Fold(workflowID string, entries []*Entry) Snapshot {
	snap := Snapshot{WorkflowID: workflowID, Status: model.BOMParsed}
	for _, entry := range entries {
		snap.LastSeq = entry.Seq
		switch entry.Kind {
		case KindStarted:
			snap.Total = intField(entry.Payload, "total_items")
		case KindEnriching:
			snap.Status = model.BOMEnriching
			snap.Enriched = intField(entry.Payload, "pre_enriched")
		case KindProgress:
			snap.Enriched = intField(entry.Payload, "enriched")
			snap.Failed = intField(entry.Payload, "failed")
			snap.Skipped = intField(entry.Payload, "skipped")
		case KindPaused:
			snap.Status = model.BOMPaused
		case KindResumed:
			snap.Status = model.BOMEnriching
		case KindCancelled:
			snap.Status = model.BOMCancelled
		case KindCompleted:
			snap.Status = model.BOMCompleted
			snap.Enriched = intField(entry.Payload, "enriched")
			snap.Failed = intField(entry.Payload, "failed")
			snap.Skipped = intField(entry.Payload, "skipped")
		case KindFailed:
			snap.Status = model.BOMFailed
		}
	}
	return snap
}

// Replay loads workflowID's full chain and folds it.
func Replay(ctx context.Context, log Log, workflowID string) (Snapshot, error) {
	entries, err := log.Range(ctx, workflowID, 1, 0)
	if err != nil {
		return Snapshot{}, err
	}
	return Fold(workflowID, entries), nil
}

// intField tolerates the two numeric shapes a payload passes through:
// in-process (int) and JSON round-tripped (float64).
func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
