package engine

import (
	"context"

	"github.com/Mindburn-Labs/bomforge/core/pkg/bomerr"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/workflow/history"
)

func (e *Engine) registerSignals(bomID string) chan Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan Signal, 1)
	e.signalCh[bomID] = ch
	return ch
}

func (e *Engine) unregisterSignals(bomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.signalCh, bomID)
	delete(e.progress, bomID)
}

// Send delivers a control signal to a running workflow. It returns a
// NotFound error if no workflow for bomID is currently running on this
// Engine instance — callers must route the signal to the replica actually
// processing the BOM — and a Conflict error if a signal is still pending.
func (e *Engine) Send(bomID string, sig Signal) error {
	e.mu.Lock()
	ch, ok := e.signalCh[bomID]
	e.mu.Unlock()
	if !ok {
		return bomerr.New(bomerr.NotFound, "engine: no running workflow for bom "+bomID)
	}
	select {
	case ch <- sig:
		return nil
	default:
		return bomerr.New(bomerr.Conflict, "engine: signal channel full for bom "+bomID)
	}
}

func (e *Engine) recordProgress(p model.EnrichmentEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress[p.BOMID] = p
}

// GetProgress returns the latest in-memory progress snapshot for bomID, the
// fast path behind the get_progress query. Callers needing
// durable progress across replicas use ReplayProgress instead.
func (e *Engine) GetProgress(bomID string) (model.EnrichmentEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.progress[bomID]
	return p, ok
}

// ReplayProgress folds the workflow's durable history into a progress
// snapshot, serving get_progress for BOMs owned by another replica (or a
// dead one). The fold never blocks the running workflow's activities.
func (e *Engine) ReplayProgress(ctx context.Context, bomID string) (history.Snapshot, error) {
	return history.Replay(ctx, e.log, WorkflowID(bomID))
}
