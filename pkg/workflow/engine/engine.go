// Package engine is the durable, replayable workflow engine driving a BOM
// through parsed -> enriching -> {paused <-> enriching} -> {completed |
// failed | cancelled}. Every transition is appended to a
// hash-chained history log before in-memory state advances, so a replaced
// worker reconstructs a BOM's position by folding the log back. Fan-out
// parallelism lives in bounded per-batch goroutines; the coordinator
// itself is single-threaded per BOM.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/bomforge/core/pkg/bomerr"
	"github.com/Mindburn-Labs/bomforge/core/pkg/config"
	"github.com/Mindburn-Labs/bomforge/core/pkg/lock"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/workflow/history"
)

// Signal is a control message a caller sends to a running workflow.
type Signal string

const (
	SignalPause  Signal = "pause"
	SignalResume Signal = "resume"
	SignalCancel Signal = "cancel"
)

// workflowExecutionTimeout bounds a full ingest+enrich run's wall time
// and doubles as the workflow lock's TTL.
const workflowExecutionTimeout = 24 * time.Hour

// WorkflowID returns the deterministic workflow id for a BOM, the
// "bom-enrichment-{bom_id}" convention every consumer and admin signal
// addresses.
func WorkflowID(bomID string) string { return "bom-enrichment-" + bomID }

// Engine drives one BOM's enrichment workflow at a time per instance;
// callers run one Engine per worker, coordinated across replicas via
// lockStore.
type Engine struct {
	log         history.Log
	lockStore   lock.Store
	activities  Activities
	concurrency int

	mu       sync.Mutex
	signalCh map[string]chan Signal
	progress map[string]model.EnrichmentEvent
}

// New builds an Engine. concurrency is the fallback batch size used when a
// Run call's Tunables carries no BatchSize override.
func New(log history.Log, lockStore lock.Store, activities Activities, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Engine{
		log:         log,
		lockStore:   lockStore,
		activities:  activities,
		concurrency: concurrency,
		signalCh:    make(map[string]chan Signal),
		progress:    make(map[string]model.EnrichmentEvent),
	}
}

// Run drives bom through its full lifecycle. It holds the per-BOM workflow
// lock for the duration so only one replica advances a given BOM at a time.
// tunables is read once by the caller at workflow start and held for the
// run's lifetime, so pacing never shifts mid-run.
func (e *Engine) Run(ctx context.Context, bom *model.BOM, lines []model.BOMLineItem, tunables config.Tunables) error {
	// Reject-duplicate: a second start for the same BOM loses immediately
	// rather than queueing behind the holder. The TTL matches the
	// workflow execution bound so a crashed owner's lock eventually
	// clears.
	l := lock.New(e.lockStore, lock.WorkflowKey(bom.ID))
	ok, err := l.Acquire(ctx, workflowExecutionTimeout)
	if err != nil {
		return fmt.Errorf("engine: acquire workflow lock: %w", err)
	}
	if !ok {
		return bomerr.New(bomerr.Conflict, "engine: workflow already running for this BOM")
	}
	defer func() { _ = l.Release(ctx) }()

	sig := e.registerSignals(bom.ID)
	defer e.unregisterSignals(bom.ID)

	if err := e.emit(ctx, bom, history.KindStarted, map[string]any{"total_items": len(lines)}); err != nil {
		return err
	}

	if err := e.activities.VerifySnapshot(ctx, bom); err != nil {
		return e.fail(ctx, bom, err)
	}

	filtered, err := e.activities.BulkPreFilter(ctx, bom, lines)
	if err != nil {
		return e.fail(ctx, bom, err)
	}
	preEnriched := len(lines) - len(filtered)

	bom.Status = model.BOMEnriching
	if err := e.emit(ctx, bom, history.KindEnriching, map[string]any{
		"filtered_items": len(filtered), "pre_enriched": preEnriched,
	}); err != nil {
		return err
	}

	// Lines the pre-filter settled against the catalog count as enriched
	// from the start, so progress totals always cover the whole BOM.
	progress := model.EnrichmentEvent{
		BOMID:          bom.ID,
		OrganizationID: bom.OrganizationID,
		State:          string(model.BOMEnriching),
		Total:          len(lines),
		Enriched:       preEnriched,
	}
	if preEnriched > 0 {
		if err := e.flushProgress(ctx, bom, progress); err != nil {
			return err
		}
	}

	if err := e.runBatches(ctx, bom, filtered, sig, &progress, tunables); err != nil {
		if bomerr.Is(err, bomerr.CoordinatorFatal) {
			return e.fail(ctx, bom, err)
		}
		return err // cancellation propagates as-is, workflow already marked cancelled
	}

	if err := e.activities.Finalize(ctx, bom); err != nil {
		return e.fail(ctx, bom, err)
	}

	bom.Status = model.BOMCompleted
	return e.emit(ctx, bom, history.KindCompleted, map[string]any{
		"enriched": progress.Enriched, "failed": progress.Failed, "skipped": progress.Skipped,
	})
}

// runBatches enriches lines in bounded-concurrency batches, honoring pause
// and cancel signals between batches and the pacing delays in tunables.
// Lines deferred by a contended enrichment:{mpn} lock are
// parked on a deterministic queue and retried after the round that parked
// them, rather than being counted as failed.
func (e *Engine) runBatches(ctx context.Context, bom *model.BOM, lines []model.BOMLineItem, sig chan Signal, progress *model.EnrichmentEvent, tunables config.Tunables) error {
	batchSize := tunables.BatchSize
	if batchSize <= 0 {
		batchSize = e.concurrency
	}

	parked := newDeferQueue()
	round := 0
	for start := 0; start < len(lines); start += batchSize {
		if err := e.checkSignals(ctx, bom, sig); err != nil {
			return err
		}

		end := start + batchSize
		if end > len(lines) {
			end = len(lines)
		}
		if err := e.runBatch(ctx, bom, lines[start:end], parked, round, progress, tunables); err != nil {
			return bomerr.Wrap(bomerr.CoordinatorFatal, err)
		}
		round++
		if err := e.flushProgress(ctx, bom, *progress); err != nil {
			return err
		}

		if tunables.DelaysEnabled && tunables.DelayPerBatch > 0 && end < len(lines) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(tunables.DelayPerBatch):
			}
		}
	}

	for parked.Len() > 0 {
		if err := e.checkSignals(ctx, bom, sig); err != nil {
			return err
		}
		retryBatch := parked.PopRound(round, batchSize)
		settledBefore := progress.Enriched + progress.Failed + progress.Skipped
		if err := e.runBatch(ctx, bom, retryBatch, parked, round, progress, tunables); err != nil {
			return bomerr.Wrap(bomerr.CoordinatorFatal, err)
		}
		round++
		settled := progress.Enriched + progress.Failed + progress.Skipped - settledBefore
		if settled == 0 && parked.Len() >= len(retryBatch) {
			// the whole retry round re-deferred; another worker still
			// holds those component locks, count the remainder as failed
			// rather than spin forever.
			drained := parked.PopRound(round+1, parked.Len())
			progress.Failed += len(drained)
		}
		if err := e.flushProgress(ctx, bom, *progress); err != nil {
			return err
		}
	}
	return nil
}

// runBatch runs one batch's per-line activities up to batch_size
// concurrent, staggering each launch by delay_per_component_ms so the
// supplier gateway sees paced dispatch rather than a thundering herd.
// Lock-contended lines are parked on q tagged with the current round. A
// non-nil error means a hard activity error occurred and the caller must
// fail the whole workflow rather than continue batching.
func (e *Engine) runBatch(ctx context.Context, bom *model.BOM, batch []model.BOMLineItem, q *deferQueue, round int, progress *model.EnrichmentEvent, tunables config.Tunables) error {
	g, gctx := errgroup.WithContext(ctx)
	outcomes := make([]LineOutcome, len(batch))
	for i, line := range batch {
		if tunables.DelaysEnabled && tunables.DelayPerComponent > 0 && i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(tunables.DelayPerComponent):
			}
		}
		i, line := i, line
		g.Go(func() error {
			outcome, err := e.activities.EnrichLine(gctx, bom, line)
			outcomes[i] = outcome
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, outcome := range outcomes {
		if outcome.Deferred {
			q.Push(batch[i], round)
			continue
		}
		switch outcome.Status {
		case model.LineItemEnriched:
			progress.Enriched++
		case model.LineItemFailed:
			progress.Failed++
		case model.LineItemSkipped:
			progress.Skipped++
		}
	}
	return nil
}

// flushProgress records the batch's settled counters in memory, in the
// history log, and through the ProgressUpdate activity (durable row +
// progress event), in that order.
func (e *Engine) flushProgress(ctx context.Context, bom *model.BOM, progress model.EnrichmentEvent) error {
	e.recordProgress(progress)
	if err := e.emit(ctx, bom, history.KindProgress, map[string]any{
		"enriched": progress.Enriched, "failed": progress.Failed, "skipped": progress.Skipped, "total": progress.Total,
	}); err != nil {
		return err
	}
	return e.activities.ProgressUpdate(ctx, bom, progress)
}

func (e *Engine) checkSignals(ctx context.Context, bom *model.BOM, sig chan Signal) error {
	select {
	case s := <-sig:
		switch s {
		case SignalPause:
			return e.waitForResume(ctx, bom, sig)
		case SignalCancel:
			bom.Status = model.BOMCancelled
			_ = e.emit(ctx, bom, history.KindCancelled, nil)
			return bomerr.New(bomerr.Conflict, "engine: workflow cancelled")
		}
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

func (e *Engine) waitForResume(ctx context.Context, bom *model.BOM, sig chan Signal) error {
	bom.Status = model.BOMPaused
	if err := e.emit(ctx, bom, history.KindPaused, nil); err != nil {
		return err
	}
	for {
		select {
		case s := <-sig:
			switch s {
			case SignalResume:
				bom.Status = model.BOMEnriching
				return e.emit(ctx, bom, history.KindResumed, nil)
			case SignalCancel:
				bom.Status = model.BOMCancelled
				_ = e.emit(ctx, bom, history.KindCancelled, nil)
				return bomerr.New(bomerr.Conflict, "engine: workflow cancelled while paused")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) fail(ctx context.Context, bom *model.BOM, cause error) error {
	bom.Status = model.BOMFailed
	_ = e.emit(ctx, bom, history.KindFailed, map[string]any{"error": cause.Error()})
	return fmt.Errorf("engine: workflow failed for bom %s: %w", bom.ID, cause)
}

func (e *Engine) emit(ctx context.Context, bom *model.BOM, kind string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["bom_id"] = bom.ID
	payload["status"] = string(bom.Status)
	_, err := e.log.Append(ctx, &history.Entry{
		WorkflowID: WorkflowID(bom.ID),
		Kind:       kind,
		RecordedAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("engine: append %s: %w", kind, err)
	}
	if kind != history.KindStarted && kind != history.KindProgress {
		if err := e.activities.PersistStatus(ctx, bom); err != nil {
			return fmt.Errorf("engine: persist status %s: %w", bom.Status, err)
		}
	}
	return nil
}
