package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/bomerr"
	"github.com/Mindburn-Labs/bomforge/core/pkg/config"
	"github.com/Mindburn-Labs/bomforge/core/pkg/lock"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/workflow/engine"
	"github.com/Mindburn-Labs/bomforge/core/pkg/workflow/history"
)

func testTunables() config.Tunables {
	return config.Tunables{
		BatchSize:                   4,
		QualityThreshold:            80,
		PromoteThreshold:            70,
		SupplierConfidenceThreshold: 0.6,
		CircuitFailureThreshold:     5,
		CircuitSuccessThreshold:     2,
		CircuitTimeout:              60 * time.Second,
		RetryMaxAttempts:            3,
	}
}

type fakeActivities struct {
	mu          sync.Mutex
	enrichCalls int
	// deferUntil maps an MPN to how many EnrichLine calls should defer
	// before succeeding, simulating a contended component lock.
	deferUntil map[string]int
	// progressLog captures every ProgressUpdate tuple for monotonicity
	// assertions.
	progressLog []model.EnrichmentEvent
	// enrichDelay slows each line down so signal tests can land mid-run.
	enrichDelay time.Duration
}

func (f *fakeActivities) VerifySnapshot(ctx context.Context, bom *model.BOM) error { return nil }

func (f *fakeActivities) BulkPreFilter(ctx context.Context, bom *model.BOM, lines []model.BOMLineItem) ([]model.BOMLineItem, error) {
	return lines, nil
}

func (f *fakeActivities) EnrichLine(ctx context.Context, bom *model.BOM, line model.BOMLineItem) (engine.LineOutcome, error) {
	if f.enrichDelay > 0 {
		time.Sleep(f.enrichDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrichCalls++
	if n, ok := f.deferUntil[line.MPN]; ok && n > 0 {
		f.deferUntil[line.MPN] = n - 1
		return engine.LineOutcome{Deferred: true}, nil
	}
	if line.MPN == "" {
		return engine.LineOutcome{Status: model.LineItemSkipped}, nil
	}
	return engine.LineOutcome{Status: model.LineItemEnriched}, nil
}

func (f *fakeActivities) ProgressUpdate(ctx context.Context, bom *model.BOM, progress model.EnrichmentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressLog = append(f.progressLog, progress)
	return nil
}

func (f *fakeActivities) PersistStatus(ctx context.Context, bom *model.BOM) error { return nil }

func (f *fakeActivities) Finalize(ctx context.Context, bom *model.BOM) error { return nil }

func newTestEngine(acts engine.Activities) *engine.Engine {
	return engine.New(history.NewMemoryLog(), lock.NewMemoryStore(), acts, 4)
}

func makeLines(n int) []model.BOMLineItem {
	lines := make([]model.BOMLineItem, n)
	for i := range lines {
		lines[i] = model.BOMLineItem{LineNumber: i + 1, MPN: "MPN-X"}
	}
	return lines
}

func TestEngine_RunCompletesToCompletedStatus(t *testing.T) {
	acts := &fakeActivities{}
	e := newTestEngine(acts)

	bom := &model.BOM{ID: "bom-1", Status: model.BOMParsed}
	lines := []model.BOMLineItem{
		{LineNumber: 1, MPN: "LM358N"},
		{LineNumber: 2, MPN: "NE555"},
	}

	err := e.Run(context.Background(), bom, lines, testTunables())
	require.NoError(t, err)
	require.Equal(t, model.BOMCompleted, bom.Status)
	require.Equal(t, 2, acts.enrichCalls)
}

func TestEngine_PauseThenResume(t *testing.T) {
	// 30ms per line keeps the first batch running until after the pause
	// lands at 20ms, and the pause is taken before the resume at 40ms.
	acts := &fakeActivities{enrichDelay: 30 * time.Millisecond}
	e := newTestEngine(acts)

	bom := &model.BOM{ID: "bom-2", Status: model.BOMParsed}
	lines := makeLines(10)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), bom, lines, testTunables()) }()

	// Give the run loop a moment to register its signal channel.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Send("bom-2", engine.SignalPause))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Send("bom-2", engine.SignalResume))

	err := <-done
	require.NoError(t, err)
	require.Equal(t, model.BOMCompleted, bom.Status)
}

func TestEngine_Cancel(t *testing.T) {
	acts := &fakeActivities{enrichDelay: 5 * time.Millisecond}
	e := newTestEngine(acts)

	bom := &model.BOM{ID: "bom-3", Status: model.BOMParsed}
	lines := makeLines(20)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), bom, lines, testTunables()) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, e.Send("bom-3", engine.SignalCancel))

	err := <-done
	require.Error(t, err)
	require.Equal(t, model.BOMCancelled, bom.Status)
}

func TestEngine_DuplicateStartObservesConflict(t *testing.T) {
	acts := &fakeActivities{enrichDelay: 10 * time.Millisecond}
	log := history.NewMemoryLog()
	locks := lock.NewMemoryStore()
	first := engine.New(log, locks, acts, 4)
	second := engine.New(log, locks, acts, 4)

	lines := makeLines(12)
	done := make(chan error, 1)
	go func() {
		bom := &model.BOM{ID: "bom-4", Status: model.BOMParsed}
		done <- first.Run(context.Background(), bom, lines, testTunables())
	}()

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	dup := &model.BOM{ID: "bom-4", Status: model.BOMParsed}
	err := second.Run(ctx, dup, lines, testTunables())
	require.Error(t, err)
	require.True(t, bomerr.Is(err, bomerr.Conflict))

	require.NoError(t, <-done)
}

func TestEngine_ProgressIsMonotoneAndBounded(t *testing.T) {
	acts := &fakeActivities{}
	e := newTestEngine(acts)

	bom := &model.BOM{ID: "bom-5", Status: model.BOMParsed}
	total := 17
	err := e.Run(context.Background(), bom, makeLines(total), testTunables())
	require.NoError(t, err)

	prev := 0
	for _, p := range acts.progressLog {
		sum := p.Enriched + p.Failed + p.Skipped
		require.GreaterOrEqual(t, sum, prev, "progress must never decrease")
		require.LessOrEqual(t, sum, total, "progress must never exceed total")
		prev = sum
	}
	last := acts.progressLog[len(acts.progressLog)-1]
	require.Equal(t, total, last.Enriched+last.Failed+last.Skipped)
}

// prefilterActivities settles the first settle lines against a pretend
// catalog hit, the way the bulk pre-filter does.
type prefilterActivities struct {
	fakeActivities
	settle int
}

func (f *prefilterActivities) BulkPreFilter(ctx context.Context, bom *model.BOM, lines []model.BOMLineItem) ([]model.BOMLineItem, error) {
	if f.settle > len(lines) {
		return nil, nil
	}
	return lines[f.settle:], nil
}

func TestEngine_PreFilteredLinesCountTowardProgress(t *testing.T) {
	acts := &prefilterActivities{settle: 2}
	e := newTestEngine(acts)

	bom := &model.BOM{ID: "bom-9", Status: model.BOMParsed}
	total := 5
	err := e.Run(context.Background(), bom, makeLines(total), testTunables())
	require.NoError(t, err)
	require.Equal(t, model.BOMCompleted, bom.Status)
	require.Equal(t, 3, acts.enrichCalls, "only non-pre-filtered lines hit the gateway")

	for _, p := range acts.progressLog {
		require.Equal(t, total, p.Total, "totals cover the whole BOM")
	}
	last := acts.progressLog[len(acts.progressLog)-1]
	require.Equal(t, total, last.Enriched, "pre-filtered lines count as enriched")

	snap, err := e.ReplayProgress(context.Background(), "bom-9")
	require.NoError(t, err)
	require.Equal(t, total, snap.Enriched+snap.Failed+snap.Skipped)
	require.Equal(t, total, snap.Total)
}

func TestEngine_FullyPreFilteredBOMCompletesImmediately(t *testing.T) {
	acts := &prefilterActivities{settle: 4}
	e := newTestEngine(acts)

	bom := &model.BOM{ID: "bom-10", Status: model.BOMParsed}
	err := e.Run(context.Background(), bom, makeLines(4), testTunables())
	require.NoError(t, err)
	require.Equal(t, model.BOMCompleted, bom.Status)
	require.Zero(t, acts.enrichCalls)
	require.NotEmpty(t, acts.progressLog, "the pre-filter settlement is still flushed")
	last := acts.progressLog[len(acts.progressLog)-1]
	require.Equal(t, 4, last.Enriched)
}

func TestEngine_DeferredLinesRetryAfterBatch(t *testing.T) {
	acts := &fakeActivities{deferUntil: map[string]int{"CONTENDED": 1}}
	e := newTestEngine(acts)

	bom := &model.BOM{ID: "bom-6", Status: model.BOMParsed}
	lines := []model.BOMLineItem{
		{LineNumber: 1, MPN: "CONTENDED"},
		{LineNumber: 2, MPN: "FREE-1"},
		{LineNumber: 3, MPN: "FREE-2"},
	}

	err := e.Run(context.Background(), bom, lines, testTunables())
	require.NoError(t, err)
	require.Equal(t, model.BOMCompleted, bom.Status)
	// 3 first attempts + 1 retry of the contended line.
	require.Equal(t, 4, acts.enrichCalls)
	last := acts.progressLog[len(acts.progressLog)-1]
	require.Equal(t, 3, last.Enriched)
	require.Zero(t, last.Failed)
}

func TestEngine_PermanentlyContendedLinesCountAsFailed(t *testing.T) {
	acts := &fakeActivities{deferUntil: map[string]int{"WEDGED": 1 << 30}}
	e := newTestEngine(acts)

	bom := &model.BOM{ID: "bom-7", Status: model.BOMParsed}
	lines := []model.BOMLineItem{
		{LineNumber: 1, MPN: "WEDGED"},
		{LineNumber: 2, MPN: "FREE"},
	}

	err := e.Run(context.Background(), bom, lines, testTunables())
	require.NoError(t, err)
	last := acts.progressLog[len(acts.progressLog)-1]
	require.Equal(t, 1, last.Enriched)
	require.Equal(t, 1, last.Failed)
}

func TestEngine_HistoryReplaysToTerminalSnapshot(t *testing.T) {
	acts := &fakeActivities{}
	log := history.NewMemoryLog()
	e := engine.New(log, lock.NewMemoryStore(), acts, 4)

	bom := &model.BOM{ID: "bom-8", Status: model.BOMParsed}
	require.NoError(t, e.Run(context.Background(), bom, makeLines(6), testTunables()))

	snap, err := e.ReplayProgress(context.Background(), "bom-8")
	require.NoError(t, err)
	require.Equal(t, model.BOMCompleted, snap.Status)
	require.Equal(t, 6, snap.Enriched)

	ok, err := log.Verify(context.Background(), engine.WorkflowID("bom-8"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEngine_SendToUnknownWorkflowIsNotFound(t *testing.T) {
	e := newTestEngine(&fakeActivities{})
	err := e.Send("no-such-bom", engine.SignalPause)
	require.Error(t, err)
	require.True(t, bomerr.Is(err, bomerr.NotFound))
}
