package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/config"
	"github.com/Mindburn-Labs/bomforge/core/pkg/eventbus"
	"github.com/Mindburn-Labs/bomforge/core/pkg/idempotency"
	"github.com/Mindburn-Labs/bomforge/core/pkg/lock"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/tenantauth"
	"github.com/Mindburn-Labs/bomforge/core/pkg/workflow/engine"
	"github.com/Mindburn-Labs/bomforge/core/pkg/workflow/history"
)

type countingActivities struct {
	mu          sync.Mutex
	enrichCalls int
	perMPN      map[string]int
	enrichDelay time.Duration
}

func (f *countingActivities) VerifySnapshot(ctx context.Context, bom *model.BOM) error { return nil }

func (f *countingActivities) BulkPreFilter(ctx context.Context, bom *model.BOM, lines []model.BOMLineItem) ([]model.BOMLineItem, error) {
	return lines, nil
}

func (f *countingActivities) EnrichLine(ctx context.Context, bom *model.BOM, line model.BOMLineItem) (engine.LineOutcome, error) {
	if f.enrichDelay > 0 {
		time.Sleep(f.enrichDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrichCalls++
	if f.perMPN == nil {
		f.perMPN = make(map[string]int)
	}
	f.perMPN[line.MPN]++
	return engine.LineOutcome{Status: model.LineItemEnriched}, nil
}

func (f *countingActivities) ProgressUpdate(ctx context.Context, bom *model.BOM, progress model.EnrichmentEvent) error {
	return nil
}

func (f *countingActivities) PersistStatus(ctx context.Context, bom *model.BOM) error { return nil }

func (f *countingActivities) Finalize(ctx context.Context, bom *model.BOM) error { return nil }

func (f *countingActivities) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrichCalls
}

type fakeBOMs struct {
	bom   *model.BOM
	lines []model.BOMLineItem
	gets  int
}

func (f *fakeBOMs) Get(ctx context.Context, ac tenantauth.Context, id string) (*model.BOM, error) {
	f.gets++
	b := *f.bom
	return &b, nil
}

func (f *fakeBOMs) LineItems(ctx context.Context, ac tenantauth.Context, bomID string) ([]model.BOMLineItem, error) {
	return f.lines, nil
}

type fixedTunables struct{}

func (fixedTunables) Snapshot(ctx context.Context) (config.Tunables, error) {
	return config.Tunables{
		BatchSize:        4,
		QualityThreshold: 80,
		PromoteThreshold: 70,
	}, nil
}

type recordingFieldDiff struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingFieldDiff) HandleAuditReady(ctx context.Context, bomID, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, bomID+"/"+label)
	return nil
}

func newTestDispatcher(t *testing.T, acts engine.Activities) (*Dispatcher, *fakeBOMs, *recordingFieldDiff) {
	t.Helper()
	eng := engine.New(history.NewMemoryLog(), lock.NewMemoryStore(), acts, 4)
	boms := &fakeBOMs{
		bom: &model.BOM{ID: "bom-1", OrganizationID: "org-a", Status: model.BOMParsed},
		lines: []model.BOMLineItem{
			{LineNumber: 1, MPN: "LM358N", Manufacturer: "TI"},
			{LineNumber: 2, MPN: "NE555P", Manufacturer: "TI"},
		},
	}
	fieldDiff := &recordingFieldDiff{}
	idem := idempotency.NewMemoryStore(time.Minute, time.Minute)
	t.Cleanup(idem.Close)

	d, err := New(eng, boms, fixedTunables{}, idem, fieldDiff)
	require.NoError(t, err)
	d.batchItemDelay = time.Millisecond
	return d, boms, fieldDiff
}

func envelope(t *testing.T, eventType string, payload any) eventbus.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return eventbus.Envelope{EventID: "evt-" + eventType, EventType: eventType, Payload: raw}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestHandleBOMEvent_StartsWorkflow(t *testing.T) {
	acts := &countingActivities{}
	d, boms, _ := newTestDispatcher(t, acts)

	env := envelope(t, "bom.parsed", BOMParsed{
		BOMID: "bom-1", OrganizationID: "org-a", Source: "customer",
		BOMName: "main board", UploadedBy: "eng@example.com", ParsedS3Key: "parsed/org-a/bom-1.json",
	})
	require.NoError(t, d.HandleBOMEvent(context.Background(), env))

	waitFor(t, func() bool { return acts.calls() == 2 })
	require.Equal(t, 1, boms.gets)
}

func TestHandleBOMEvent_InvalidPayloadIsDroppedNotRetried(t *testing.T) {
	acts := &countingActivities{}
	d, boms, _ := newTestDispatcher(t, acts)

	// organization_id missing: schema rejects, handler acks by returning nil.
	env := envelope(t, "bom.parsed", map[string]any{"bom_id": "bom-1", "source": "customer"})
	require.NoError(t, d.HandleBOMEvent(context.Background(), env))
	require.Zero(t, boms.gets, "rejected payloads never hit the store")

	// Wrong enum value for source.
	env = envelope(t, "bom.parsed", map[string]any{
		"bom_id": "bom-1", "organization_id": "org-a", "source": "teleport",
	})
	require.NoError(t, d.HandleBOMEvent(context.Background(), env))
	require.Zero(t, boms.gets)
}

func TestHandleBOMEvent_DuplicateStartIsDropped(t *testing.T) {
	acts := &countingActivities{enrichDelay: 20 * time.Millisecond}
	d, _, _ := newTestDispatcher(t, acts)

	env := envelope(t, "bom.parsed", BOMParsed{
		BOMID: "bom-1", OrganizationID: "org-a", Source: "customer",
	})
	require.NoError(t, d.HandleBOMEvent(context.Background(), env))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.HandleBOMEvent(context.Background(), env))

	waitFor(t, func() bool { return acts.calls() == 2 })
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, acts.calls(), "second start must lose the per-BOM lock, not re-enrich")
}

func TestHandleAdminEvent_SignalForAbsentWorkflowIsDropped(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &countingActivities{})

	env := envelope(t, "admin.workflow.pause", AdminSignal{
		WorkflowID: "bom-enrichment-gone", Actor: "ops@example.com",
	})
	require.NoError(t, d.HandleAdminEvent(context.Background(), env))
}

func TestHandleAdminEvent_UnknownEventTypeIgnored(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &countingActivities{})
	env := envelope(t, "admin.workflow.shrug", AdminSignal{WorkflowID: "bom-enrichment-x"})
	require.NoError(t, d.HandleAdminEvent(context.Background(), env))
}

func TestHandleComponentEvent_RequestRunsOnceThenReplaysSuppressed(t *testing.T) {
	acts := &countingActivities{}
	d, _, _ := newTestDispatcher(t, acts)

	env := envelope(t, "component.enrich.request", ComponentRequest{MPN: "LM358N", Manufacturer: "TI"})
	require.NoError(t, d.HandleComponentEvent(context.Background(), env))
	require.Equal(t, 1, acts.calls())

	require.NoError(t, d.HandleComponentEvent(context.Background(), env))
	require.Equal(t, 1, acts.calls(), "replay must be suppressed by the idempotency store")

	force := envelope(t, "component.enrich.force", ComponentRequest{MPN: "LM358N", Manufacturer: "TI"})
	require.NoError(t, d.HandleComponentEvent(context.Background(), force))
	require.Equal(t, 2, acts.calls(), "force bypasses the replay guard")
}

func TestHandleComponentEvent_BatchRunsSerially(t *testing.T) {
	acts := &countingActivities{}
	d, _, _ := newTestDispatcher(t, acts)

	env := envelope(t, "component.enrich.batch", ComponentBatch{Items: []ComponentRequest{
		{MPN: "LM358N"}, {MPN: "NE555P"}, {MPN: "STM32F407VGT6"},
	}})
	require.NoError(t, d.HandleComponentEvent(context.Background(), env))
	require.Equal(t, 3, acts.calls())
	require.Equal(t, 1, acts.perMPN["LM358N"])
	require.Equal(t, 1, acts.perMPN["STM32F407VGT6"])
}

type recordingPromoter struct {
	keys []string
}

func (r *recordingPromoter) Promote(ctx context.Context, ac tenantauth.Context, redisKey, reason string) error {
	r.keys = append(r.keys, redisKey)
	return nil
}

func TestHandleAdminEvent_PromoteRoutesToPromoter(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &countingActivities{})
	promoter := &recordingPromoter{}
	d.WithPromoter(promoter)

	env := envelope(t, "admin.snapshot.promote", PromoteRequest{
		RedisKey: "component:LM358N:data", Actor: "ops@example.com", Reason: "verified",
	})
	require.NoError(t, d.HandleAdminEvent(context.Background(), env))
	require.Equal(t, []string{"component:LM358N:data"}, promoter.keys)

	// Missing reason is dropped, not retried.
	env = envelope(t, "admin.snapshot.promote", PromoteRequest{RedisKey: "component:X:data"})
	require.NoError(t, d.HandleAdminEvent(context.Background(), env))
	require.Len(t, promoter.keys, 1)
}

func TestHandleAuditEvent_RoutesToFieldDiff(t *testing.T) {
	d, _, fieldDiff := newTestDispatcher(t, &countingActivities{})

	env := envelope(t, "customer.bom.audit_ready", AuditReady{BOMID: "bom-1", Label: "20260301"})
	require.NoError(t, d.HandleAuditEvent(context.Background(), env))
	require.Equal(t, []string{"bom-1/20260301"}, fieldDiff.calls)

	// Label defaults to the BOM id when absent.
	env = envelope(t, "customer.bom.audit_ready", AuditReady{BOMID: "bom-2"})
	require.NoError(t, d.HandleAuditEvent(context.Background(), env))
	require.Equal(t, "bom-2/bom-2", fieldDiff.calls[1])

	// Other audit-stream traffic passes through untouched.
	env = envelope(t, "enrichment.component.enriched", map[string]any{"bom_id": "bom-1"})
	require.NoError(t, d.HandleAuditEvent(context.Background(), env))
	require.Len(t, fieldDiff.calls, 2)
}
