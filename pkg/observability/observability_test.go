package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/observability"
)

func TestDisabledProviderIsInertAndSafe(t *testing.T) {
	p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordLine(ctx, observability.LineAttrs("bom-1", 1, "LM358N", "enriched")...)
	p.RecordSupplierCall(ctx, 120*time.Millisecond, observability.SupplierCallAttrs("mouser", "ok", 1)...)
	p.RecordPromotion(ctx, observability.PromotionAttrs("LM358N", "production", 92)...)

	_, done := p.TrackWorkflow(ctx, "bom-1")
	done(nil)

	require.NoError(t, p.Shutdown(ctx))

	var nilProvider *observability.Provider
	nilProvider.RecordLine(ctx)
	require.NoError(t, nilProvider.Shutdown(ctx))
}

func TestSLIRegistry_RegisterAndLookupByStage(t *testing.T) {
	r := observability.NewSLIRegistry()

	for _, sli := range observability.DefaultSLIs([]string{"mouser", "digikey"}) {
		require.NoError(t, r.Register(sli))
	}
	require.Equal(t, 4, r.Count())

	supplierSLIs := r.ByStage(observability.StageSupplier)
	require.Len(t, supplierSLIs, 2)
	require.Equal(t, "mouser", supplierSLIs[0].Supplier)

	require.NoError(t, r.LinkToSLO("sli-enrich-success", "slo-enrich"))
	got, err := r.Get("sli-enrich-success")
	require.NoError(t, err)
	require.Equal(t, "slo-enrich", got.LinkedSLOID)
}

func TestSLIRegistry_RejectsIncompleteDefinition(t *testing.T) {
	r := observability.NewSLIRegistry()
	err := r.Register(&observability.SLI{ID: "x"})
	require.Error(t, err)
}

func TestSLOTracker_ComplianceAndBurnRate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := observability.NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&observability.SLOTarget{
		ID: "slo-enrich", Stage: observability.StageEnrich,
		LatencyP99: time.Second, SuccessRate: 0.9, WindowHours: 1,
	})

	for i := 0; i < 95; i++ {
		tracker.Record(observability.SLOObservation{
			Stage: observability.StageEnrich, Latency: 100 * time.Millisecond, Success: true,
			Timestamp: now.Add(-time.Minute),
		})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(observability.SLOObservation{
			Stage: observability.StageEnrich, Latency: 200 * time.Millisecond, Success: false,
			Timestamp: now.Add(-time.Minute),
		})
	}

	status, err := tracker.Status(observability.StageEnrich)
	require.NoError(t, err)
	require.True(t, status.InCompliance)
	require.InDelta(t, 0.95, status.CurrentSuccess, 0.001)
	require.InDelta(t, 0.5, status.BurnRate, 0.001)
	require.Equal(t, 100, status.ObservationCount)
}

func TestSLOTracker_ObservationsOutsideWindowIgnored(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := observability.NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&observability.SLOTarget{
		ID: "slo-supplier", Stage: observability.StageSupplier,
		LatencyP99: time.Second, SuccessRate: 0.99, WindowHours: 1,
	})

	tracker.Record(observability.SLOObservation{
		Stage: observability.StageSupplier, Success: false,
		Timestamp: now.Add(-2 * time.Hour),
	})

	status, err := tracker.Status(observability.StageSupplier)
	require.NoError(t, err)
	require.True(t, status.InCompliance)
	require.Zero(t, status.ObservationCount)
}

func TestSLOTracker_UnknownStage(t *testing.T) {
	_, err := observability.NewSLOTracker().Status("no-such-stage")
	require.Error(t, err)
}

func TestTimeline_RecordAssignsIDsAndHashes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := observability.NewEnrichmentTimeline().WithClock(func() time.Time { return now })

	require.NoError(t, tl.Record(observability.TimelineEntry{
		EntryType:      observability.EntryTypeState,
		BOMID:          "bom-1",
		OrganizationID: "org-a",
		Summary:        "workflow started",
		Details:        map[string]any{"total_items": 3},
	}))
	require.Equal(t, 1, tl.Count())

	got := tl.Query(observability.TimelineQuery{BOMID: "bom-1"})
	require.Len(t, got, 1)
	require.Equal(t, "tl-1", got[0].EntryID)
	require.Contains(t, got[0].ContentHash, "sha256:")
	require.Equal(t, now, got[0].Timestamp)
}

func TestTimeline_QueryFiltersByOrganization(t *testing.T) {
	tl := observability.NewEnrichmentTimeline()
	require.NoError(t, tl.Record(observability.TimelineEntry{
		EntryType: observability.EntryTypeLine, BOMID: "bom-1", OrganizationID: "org-a", Summary: "line 1 enriched",
	}))
	require.NoError(t, tl.Record(observability.TimelineEntry{
		EntryType: observability.EntryTypeLine, BOMID: "bom-2", OrganizationID: "org-b", Summary: "line 1 enriched",
	}))

	require.Len(t, tl.Query(observability.TimelineQuery{OrganizationID: "org-a"}), 1)
	require.Empty(t, tl.Query(observability.TimelineQuery{BOMID: "bom-1", OrganizationID: "org-b"}),
		"tenant filter applies even when the BOM id matches")
}

func TestTimeline_QueryFiltersByTypeTimeAndLimit(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	tl := observability.NewEnrichmentTimeline().WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, tl.Record(observability.TimelineEntry{
			EntryType: observability.EntryTypeSupplier, BOMID: "bom-3", Summary: "supplier call",
		}))
	}
	require.NoError(t, tl.Record(observability.TimelineEntry{
		EntryType: observability.EntryTypeSignal, BOMID: "bom-3", Actor: "ops@example.com", Summary: "paused",
	}))

	sup := observability.EntryTypeSupplier
	got := tl.Query(observability.TimelineQuery{BOMID: "bom-3", EntryType: &sup, Limit: 3})
	require.Len(t, got, 3)

	after := base.Add(5 * time.Minute)
	got = tl.Query(observability.TimelineQuery{BOMID: "bom-3", After: &after})
	require.Len(t, got, 2)
}
