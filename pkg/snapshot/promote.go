package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/bomerr"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/tenantauth"
)

// CatalogUpserter is the slice of the catalog a promotion needs.
type CatalogUpserter interface {
	Upsert(ctx context.Context, comp model.CatalogComponent) error
}

// SnapshotReader extends the sync Store with the lookups manual promotion
// needs; PostgresStore implements both.
type SnapshotReader interface {
	Get(ctx context.Context, redisKey string) (*model.RedisSnapshot, error)
	MarkPromoted(ctx context.Context, redisKey string) error
}

// Promoter is the admin override path: a staging snapshot (active, below
// the catalog threshold) is pushed into the durable catalog by an operator
// decision, through the same upsert the quality gate uses, and the
// snapshot row is marked promoted so the sweep never deletes the evidence.
type Promoter struct {
	store   SnapshotReader
	catalog CatalogUpserter
}

func NewPromoter(store SnapshotReader, catalog CatalogUpserter) *Promoter {
	return &Promoter{store: store, catalog: catalog}
}

// Promote requires an admin actor and a non-empty reason. Expired or
// already-promoted snapshots are rejected: the component data backing an
// expired row is gone from Redis, and a double promotion is a replay.
func (p *Promoter) Promote(ctx context.Context, ac tenantauth.Context, redisKey, reason string) error {
	if err := ac.RequireRole(tenantauth.RoleAdmin); err != nil {
		return err
	}
	if reason == "" {
		return bomerr.New(bomerr.Validation, "snapshot: promotion requires a reason")
	}

	snap, err := p.store.Get(ctx, redisKey)
	if err != nil {
		return err
	}
	if snap.SyncStatus == model.SyncPromoted {
		return bomerr.New(bomerr.Conflict, "snapshot: already promoted")
	}
	if snap.SyncStatus == model.SyncExpired || time.Now().After(snap.ExpiresAt) {
		return bomerr.New(bomerr.Validation, "snapshot: entry expired, re-enrich instead")
	}

	comp := componentFromSnapshot(snap)
	if err := p.catalog.Upsert(ctx, comp); err != nil {
		return fmt.Errorf("snapshot: promote %s: %w", redisKey, err)
	}
	return p.store.MarkPromoted(ctx, redisKey)
}

func componentFromSnapshot(snap *model.RedisSnapshot) model.CatalogComponent {
	comp := model.CatalogComponent{
		MPN:            snap.MPN,
		Manufacturer:   snap.Manufacturer,
		QualityScore:   snap.QualityScore,
		LifecycleStatus: model.LifecycleUnknown,
		Parameters:     map[string]any{},
		LastVerifiedAt: time.Now().UTC(),
	}
	if v, ok := snap.ComponentData["category"].(string); ok {
		comp.Category = v
	}
	if v, ok := snap.ComponentData["lifecycle_status"].(string); ok && v != "" {
		comp.LifecycleStatus = model.LifecycleStatus(v)
	}
	if v, ok := snap.ComponentData["datasheet_url"].(string); ok {
		comp.DatasheetURL = v
	}
	if v, ok := snap.ComponentData["image_url"].(string); ok {
		comp.ImageURL = v
	}
	if v, ok := snap.ComponentData["parameters"].(map[string]any); ok {
		comp.Parameters = v
	}
	return comp
}
