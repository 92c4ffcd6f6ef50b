// Package supplier composes the per-vendor adapters (Mouser, DigiKey,
// Element14, ...) behind one Gateway that applies the resiliency stack
// (circuit breaker, rate limit, retry) uniformly and falls through the
// registered adapters in priority order until one returns a result. The
// first result is returned whatever its MatchConfidence; the Gateway
// applies no confidence threshold.
package supplier

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

// LookupResult is what an Adapter returns for a single part lookup.
type LookupResult struct {
	Component      model.CatalogComponent
	MatchConfidence float64 // 0..1, how sure the adapter is this is the right part
	RetrievedAt    time.Time
}

// Adapter is implemented by each supplier's client.
type Adapter interface {
	// Name identifies the adapter for breaker/limiter keys and audit trails.
	Name() string
	// Lookup fetches a single component by MPN and (optional) manufacturer.
	Lookup(ctx context.Context, mpn, manufacturer string) (*LookupResult, error)
}

// Tier ranks adapters for priority-ordered fallback; lower tiers are tried
// first.
type Tier int

const (
	TierPrimary   Tier = 0
	TierSecondary Tier = 1
	TierFallback  Tier = 2
)

type registration struct {
	adapter Adapter
	tier    Tier
}
