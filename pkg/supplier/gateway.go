package supplier

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/bomerr"
	"github.com/Mindburn-Labs/bomforge/core/pkg/breaker"
	"github.com/Mindburn-Labs/bomforge/core/pkg/ratelimit"
)

// Gateway is the single entry point enrichment activities call to resolve a
// part, fanning out across registered adapters in tier order and applying
// the breaker/rate-limit stack uniformly per adapter.
type Gateway struct {
	registrations []registration
	breakers      map[string]*breaker.Breaker
	limiter       ratelimit.Limiter
	retries       int
	retryBackoff  time.Duration
}

// NewGateway builds a Gateway. limiter is shared across adapters (keyed by
// adapter name, keyed ratelimit:{supplier}); retries is the
// number of attempts per adapter before falling through to the next tier.
func NewGateway(limiter ratelimit.Limiter, retries int, retryBackoff time.Duration) *Gateway {
	return &Gateway{
		breakers:     make(map[string]*breaker.Breaker),
		limiter:      limiter,
		retries:      retries,
		retryBackoff: retryBackoff,
	}
}

// Register adds an adapter at the given tier. Adapters registered at the
// same tier are tried in registration order.
func (g *Gateway) Register(adapter Adapter, tier Tier, breakerCfg breaker.Config) {
	g.registrations = append(g.registrations, registration{adapter: adapter, tier: tier})
	g.breakers[adapter.Name()] = breaker.New(adapter.Name(), breakerCfg)
	sort.SliceStable(g.registrations, func(i, j int) bool {
		return g.registrations[i].tier < g.registrations[j].tier
	})
}

// Attempt records one adapter's outcome within a single Lookup call. The
// full trail feeds the vendor_responses audit object so a rejected
// line still carries the raw evidence of every supplier that was tried.
type Attempt struct {
	Supplier string
	Success  bool
	Error    string        `json:"error,omitempty"`
	Result   *LookupResult `json:"result,omitempty"`
}

// Lookup resolves a part by iterating adapters in tier order. An adapter is
// skipped entirely while its breaker is open. The first successful lookup
// wins; if every adapter fails, Lookup returns the last error wrapped as
// bomerr.PermanentDownstream.
func (g *Gateway) Lookup(ctx context.Context, mpn, manufacturer string) (*LookupResult, error) {
	result, _, err := g.LookupTrail(ctx, mpn, manufacturer)
	return result, err
}

// LookupTrail behaves like Lookup but also returns the per-adapter attempt
// trail in tier order, so callers can audit every supplier response (not
// just the winner) without a second round of calls.
func (g *Gateway) LookupTrail(ctx context.Context, mpn, manufacturer string) (*LookupResult, []Attempt, error) {
	if len(g.registrations) == 0 {
		return nil, nil, bomerr.New(bomerr.CoordinatorFatal, "supplier: no adapters registered")
	}

	var lastErr error
	var trail []Attempt
	for _, reg := range g.registrations {
		name := reg.adapter.Name()
		b := g.breakers[name]
		if !b.Allow() {
			lastErr = fmt.Errorf("supplier: %s circuit open", name)
			trail = append(trail, Attempt{Supplier: name, Error: lastErr.Error()})
			continue
		}

		result, err := g.lookupWithRetry(ctx, reg.adapter, mpn, manufacturer)
		if err != nil {
			b.Failure()
			lastErr = err
			trail = append(trail, Attempt{Supplier: name, Error: err.Error()})
			continue
		}
		b.Success()
		trail = append(trail, Attempt{Supplier: name, Success: true, Result: result})
		return result, trail, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("supplier: no adapter returned a result for %s/%s", manufacturer, mpn)
	}
	return nil, trail, bomerr.Wrap(bomerr.PermanentDownstream, lastErr)
}

func (g *Gateway) lookupWithRetry(ctx context.Context, adapter Adapter, mpn, manufacturer string) (*LookupResult, error) {
	var lastErr error
	attempts := g.retries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err := g.limiter.Wait(ctx, adapter.Name(), 1); err != nil {
			return nil, err
		}
		result, err := adapter.Lookup(ctx, mpn, manufacturer)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !bomerr.IsRetryable(err) {
			return nil, err
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffWithJitter(g.retryBackoff, i)):
			}
		}
	}
	return nil, lastErr
}

// maxRetryBackoff caps the exponential curve so a high attempt count
// never parks a line for minutes.
const maxRetryBackoff = 10 * time.Second

// backoffWithJitter computes base * 2^attempt plus up to 50ms of jitter,
// so retrying workers hitting the same outage fan out instead of
// hammering the supplier in lockstep.
func backoffWithJitter(base time.Duration, attempt int) time.Duration {
	backoff := base * time.Duration(1<<attempt)
	if backoff > maxRetryBackoff {
		backoff = maxRetryBackoff
	}
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		jitter = time.Duration(n.Int64()) * time.Millisecond
	}
	return backoff + jitter
}
