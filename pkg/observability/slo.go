package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SLOTarget is the objective for one pipeline stage over a rolling window.
type SLOTarget struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Stage       string        `json:"stage"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // 0-1
	WindowHours int           `json:"window_hours"`
}

// SLOObservation is one stage execution's outcome.
type SLOObservation struct {
	Stage     string        `json:"stage"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports a stage's compliance at evaluation time. BurnRate
// above 1 means the error budget is draining faster than the window
// allows.
type SLOStatus struct {
	ID               string  `json:"id"`
	Stage            string  `json:"stage"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"`
	ErrorBudgetLeft  float64 `json:"error_budget_left"`
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker accumulates observations per stage and evaluates them
// against targets on demand.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]*SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

func NewSLOTracker() *SLOTracker {
	return &SLOTracker{
		targets:      make(map[string]*SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
}

// WithClock overrides the clock for tests.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget installs or replaces the target for a stage.
func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Stage] = target
}

// Record adds one observation.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	t.observations[obs.Stage] = append(t.observations[obs.Stage], obs)
}

// Status evaluates a stage's current compliance.
func (t *SLOTracker) Status(stage string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[stage]
	if !ok {
		return nil, fmt.Errorf("observability: no SLO target for stage %q", stage)
	}

	now := t.clock()
	windowStart := now.Add(-time.Duration(target.WindowHours) * time.Hour)
	var windowed []SLOObservation
	for _, obs := range t.observations[stage] {
		if obs.Timestamp.After(windowStart) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return &SLOStatus{
			ID: target.ID, Stage: stage,
			InCompliance: true, ErrorBudgetLeft: 100.0,
		}, nil
	}

	successCount := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.Success {
			successCount++
		}
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	successRate := float64(successCount) / float64(len(windowed))

	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate, budgetLeft float64
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = 100.0 * (1.0 - burnRate)
		if budgetLeft < 0 {
			budgetLeft = 0
		}
	}

	return &SLOStatus{
		ID:               target.ID,
		Stage:            stage,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     p99 <= float64(target.LatencyP99.Milliseconds()) && successRate >= target.SuccessRate,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}

// DefaultTargets returns the standing objectives for the pipeline: lines
// enrich within 30 s at 95% success, supplier calls answer within 10 s at
// 99%, finalize completes within 60 s.
func DefaultTargets() []*SLOTarget {
	return []*SLOTarget{
		{ID: "slo-enrich", Name: "Line enrichment", Stage: StageEnrich,
			LatencyP99: 30 * time.Second, SuccessRate: 0.95, WindowHours: 24},
		{ID: "slo-supplier", Name: "Supplier search", Stage: StageSupplier,
			LatencyP99: 10 * time.Second, SuccessRate: 0.99, WindowHours: 24},
		{ID: "slo-finalize", Name: "Audit finalize", Stage: StageFinalize,
			LatencyP99: 60 * time.Second, SuccessRate: 0.99, WindowHours: 24},
	}
}
