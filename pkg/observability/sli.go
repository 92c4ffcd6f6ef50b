package observability

import (
	"fmt"
	"sync"
)

// Pipeline stages an SLI can attach to.
const (
	StageVerify    = "verify_snapshot"
	StagePrefilter = "bulk_prefilter"
	StageEnrich    = "enrich_line"
	StageSupplier  = "supplier_call"
	StagePromote   = "promote"
	StageFinalize  = "finalize"
)

// SLISource tells where an indicator's numbers come from.
type SLISource string

const (
	SLISourceMetric SLISource = "METRIC"
	SLISourceLog    SLISource = "LOG"
	SLISourceProbe  SLISource = "PROBE"
)

// SLI is a service level indicator for one pipeline stage. Supplier is set
// only for supplier-scoped indicators (per-adapter availability).
type SLI struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Stage           string    `json:"stage"`
	Supplier        string    `json:"supplier,omitempty"`
	Source          SLISource `json:"source"`
	Unit            string    `json:"unit"`
	GoodEventQuery  string    `json:"good_event_query"`
	TotalEventQuery string    `json:"total_event_query"`
	LinkedSLOID     string    `json:"linked_slo_id,omitempty"`
}

// SLIRegistry holds the worker's indicator definitions, looked up by
// stage when the SLO tracker evaluates compliance.
type SLIRegistry struct {
	mu      sync.Mutex
	byID    map[string]*SLI
	byStage map[string][]string
}

func NewSLIRegistry() *SLIRegistry {
	return &SLIRegistry{
		byID:    make(map[string]*SLI),
		byStage: make(map[string][]string),
	}
}

// Register adds an indicator; id, name, and stage are required.
func (r *SLIRegistry) Register(sli *SLI) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sli.ID == "" || sli.Name == "" || sli.Stage == "" {
		return fmt.Errorf("observability: SLI requires id, name, and stage")
	}
	r.byID[sli.ID] = sli
	r.byStage[sli.Stage] = append(r.byStage[sli.Stage], sli.ID)
	return nil
}

func (r *SLIRegistry) Get(id string) (*SLI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sli, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("observability: SLI %q not registered", id)
	}
	return sli, nil
}

// ByStage returns every indicator registered for a stage.
func (r *SLIRegistry) ByStage(stage string) []*SLI {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*SLI
	for _, id := range r.byStage[stage] {
		out = append(out, r.byID[id])
	}
	return out
}

// LinkToSLO attaches an indicator to the SLO that consumes it.
func (r *SLIRegistry) LinkToSLO(sliID, sloID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sli, ok := r.byID[sliID]
	if !ok {
		return fmt.Errorf("observability: SLI %q not registered", sliID)
	}
	sli.LinkedSLOID = sloID
	return nil
}

func (r *SLIRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// DefaultSLIs returns the worker's standing indicators: line enrichment
// success, supplier availability per adapter, and finalize latency.
func DefaultSLIs(suppliers []string) []*SLI {
	slis := []*SLI{
		{
			ID: "sli-enrich-success", Name: "Line enrichment success ratio",
			Stage: StageEnrich, Source: SLISourceMetric, Unit: "%",
			GoodEventQuery:  `bomforge.enrichment.lines{status="enriched"}`,
			TotalEventQuery: `bomforge.enrichment.lines`,
		},
		{
			ID: "sli-finalize-latency", Name: "Audit finalize latency",
			Stage: StageFinalize, Source: SLISourceMetric, Unit: "s",
			GoodEventQuery:  `bomforge.workflow.duration_s < 30`,
			TotalEventQuery: `bomforge.workflows.active`,
		},
	}
	for _, s := range suppliers {
		slis = append(slis, &SLI{
			ID: "sli-supplier-" + s, Name: s + " availability",
			Stage: StageSupplier, Supplier: s, Source: SLISourceMetric, Unit: "%",
			GoodEventQuery:  fmt.Sprintf(`bomforge.supplier.call.duration{name=%q,outcome="ok"}`, s),
			TotalEventQuery: fmt.Sprintf(`bomforge.supplier.call.duration{name=%q}`, s),
		})
	}
	return slis
}
