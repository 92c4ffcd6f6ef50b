package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/canonicalize"
)

// TimelineEntryType categorizes enrichment timeline entries.
type TimelineEntryType string

const (
	EntryTypeState     TimelineEntryType = "STATE"
	EntryTypeLine      TimelineEntryType = "LINE"
	EntryTypeSupplier  TimelineEntryType = "SUPPLIER_CALL"
	EntryTypePromotion TimelineEntryType = "PROMOTION"
	EntryTypeSignal    TimelineEntryType = "SIGNAL"
	EntryTypeExport    TimelineEntryType = "EXPORT"
)

// TimelineEntry is one auditable moment in a BOM's enrichment: a state
// transition, a line outcome, a supplier call, a promotion decision, an
// operator signal, or an export. ContentHash is computed over Details at
// record time so entries can be cross-checked against the blob-store
// audit objects.
type TimelineEntry struct {
	EntryID        string            `json:"entry_id"`
	EntryType      TimelineEntryType `json:"entry_type"`
	BOMID          string            `json:"bom_id"`
	OrganizationID string            `json:"organization_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Actor          string            `json:"actor,omitempty"`
	Summary        string            `json:"summary"`
	ContentHash    string            `json:"content_hash"`
	Details        map[string]any    `json:"details,omitempty"`
}

// TimelineQuery filters entries. OrganizationID is mandatory for
// non-operator callers; the HTTP layer fills it from the auth context so
// one tenant can never page through another's timeline.
type TimelineQuery struct {
	BOMID          string             `json:"bom_id,omitempty"`
	OrganizationID string             `json:"organization_id,omitempty"`
	EntryType      *TimelineEntryType `json:"entry_type,omitempty"`
	After          *time.Time         `json:"after,omitempty"`
	Before         *time.Time         `json:"before,omitempty"`
	Limit          int                `json:"limit,omitempty"`
}

// EnrichmentTimeline collects and queries timeline entries in memory,
// indexed by BOM id.
type EnrichmentTimeline struct {
	mu      sync.RWMutex
	entries []TimelineEntry
	byBOM   map[string][]int
	seq     int64
	clock   func() time.Time
}

func NewEnrichmentTimeline() *EnrichmentTimeline {
	return &EnrichmentTimeline{
		byBOM: make(map[string][]int),
		clock: time.Now,
	}
}

// WithClock overrides the clock for tests.
func (t *EnrichmentTimeline) WithClock(clock func() time.Time) *EnrichmentTimeline {
	t.clock = clock
	return t
}

// Record appends an entry, assigning its id, timestamp, and content hash.
func (t *EnrichmentTimeline) Record(entry TimelineEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	if entry.EntryID == "" {
		entry.EntryID = fmt.Sprintf("tl-%d", t.seq)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.clock()
	}

	hash, err := canonicalize.CanonicalHash(entry.Details)
	if err != nil {
		return fmt.Errorf("observability: hash timeline entry: %w", err)
	}
	entry.ContentHash = "sha256:" + hash

	idx := len(t.entries)
	t.entries = append(t.entries, entry)
	if entry.BOMID != "" {
		t.byBOM[entry.BOMID] = append(t.byBOM[entry.BOMID], idx)
	}
	return nil
}

// Query returns matching entries in timestamp order.
func (t *EnrichmentTimeline) Query(q TimelineQuery) []TimelineEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []TimelineEntry
	if q.BOMID != "" {
		for _, i := range t.byBOM[q.BOMID] {
			candidates = append(candidates, t.entries[i])
		}
	} else {
		candidates = append(candidates, t.entries...)
	}

	var results []TimelineEntry
	for _, e := range candidates {
		if q.OrganizationID != "" && e.OrganizationID != q.OrganizationID {
			continue
		}
		if q.EntryType != nil && e.EntryType != *q.EntryType {
			continue
		}
		if q.After != nil && e.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && e.Timestamp.After(*q.Before) {
			continue
		}
		results = append(results, e)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

// Count returns the total number of entries recorded.
func (t *EnrichmentTimeline) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
