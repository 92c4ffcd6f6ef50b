// Package history is the durable, replayable record behind the workflow
// engine. Every state transition a workflow makes — started, enriching,
// paused, resumed, cancelled, batch progress, completed, failed — is
// appended here before the in-memory state advances, so a crashed or
// restarted worker reconstructs a BOM's exact position by folding the
// entries back (see Fold). Entries are hash-chained per workflow using
// canonical JSON encoding, which makes the history tamper-evident and
// gives the audit trail a verifiable spine.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/canonicalize"
)

// Entry is one committed workflow transition.
type Entry struct {
	WorkflowID  string         `json:"workflow_id"`
	Seq         uint64         `json:"seq"`
	Kind        string         `json:"kind"`
	RecordedAt  time.Time      `json:"recorded_at"`
	Payload     map[string]any `json:"payload,omitempty"`
	PayloadHash string         `json:"payload_hash"`
	PrevHash    string         `json:"prev_hash,omitempty"`
	ChainHash   string         `json:"chain_hash"`
}

// Log stores workflow transitions in per-workflow append order. Seq,
// PayloadHash, PrevHash, and ChainHash are assigned by Append;
// callers fill only WorkflowID, Kind, RecordedAt, and Payload.
type Log interface {
	// Append commits entry and returns its assigned sequence number.
	Append(ctx context.Context, entry *Entry) (uint64, error)
	// Range returns entries for workflowID with seq in [start, end],
	// in sequence order. An end of 0 means "through head".
	Range(ctx context.Context, workflowID string, start, end uint64) ([]*Entry, error)
	// Head returns the latest entry for workflowID, or nil if none.
	Head(ctx context.Context, workflowID string) (*Entry, error)
	// Verify walks workflowID's chain and reports whether every link's
	// hash matches its recomputation.
	Verify(ctx context.Context, workflowID string) (bool, error)
}

// seal assigns the content hashes linking entry to prev. Exposed to both
// the memory and Postgres implementations so the chain encoding never
// diverges between backends.
func seal(entry *Entry, prevHash string) error {
	payloadHash, err := canonicalize.CanonicalHash(entry.Payload)
	if err != nil {
		return fmt.Errorf("history: hash payload: %w", err)
	}
	entry.PayloadHash = payloadHash
	entry.PrevHash = prevHash

	chainHash, err := canonicalize.CanonicalHash(map[string]any{
		"workflow_id":  entry.WorkflowID,
		"seq":          entry.Seq,
		"kind":         entry.Kind,
		"payload_hash": entry.PayloadHash,
		"prev_hash":    entry.PrevHash,
	})
	if err != nil {
		return fmt.Errorf("history: hash entry: %w", err)
	}
	entry.ChainHash = chainHash
	return nil
}

// recheck recomputes entry's hashes against prevHash and reports whether
// they match what was committed.
func recheck(entry *Entry, prevHash string) (bool, error) {
	copied := *entry
	if err := seal(&copied, prevHash); err != nil {
		return false, err
	}
	return copied.PayloadHash == entry.PayloadHash && copied.ChainHash == entry.ChainHash, nil
}

// MemoryLog keeps each workflow's chain in process memory. It backs tests
// and single-node deployments; production workers use PostgresLog so a
// replacement worker can resume another's BOM.
type MemoryLog struct {
	mu     sync.RWMutex
	chains map[string][]*Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{chains: make(map[string][]*Entry)}
}

func (l *MemoryLog) Append(ctx context.Context, entry *Entry) (uint64, error) {
	if entry.WorkflowID == "" {
		return 0, fmt.Errorf("history: entry missing workflow id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	chain := l.chains[entry.WorkflowID]
	entry.Seq = uint64(len(chain)) + 1
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	prevHash := ""
	if len(chain) > 0 {
		prevHash = chain[len(chain)-1].ChainHash
	}
	if err := seal(entry, prevHash); err != nil {
		return 0, err
	}
	l.chains[entry.WorkflowID] = append(chain, entry)
	return entry.Seq, nil
}

func (l *MemoryLog) Range(ctx context.Context, workflowID string, start, end uint64) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	chain := l.chains[workflowID]
	if start == 0 {
		start = 1
	}
	if end == 0 || end > uint64(len(chain)) {
		end = uint64(len(chain))
	}
	if start > end {
		return nil, nil
	}
	out := make([]*Entry, 0, end-start+1)
	out = append(out, chain[start-1:end]...)
	return out, nil
}

func (l *MemoryLog) Head(ctx context.Context, workflowID string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	chain := l.chains[workflowID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

func (l *MemoryLog) Verify(ctx context.Context, workflowID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := ""
	for _, entry := range l.chains[workflowID] {
		ok, err := recheck(entry, prevHash)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		prevHash = entry.ChainHash
	}
	return true, nil
}
