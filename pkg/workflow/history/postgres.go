package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresLog is the durable history backend. Appends serialize through a
// per-workflow advisory row (SELECT ... FOR UPDATE on the head) so two
// workers racing on the same workflow cannot fork the chain; in practice
// the engine's workflow lock already prevents that, and the row lock is
// the backstop.
type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

const postgresHistorySchema = `
CREATE TABLE IF NOT EXISTS workflow_history (
	workflow_id  TEXT NOT NULL,
	seq          BIGINT NOT NULL,
	kind         TEXT NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	payload      JSONB,
	payload_hash TEXT NOT NULL,
	prev_hash    TEXT NOT NULL DEFAULT '',
	chain_hash   TEXT NOT NULL,
	PRIMARY KEY (workflow_id, seq)
);
`

func (l *PostgresLog) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, postgresHistorySchema)
	return err
}

func (l *PostgresLog) Append(ctx context.Context, entry *Entry) (uint64, error) {
	if entry.WorkflowID == "" {
		return 0, fmt.Errorf("history: entry missing workflow id")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("history: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastSeq uint64
	var lastHash string
	err = tx.QueryRowContext(ctx, `
		SELECT seq, chain_hash FROM workflow_history
		WHERE workflow_id = $1
		ORDER BY seq DESC LIMIT 1
		FOR UPDATE
	`, entry.WorkflowID).Scan(&lastSeq, &lastHash)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("history: read head: %w", err)
	}

	entry.Seq = lastSeq + 1
	if err := seal(entry, lastHash); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return 0, fmt.Errorf("history: marshal payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_history
			(workflow_id, seq, kind, recorded_at, payload, payload_hash, prev_hash, chain_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.WorkflowID, entry.Seq, entry.Kind, entry.RecordedAt, payload,
		entry.PayloadHash, entry.PrevHash, entry.ChainHash)
	if err != nil {
		return 0, fmt.Errorf("history: insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: commit append: %w", err)
	}
	return entry.Seq, nil
}

func (l *PostgresLog) Range(ctx context.Context, workflowID string, start, end uint64) ([]*Entry, error) {
	if start == 0 {
		start = 1
	}
	query := `
		SELECT seq, kind, recorded_at, payload, payload_hash, prev_hash, chain_hash
		FROM workflow_history
		WHERE workflow_id = $1 AND seq >= $2`
	args := []any{workflowID, start}
	if end > 0 {
		query += ` AND seq <= $3`
		args = append(args, end)
	}
	query += ` ORDER BY seq`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: range: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows, workflowID)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (l *PostgresLog) Head(ctx context.Context, workflowID string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT seq, kind, recorded_at, payload, payload_hash, prev_hash, chain_hash
		FROM workflow_history
		WHERE workflow_id = $1
		ORDER BY seq DESC LIMIT 1
	`, workflowID)
	entry, err := scanEntry(row, workflowID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

func (l *PostgresLog) Verify(ctx context.Context, workflowID string) (bool, error) {
	entries, err := l.Range(ctx, workflowID, 1, 0)
	if err != nil {
		return false, err
	}
	prevHash := ""
	for _, entry := range entries {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, workflowID string) (*Entry, error) {
	var entry Entry
	var payload []byte
	err := row.Scan(&entry.Seq, &entry.Kind, &entry.RecordedAt, &payload,
		&entry.PayloadHash, &entry.PrevHash, &entry.ChainHash)
	if err != nil {
		return nil, err
	}
	entry.WorkflowID = workflowID
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entry.Payload); err != nil {
			return nil, fmt.Errorf("history: decode payload seq %d: %w", entry.Seq, err)
		}
	}
	return &entry, nil
}
