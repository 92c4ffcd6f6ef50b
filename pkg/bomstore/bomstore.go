// Package bomstore is the durable, tenant-scoped repository for BOMs and
// their line items (tenant-scoped tables: every query function takes
// a tenantauth.Context and injects organization_id = $N server-side").
// Grounded on pkg/tenants/provisioner.go's schema-beside-type idiom and
// auth.GetTenantID-style scoping, generalized from the single tenants
// table to the BOM/BOMLineItem pair.
package bomstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/tenantauth"
)

// ErrNotFound is returned when a lookup matches no row, or matches a row
// outside the caller's organization.
var ErrNotFound = errors.New("bomstore: bom not found")

// Store is the durable Postgres-backed BOM repository.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS boms (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	project_id TEXT,
	name TEXT NOT NULL,
	source TEXT NOT NULL,
	status TEXT NOT NULL,
	total_items INT NOT NULL,
	uploaded_by TEXT,
	created_at TIMESTAMP NOT NULL,
	metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_boms_org ON boms(organization_id);

CREATE TABLE IF NOT EXISTS bom_line_items (
	id TEXT PRIMARY KEY,
	bom_id TEXT NOT NULL REFERENCES boms(id),
	line_number INT NOT NULL,
	mpn TEXT NOT NULL,
	manufacturer TEXT,
	quantity INT NOT NULL,
	reference_designator TEXT,
	description TEXT,
	enrichment_status TEXT NOT NULL,
	component_id TEXT,
	lifecycle_status TEXT,
	datasheet_url TEXT,
	specifications JSONB,
	pricing JSONB,
	compliance_status TEXT,
	enriched_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_line_items_bom ON bom_line_items(bom_id);

CREATE TABLE IF NOT EXISTS enrichment_events (
	id TEXT PRIMARY KEY,
	bom_id TEXT NOT NULL REFERENCES boms(id),
	organization_id TEXT NOT NULL,
	state TEXT NOT NULL,
	total INT NOT NULL,
	enriched INT NOT NULL,
	failed INT NOT NULL,
	skipped INT NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_bom ON enrichment_events(bom_id);

CREATE TABLE IF NOT EXISTS admin_audit_log (
	id TEXT PRIMARY KEY,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	reason TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);
`

func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Create inserts a new BOM and its parsed line items in one transaction,
// assigning the BOM its ID and CreatedAt.
func (s *Store) Create(ctx context.Context, ac tenantauth.Context, bom *model.BOM, lines []model.BOMLineItem) error {
	if bom.OrganizationID == "" {
		bom.OrganizationID = ac.OrganizationID
	}
	if bom.OrganizationID != ac.OrganizationID && !ac.IsSuperAdmin {
		return tenantauth.ErrForbidden
	}

	bom.ID = uuid.New().String()
	bom.CreatedAt = time.Now().UTC()
	bom.TotalItems = len(lines)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bomstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	meta, err := json.Marshal(bom.Metadata)
	if err != nil {
		return fmt.Errorf("bomstore: marshal metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO boms (id, organization_id, project_id, name, source, status, total_items, uploaded_by, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, bom.ID, bom.OrganizationID, bom.ProjectID, bom.Name, bom.Source, bom.Status, bom.TotalItems, bom.UploadedBy, bom.CreatedAt, meta)
	if err != nil {
		return fmt.Errorf("bomstore: insert bom: %w", err)
	}

	for i := range lines {
		lines[i].ID = uuid.New().String()
		lines[i].BOMID = bom.ID
		if lines[i].EnrichmentStatus == "" {
			lines[i].EnrichmentStatus = model.LineItemPending
		}
		if err := insertLineItem(ctx, tx, lines[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertLineItem(ctx context.Context, tx *sql.Tx, l model.BOMLineItem) error {
	specs, err := json.Marshal(l.Specifications)
	if err != nil {
		return fmt.Errorf("bomstore: marshal specifications for line %d: %w", l.LineNumber, err)
	}
	pricing, err := json.Marshal(l.Pricing)
	if err != nil {
		return fmt.Errorf("bomstore: marshal pricing for line %d: %w", l.LineNumber, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bom_line_items (id, bom_id, line_number, mpn, manufacturer, quantity,
			reference_designator, description, enrichment_status, component_id,
			lifecycle_status, datasheet_url, specifications, pricing, compliance_status, enriched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, l.ID, l.BOMID, l.LineNumber, l.MPN, l.Manufacturer, l.Quantity,
		l.ReferenceDesignator, l.Description, l.EnrichmentStatus, l.ComponentID,
		l.LifecycleStatus, l.DatasheetURL, specs, pricing, l.ComplianceStatus, l.EnrichedAt)
	if err != nil {
		return fmt.Errorf("bomstore: insert line item %d: %w", l.LineNumber, err)
	}
	return nil
}

// Get fetches a BOM by id, scoped to the caller's organization unless the
// caller is super-admin.
func (s *Store) Get(ctx context.Context, ac tenantauth.Context, id string) (*model.BOM, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, project_id, name, source, status, total_items, uploaded_by, created_at, metadata
		FROM boms WHERE id = $1
	`, id)

	var bom model.BOM
	var meta []byte
	if err := row.Scan(&bom.ID, &bom.OrganizationID, &bom.ProjectID, &bom.Name, &bom.Source,
		&bom.Status, &bom.TotalItems, &bom.UploadedBy, &bom.CreatedAt, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bomstore: get bom %s: %w", id, err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &bom.Metadata); err != nil {
			return nil, fmt.Errorf("bomstore: unmarshal metadata for bom %s: %w", id, err)
		}
	}

	if orgID, unrestricted := ac.ScopeOrganization(); !unrestricted && bom.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return &bom, nil
}

// LineItems returns every line item for a BOM, ordered by line number.
func (s *Store) LineItems(ctx context.Context, ac tenantauth.Context, bomID string) ([]model.BOMLineItem, error) {
	if _, err := s.Get(ctx, ac, bomID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bom_id, line_number, mpn, manufacturer, quantity, reference_designator,
			description, enrichment_status, component_id, lifecycle_status, datasheet_url,
			specifications, pricing, compliance_status, enriched_at
		FROM bom_line_items WHERE bom_id = $1 ORDER BY line_number ASC
	`, bomID)
	if err != nil {
		return nil, fmt.Errorf("bomstore: list line items for bom %s: %w", bomID, err)
	}
	defer rows.Close()

	var lines []model.BOMLineItem
	for rows.Next() {
		var l model.BOMLineItem
		var specs, pricing []byte
		if err := rows.Scan(&l.ID, &l.BOMID, &l.LineNumber, &l.MPN, &l.Manufacturer, &l.Quantity,
			&l.ReferenceDesignator, &l.Description, &l.EnrichmentStatus, &l.ComponentID,
			&l.LifecycleStatus, &l.DatasheetURL, &specs, &pricing, &l.ComplianceStatus, &l.EnrichedAt); err != nil {
			return nil, fmt.Errorf("bomstore: scan line item: %w", err)
		}
		if len(specs) > 0 {
			_ = json.Unmarshal(specs, &l.Specifications)
		}
		if len(pricing) > 0 {
			_ = json.Unmarshal(pricing, &l.Pricing)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// UpdateStatus persists the workflow-owned status transition for a BOM.
func (s *Store) UpdateStatus(ctx context.Context, bomID string, status model.BOMStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE boms SET status = $1 WHERE id = $2`, status, bomID)
	if err != nil {
		return fmt.Errorf("bomstore: update status for bom %s: %w", bomID, err)
	}
	return nil
}

// UpdateLineItem persists one line's post-enrichment state.
func (s *Store) UpdateLineItem(ctx context.Context, l model.BOMLineItem) error {
	specs, err := json.Marshal(l.Specifications)
	if err != nil {
		return fmt.Errorf("bomstore: marshal specifications for line %s: %w", l.ID, err)
	}
	pricing, err := json.Marshal(l.Pricing)
	if err != nil {
		return fmt.Errorf("bomstore: marshal pricing for line %s: %w", l.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE bom_line_items SET enrichment_status = $1, component_id = $2, lifecycle_status = $3,
			datasheet_url = $4, specifications = $5, pricing = $6, compliance_status = $7, enriched_at = $8
		WHERE id = $9
	`, l.EnrichmentStatus, l.ComponentID, l.LifecycleStatus, l.DatasheetURL, specs, pricing,
		l.ComplianceStatus, l.EnrichedAt, l.ID)
	if err != nil {
		return fmt.Errorf("bomstore: update line item %s: %w", l.ID, err)
	}
	return nil
}

// RecordProgress appends a progress snapshot, for the customer-facing
// progress history after each batch.
func (s *Store) RecordProgress(ctx context.Context, ev model.EnrichmentEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_events (id, bom_id, organization_id, state, total, enriched, failed, skipped, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New().String(), ev.BOMID, ev.OrganizationID, ev.State, ev.Total, ev.Enriched, ev.Failed, ev.Skipped, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("bomstore: record progress for bom %s: %w", ev.BOMID, err)
	}
	return nil
}

// LatestEnrichment returns the most recent progress row for a BOM — the
// canonical progress indicator. Tenant scoping rides on Get.
func (s *Store) LatestEnrichment(ctx context.Context, ac tenantauth.Context, bomID string) (*model.EnrichmentEvent, error) {
	if _, err := s.Get(ctx, ac, bomID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bom_id, organization_id, state, total, enriched, failed, skipped, recorded_at
		FROM enrichment_events WHERE bom_id = $1 ORDER BY recorded_at DESC LIMIT 1
	`, bomID)

	var ev model.EnrichmentEvent
	if err := row.Scan(&ev.ID, &ev.BOMID, &ev.OrganizationID, &ev.State, &ev.Total,
		&ev.Enriched, &ev.Failed, &ev.Skipped, &ev.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bomstore: latest enrichment for bom %s: %w", bomID, err)
	}
	return &ev, nil
}

// Count returns how many BOMs the caller can see.
func (s *Store) Count(ctx context.Context, ac tenantauth.Context) (int, error) {
	orgID, unrestricted := ac.ScopeOrganization()
	var n int
	var err error
	if unrestricted {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boms`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boms WHERE organization_id = $1`, orgID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("bomstore: count boms: %w", err)
	}
	return n, nil
}

// Delete removes a BOM and cascades its line items and progress rows. It
// requires an admin-or-above actor and a non-empty reason, and it
// fails closed: the admin_audit_log row is written inside the same
// transaction, so a deletion whose audit record cannot persist never
// happens.
func (s *Store) Delete(ctx context.Context, ac tenantauth.Context, bomID, reason string) error {
	if err := ac.RequireRole(tenantauth.RoleAdmin); err != nil {
		return err
	}
	if reason == "" {
		return fmt.Errorf("bomstore: delete requires a reason")
	}

	bom, err := s.Get(ctx, ac, bomID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bomstore: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO admin_audit_log (id, action, resource_type, resource_id, organization_id, actor, reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New().String(), "delete", "bom", bom.ID, bom.OrganizationID, ac.UserID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("bomstore: audit record for delete of bom %s: %w", bomID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM enrichment_events WHERE bom_id = $1`, bom.ID); err != nil {
		return fmt.Errorf("bomstore: delete enrichment events for bom %s: %w", bomID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM bom_line_items WHERE bom_id = $1`, bom.ID); err != nil {
		return fmt.Errorf("bomstore: delete line items for bom %s: %w", bomID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM boms WHERE id = $1`, bom.ID); err != nil {
		return fmt.Errorf("bomstore: delete bom %s: %w", bomID, err)
	}
	return tx.Commit()
}

// List returns every BOM in the caller's organization (or all organizations
// for super-admins), newest first.
func (s *Store) List(ctx context.Context, ac tenantauth.Context) ([]model.BOM, error) {
	orgID, unrestricted := ac.ScopeOrganization()
	var rows *sql.Rows
	var err error
	if unrestricted {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, organization_id, project_id, name, source, status, total_items, uploaded_by, created_at, metadata
			FROM boms ORDER BY created_at DESC
		`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, organization_id, project_id, name, source, status, total_items, uploaded_by, created_at, metadata
			FROM boms WHERE organization_id = $1 ORDER BY created_at DESC
		`, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("bomstore: list boms: %w", err)
	}
	defer rows.Close()

	var out []model.BOM
	for rows.Next() {
		var bom model.BOM
		var meta []byte
		if err := rows.Scan(&bom.ID, &bom.OrganizationID, &bom.ProjectID, &bom.Name, &bom.Source,
			&bom.Status, &bom.TotalItems, &bom.UploadedBy, &bom.CreatedAt, &meta); err != nil {
			return nil, fmt.Errorf("bomstore: scan bom: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &bom.Metadata)
		}
		out = append(out, bom)
	}
	return out, rows.Err()
}
