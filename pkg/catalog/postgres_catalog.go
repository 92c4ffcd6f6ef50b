// Package catalog is the durable, tenant-agnostic component store:
// a part promoted past the quality-score promotion threshold is upserted
// here, keyed by (mpn, manufacturer) so repeated enrichments of the same
// part across tenants converge on one row. Built on the
// registry.PostgresRegistry upsert-by-(name,version) pattern, re-keyed to
// the BOM domain's (mpn, manufacturer) composite.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

var ErrNotFound = errors.New("catalog: component not found")

// StalenessWindow is how long a catalog row is trusted after its last
// verification; rows older than this are overwritten by any fresh
// re-enrichment, even a lower-scoring one, and pre-filter hits against
// them re-enrich instead of skipping.
const StalenessWindow = 90 * 24 * time.Hour

type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

const pgCatalogSchema = `
CREATE TABLE IF NOT EXISTS catalog_components (
	id TEXT PRIMARY KEY,
	mpn TEXT NOT NULL,
	manufacturer TEXT NOT NULL,
	category TEXT,
	quality_score INT NOT NULL,
	lifecycle_status TEXT NOT NULL,
	datasheet_url TEXT,
	image_url TEXT,
	parameters_json JSONB,
	rohs_compliant BOOLEAN,
	reach_compliant BOOLEAN,
	last_verified_at TIMESTAMP NOT NULL,
	UNIQUE (mpn, manufacturer)
);
`

func (c *PostgresCatalog) Init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, pgCatalogSchema)
	return err
}

// Upsert writes comp keyed by (mpn, manufacturer). An existing row is
// replaced when the new quality score is not lower, or when the row's
// last verification is older than StalenessWindow — a fresh re-enrichment
// refreshes a stale record even at a lower score, but a recent
// high-confidence row is never regressed by a weaker one.
func (c *PostgresCatalog) Upsert(ctx context.Context, comp model.CatalogComponent) error {
	if comp.ID == "" {
		comp.ID = uuid.NewString()
	}
	if comp.LastVerifiedAt.IsZero() {
		comp.LastVerifiedAt = time.Now().UTC()
	}

	params, err := json.Marshal(comp.Parameters)
	if err != nil {
		return fmt.Errorf("catalog: marshal parameters: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO catalog_components
			(id, mpn, manufacturer, category, quality_score, lifecycle_status,
			 datasheet_url, image_url, parameters_json, rohs_compliant, reach_compliant, last_verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (mpn, manufacturer) DO UPDATE SET
			category = EXCLUDED.category,
			quality_score = EXCLUDED.quality_score,
			lifecycle_status = EXCLUDED.lifecycle_status,
			datasheet_url = EXCLUDED.datasheet_url,
			image_url = EXCLUDED.image_url,
			parameters_json = EXCLUDED.parameters_json,
			rohs_compliant = EXCLUDED.rohs_compliant,
			reach_compliant = EXCLUDED.reach_compliant,
			last_verified_at = EXCLUDED.last_verified_at
		WHERE catalog_components.quality_score <= EXCLUDED.quality_score
		   OR catalog_components.last_verified_at < $13
	`, comp.ID, comp.MPN, comp.Manufacturer, comp.Category, comp.QualityScore, comp.LifecycleStatus,
		comp.DatasheetURL, comp.ImageURL, params, comp.RohsCompliant, comp.ReachCompliant, comp.LastVerifiedAt,
		time.Now().UTC().Add(-StalenessWindow))
	if err != nil {
		return fmt.Errorf("catalog: upsert failed for %s/%s: %w", comp.Manufacturer, comp.MPN, err)
	}
	return nil
}

func (c *PostgresCatalog) Get(ctx context.Context, mpn, manufacturer string) (*model.CatalogComponent, error) {
	var comp model.CatalogComponent
	var params []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT id, mpn, manufacturer, category, quality_score, lifecycle_status,
		       datasheet_url, image_url, parameters_json, rohs_compliant, reach_compliant, last_verified_at
		FROM catalog_components WHERE mpn = $1 AND manufacturer = $2
	`, mpn, manufacturer).Scan(&comp.ID, &comp.MPN, &comp.Manufacturer, &comp.Category, &comp.QualityScore,
		&comp.LifecycleStatus, &comp.DatasheetURL, &comp.ImageURL, &params, &comp.RohsCompliant, &comp.ReachCompliant, &comp.LastVerifiedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get failed for %s/%s: %w", manufacturer, mpn, err)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &comp.Parameters); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal parameters: %w", err)
		}
	}
	return &comp, nil
}

// IsStale reports whether comp was last verified before the staleness
// window: stale catalog
// entries are re-enriched rather than served as-is.
func IsStale(comp model.CatalogComponent, stalenessWindow time.Duration) bool {
	return time.Since(comp.LastVerifiedAt) > stalenessWindow
}
