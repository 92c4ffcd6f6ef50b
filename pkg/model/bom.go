// Package model holds the shared data types for the BOM enrichment pipeline.
package model

import "time"

// BOMSource identifies how a BOM entered the system.
type BOMSource string

const (
	SourceCustomer  BOMSource = "customer"
	SourceStaffBulk BOMSource = "staff_bulk"
	SourceSnapshot  BOMSource = "snapshot"
)

// BOMStatus is the workflow-owned lifecycle state of a BOM.
type BOMStatus string

const (
	BOMParsed     BOMStatus = "parsed"
	BOMEnriching  BOMStatus = "enriching"
	BOMPaused     BOMStatus = "paused"
	BOMCompleted  BOMStatus = "completed"
	BOMFailed     BOMStatus = "failed"
	BOMCancelled  BOMStatus = "cancelled"
)

// BOM is a single uploaded bill of materials.
type BOM struct {
	ID             string
	OrganizationID string
	ProjectID      string
	Name           string
	Source         BOMSource
	Status         BOMStatus
	TotalItems     int
	CreatedAt      time.Time
	UploadedBy     string
	Metadata       map[string]any
}

// LineItemStatus tracks per-line enrichment progress.
type LineItemStatus string

const (
	LineItemPending  LineItemStatus = "pending"
	LineItemEnriched LineItemStatus = "enriched"
	LineItemFailed   LineItemStatus = "failed"
	LineItemSkipped  LineItemStatus = "skipped"
)

// BOMLineItem is one row of an uploaded BOM.
type BOMLineItem struct {
	ID                  string
	BOMID               string
	LineNumber          int
	MPN                 string
	Manufacturer        string
	Quantity            int
	ReferenceDesignator string
	Description         string
	EnrichmentStatus    LineItemStatus
	ComponentID         string
	LifecycleStatus     string
	DatasheetURL        string
	Specifications      map[string]any
	Pricing             map[string]any
	ComplianceStatus    string
	EnrichedAt          *time.Time
}

// Key returns the catalog join key for this line item.
func (l BOMLineItem) Key() (mpn, manufacturer string) {
	return l.MPN, l.Manufacturer
}
