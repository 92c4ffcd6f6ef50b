// Package fielddiff is the downstream consumer of customer.bom.audit_ready
// consumer: it loads the original-BOM CSV and the finalized normalized_data
// CSV, computes a per-field before/after/change-reason row for every line,
// and writes a fourth CSV omitting rows where nothing changed. It attaches
// to the event bus without coupling to the workflow engine, matching the
// progress events without the workflow knowing it exists.
package fielddiff

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/Mindburn-Labs/bomforge/core/pkg/blobstore"
)

// Row is one field-level difference.
type Row struct {
	LineNumber   string
	Field        string
	Before       string
	After        string
	ChangeReason string
}

// Worker computes and persists field-diff reports.
type Worker struct {
	blobs blobstore.Store
}

func NewWorker(blobs blobstore.Store) *Worker {
	return &Worker{blobs: blobs}
}

// diffFields lists the columns compared between the original BOM and the
// enrichment's normalized result.
var diffFields = []string{"manufacturer", "category", "unit_price", "lifecycle_status", "datasheet_url"}

// HandleAuditReady processes one customer.bom.audit_ready event: bomID and
// label identify the finalized CSVs to diff.
func (w *Worker) HandleAuditReady(ctx context.Context, bomID, label string) error {
	original, err := w.readCSVByLine(ctx, blobstore.OriginalBOMKey(bomID, label))
	if err != nil {
		return fmt.Errorf("fielddiff: read original bom: %w", err)
	}
	normalized, err := w.readCSVByLine(ctx, blobstore.FinalizedCSVKey(bomID, blobstore.KindNormalizedData, label))
	if err != nil {
		return fmt.Errorf("fielddiff: read normalized data: %w", err)
	}

	var rows []Row
	for lineNumber, before := range original {
		after, ok := normalized[lineNumber]
		if !ok {
			continue
		}
		for _, field := range diffFields {
			b, a := before[field], after[field]
			if b == a {
				continue
			}
			reason := "enriched"
			if b == "" {
				reason = "field_added"
			}
			rows = append(rows, Row{LineNumber: lineNumber, Field: field, Before: b, After: a, ChangeReason: reason})
		}
	}

	return w.writeReport(ctx, bomID, label, rows)
}

func (w *Worker) readCSVByLine(ctx context.Context, key string) (map[string]map[string]string, error) {
	data, err := w.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(data))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", key, err)
	}
	if len(records) == 0 {
		return map[string]map[string]string{}, nil
	}

	header := records[0]
	lineIdx := -1
	for i, h := range header {
		if h == "line_number" {
			lineIdx = i
			break
		}
	}
	if lineIdx == -1 {
		return nil, fmt.Errorf("csv %s missing line_number column", key)
	}

	byLine := make(map[string]map[string]string, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		byLine[rec[lineIdx]] = row
	}
	return byLine, nil
}

func (w *Worker) writeReport(ctx context.Context, bomID, label string, rows []Row) error {
	buf := &bytes.Buffer{}
	cw := csv.NewWriter(buf)
	if err := cw.Write([]string{"line_number", "field", "before", "after", "change_reason"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.LineNumber, r.Field, r.Before, r.After, r.ChangeReason}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("fielddiff: flush csv: %w", err)
	}
	return w.blobs.Put(ctx, blobstore.FieldDiffKey(bomID, label), buf.Bytes(), "text/csv")
}
