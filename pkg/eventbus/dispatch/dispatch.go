// Package dispatch translates stream deliveries into workflow actions:
// bom.parsed starts an enrichment workflow under its deterministic id,
// admin signals pause/resume/cancel a running one, component.enrich.*
// runs the smaller single-component workflow, and audit_ready hands off
// to the field-diff worker. Consumers are at-least-once; every handler
// here tolerates replay.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/bomforge/core/pkg/bomerr"
	"github.com/Mindburn-Labs/bomforge/core/pkg/config"
	"github.com/Mindburn-Labs/bomforge/core/pkg/eventbus"
	"github.com/Mindburn-Labs/bomforge/core/pkg/idempotency"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/tenantauth"
	"github.com/Mindburn-Labs/bomforge/core/pkg/workflow/engine"
)

// BOMParsed is the bom.parsed payload the ingestion side publishes.
type BOMParsed struct {
	BOMID          string `json:"bom_id"`
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id,omitempty"`
	Source         string `json:"source"`
	BOMName        string `json:"bom_name"`
	UploadedBy     string `json:"uploaded_by"`
	ParsedS3Key    string `json:"parsed_s3_key"`
}

// bomParsedSchema rejects malformed ingestion payloads before any
// database load happens; a payload failing here is dropped (acked), not
// redelivered forever.
const bomParsedSchema = `{
	"type": "object",
	"required": ["bom_id", "organization_id", "source"],
	"properties": {
		"bom_id":          {"type": "string", "minLength": 1},
		"organization_id": {"type": "string", "minLength": 1},
		"project_id":      {"type": "string"},
		"source":          {"type": "string", "enum": ["customer", "staff_bulk", "snapshot"]},
		"bom_name":        {"type": "string"},
		"uploaded_by":     {"type": "string"},
		"parsed_s3_key":   {"type": "string"}
	}
}`

// ComponentRequest is the component.enrich.request|force payload; Batch
// carries the serial variant.
type ComponentRequest struct {
	MPN          string `json:"mpn"`
	Manufacturer string `json:"manufacturer,omitempty"`
	RequestedBy  string `json:"requested_by,omitempty"`
}

type ComponentBatch struct {
	Items       []ComponentRequest `json:"items"`
	RequestedBy string             `json:"requested_by,omitempty"`
}

// AdminSignal addresses a running workflow by its deterministic id.
type AdminSignal struct {
	WorkflowID string `json:"workflow_id"`
	Actor      string `json:"actor,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// AuditReady announces finalized audit CSVs for the field-diff worker.
type AuditReady struct {
	BOMID string   `json:"bom_id"`
	Label string   `json:"label"`
	Files []string `json:"files,omitempty"`
}

// PromoteRequest is the admin.snapshot.promote payload, published by the
// admin HTTP surface after it has authenticated the actor.
type PromoteRequest struct {
	RedisKey string `json:"redis_key"`
	Actor    string `json:"actor"`
	Reason   string `json:"reason"`
}

// Promoter pushes a staging snapshot into the durable catalog.
type Promoter interface {
	Promote(ctx context.Context, ac tenantauth.Context, redisKey, reason string) error
}

// BOMLoader is the slice of the BOM store the dispatcher needs.
type BOMLoader interface {
	Get(ctx context.Context, ac tenantauth.Context, id string) (*model.BOM, error)
	LineItems(ctx context.Context, ac tenantauth.Context, bomID string) ([]model.BOMLineItem, error)
}

// TunablesSource snapshots runtime configuration at workflow start.
type TunablesSource interface {
	Snapshot(ctx context.Context) (config.Tunables, error)
}

// FieldDiffWorker consumes audit_ready announcements.
type FieldDiffWorker interface {
	HandleAuditReady(ctx context.Context, bomID, label string) error
}

// Dispatcher owns one worker's consumer handlers. Workflows are started
// on background goroutines so a long enrichment never stalls the
// delivery channel; the engine's per-BOM lock keeps concurrent starts
// single-winner.
type Dispatcher struct {
	engine    *engine.Engine
	boms      BOMLoader
	tunables  TunablesSource
	idem      idempotency.Store
	fieldDiff FieldDiffWorker
	promoter  Promoter
	logger    *slog.Logger
	schema    *jsonschema.Schema

	// batchItemDelay spaces serial batch items; overridable in tests.
	batchItemDelay time.Duration
}

func New(eng *engine.Engine, boms BOMLoader, tunables TunablesSource, idem idempotency.Store, fieldDiff FieldDiffWorker) (*Dispatcher, error) {
	schema, err := jsonschema.CompileString("bom_parsed.json", bomParsedSchema)
	if err != nil {
		return nil, fmt.Errorf("dispatch: compile bom.parsed schema: %w", err)
	}
	return &Dispatcher{
		engine:         eng,
		boms:           boms,
		tunables:       tunables,
		idem:           idem,
		fieldDiff:      fieldDiff,
		logger:         slog.Default().With("component", "dispatch"),
		schema:         schema,
		batchItemDelay: 500 * time.Millisecond,
	}, nil
}

// WithPromoter attaches the manual-promotion path; without one,
// admin.snapshot.promote events are logged and dropped.
func (d *Dispatcher) WithPromoter(p Promoter) *Dispatcher {
	d.promoter = p
	return d
}

// HandleBOMEvent is the stream.platform.bom handler.
func (d *Dispatcher) HandleBOMEvent(ctx context.Context, env eventbus.Envelope) error {
	if env.EventType != "bom.parsed" {
		return nil
	}

	var generic any
	if err := json.Unmarshal(env.Payload, &generic); err != nil {
		d.logger.Error("bom.parsed payload is not JSON", "event_id", env.EventID, "error", err)
		return nil
	}
	if err := d.schema.Validate(generic); err != nil {
		d.logger.Error("bom.parsed payload rejected", "event_id", env.EventID, "error", err)
		return nil
	}
	var payload BOMParsed
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("dispatch: decode bom.parsed: %w", err)
	}

	system := tenantauth.Context{IsSuperAdmin: true}
	bom, err := d.boms.Get(ctx, system, payload.BOMID)
	if err != nil {
		return fmt.Errorf("dispatch: load bom %s: %w", payload.BOMID, err)
	}
	lines, err := d.boms.LineItems(ctx, system, payload.BOMID)
	if err != nil {
		return fmt.Errorf("dispatch: load line items for bom %s: %w", payload.BOMID, err)
	}
	tunables, err := d.tunables.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: snapshot tunables: %w", err)
	}

	d.startWorkflow(ctx, bom, lines, tunables)
	return nil
}

// startWorkflow launches the workflow off the delivery goroutine. A
// Conflict from the engine means another start already owns this BOM —
// the reject-duplicate policy — and is logged and dropped.
func (d *Dispatcher) startWorkflow(ctx context.Context, bom *model.BOM, lines []model.BOMLineItem, tunables config.Tunables) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("workflow panicked", "bom_id", bom.ID, "panic", r)
			}
		}()
		err := d.engine.Run(ctx, bom, lines, tunables)
		switch {
		case err == nil:
		case bomerr.Is(err, bomerr.Conflict):
			d.logger.Info("duplicate workflow start dropped",
				"workflow_id", engine.WorkflowID(bom.ID))
		default:
			d.logger.Error("workflow ended with error", "bom_id", bom.ID, "error", err)
		}
	}()
}

// HandleAdminEvent is the stream.platform.admin handler.
func (d *Dispatcher) HandleAdminEvent(ctx context.Context, env eventbus.Envelope) error {
	if env.EventType == "admin.snapshot.promote" {
		return d.handlePromote(ctx, env)
	}
	sig, ok := adminSignalFor(env.EventType)
	if !ok {
		return nil
	}
	var payload AdminSignal
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		d.logger.Error("admin signal payload rejected", "event_id", env.EventID, "error", err)
		return nil
	}
	bomID := strings.TrimPrefix(payload.WorkflowID, "bom-enrichment-")
	if bomID == "" {
		d.logger.Error("admin signal missing workflow_id", "event_id", env.EventID)
		return nil
	}

	err := d.engine.Send(bomID, sig)
	if bomerr.Is(err, bomerr.NotFound) {
		// The workflow lives on another replica or already finished;
		// dropping keeps the admin stream flowing.
		d.logger.Info("signal addressed no local workflow",
			"workflow_id", payload.WorkflowID, "signal", string(sig), "actor", payload.Actor)
		return nil
	}
	return err
}

// handlePromote runs a manual promotion. The admin HTTP surface
// authenticated the actor before publishing, so the event carries an
// already-authorized identity; a stale or malformed request is dropped
// rather than redelivered.
func (d *Dispatcher) handlePromote(ctx context.Context, env eventbus.Envelope) error {
	if d.promoter == nil {
		d.logger.Info("promotion requested but no promoter configured", "event_id", env.EventID)
		return nil
	}
	var req PromoteRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		d.logger.Error("promote payload rejected", "event_id", env.EventID, "error", err)
		return nil
	}
	if req.RedisKey == "" || req.Reason == "" {
		d.logger.Error("promote payload incomplete", "event_id", env.EventID)
		return nil
	}
	ac := tenantauth.Context{UserID: req.Actor, Role: tenantauth.RoleAdmin}
	if err := d.promoter.Promote(ctx, ac, req.RedisKey, req.Reason); err != nil {
		if bomerr.Is(err, bomerr.Conflict) || bomerr.Is(err, bomerr.Validation) {
			d.logger.Info("promotion dropped", "redis_key", req.RedisKey, "error", err)
			return nil
		}
		return err
	}
	return nil
}

func adminSignalFor(eventType string) (engine.Signal, bool) {
	switch eventType {
	case "admin.workflow.pause", "admin.workflow.paused":
		return engine.SignalPause, true
	case "admin.workflow.resume", "admin.workflow.resumed":
		return engine.SignalResume, true
	case "admin.workflow.cancel", "admin.workflow.cancelled":
		return engine.SignalCancel, true
	default:
		return "", false
	}
}

// HandleComponentEvent is the stream.platform.enrichment handler for
// operator-initiated single-component enrichment.
func (d *Dispatcher) HandleComponentEvent(ctx context.Context, env eventbus.Envelope) error {
	switch env.EventType {
	case "component.enrich.request":
		var req ComponentRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			d.logger.Error("component request rejected", "event_id", env.EventID, "error", err)
			return nil
		}
		return d.enrichComponent(ctx, req, false)
	case "component.enrich.force":
		var req ComponentRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			d.logger.Error("component request rejected", "event_id", env.EventID, "error", err)
			return nil
		}
		return d.enrichComponent(ctx, req, true)
	case "component.enrich.batch":
		var batch ComponentBatch
		if err := json.Unmarshal(env.Payload, &batch); err != nil {
			d.logger.Error("component batch rejected", "event_id", env.EventID, "error", err)
			return nil
		}
		for i, item := range batch.Items {
			if i > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d.batchItemDelay):
				}
			}
			if err := d.enrichComponent(ctx, item, false); err != nil {
				d.logger.Error("batch item failed", "mpn", item.MPN, "error", err)
			}
		}
		return nil
	default:
		return nil
	}
}

// enrichComponent runs the single-component workflow synchronously; these
// are one line long and operator-facing, so blocking the handler is the
// point. force bypasses the replay guard.
func (d *Dispatcher) enrichComponent(ctx context.Context, req ComponentRequest, force bool) error {
	if req.MPN == "" {
		return nil
	}
	if !force && d.idem != nil {
		key := "component-enrich:" + req.MPN + ":" + req.Manufacturer
		if _, inserted, err := d.idem.Register(key, []byte("requested"), time.Hour); err == nil && !inserted {
			d.logger.Info("component enrichment replay suppressed", "mpn", req.MPN)
			return nil
		}
	}

	tunables, err := d.tunables.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: snapshot tunables: %w", err)
	}

	workflowID := fmt.Sprintf("single-component-%s-%d", req.MPN, time.Now().Unix())
	bom := &model.BOM{
		ID:     workflowID,
		Name:   "single: " + req.MPN,
		Source: model.SourceStaffBulk,
		Status: model.BOMParsed,
	}
	lines := []model.BOMLineItem{{LineNumber: 1, MPN: req.MPN, Manufacturer: req.Manufacturer}}

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	err = d.engine.Run(runCtx, bom, lines, tunables)
	if bomerr.Is(err, bomerr.Conflict) {
		d.logger.Info("duplicate component workflow dropped", "workflow_id", workflowID)
		return nil
	}
	return err
}

// HandleAuditEvent is the stream.platform.audit handler feeding the
// field-diff worker.
func (d *Dispatcher) HandleAuditEvent(ctx context.Context, env eventbus.Envelope) error {
	if env.EventType != "customer.bom.audit_ready" || d.fieldDiff == nil {
		return nil
	}
	var payload AuditReady
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		d.logger.Error("audit_ready payload rejected", "event_id", env.EventID, "error", err)
		return nil
	}
	if payload.BOMID == "" {
		return nil
	}
	label := payload.Label
	if label == "" {
		label = payload.BOMID
	}
	return d.fieldDiff.HandleAuditReady(ctx, payload.BOMID, label)
}
