// Package observability instruments the enrichment pipeline with
// OpenTelemetry traces and metrics and keeps the operator-facing health
// signals close to the domain: per-supplier call latency and availability,
// per-BOM line throughput, workflow lifecycle gauges, and SLO tracking for
// each pipeline stage.
//
// The package deliberately exposes domain verbs (RecordLine,
// RecordSupplierCall, TrackWorkflow) rather than raw instruments, so call
// sites in the engine and the supplier gateway stay free of metric
// plumbing. A Provider is optional everywhere it is accepted: a nil or
// disabled Provider turns every record call into a no-op, which keeps
// tests and single-shot CLI runs quiet.
package observability
