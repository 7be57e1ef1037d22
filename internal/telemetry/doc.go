// Package telemetry sets up OpenTelemetry trace and metric export for ace.
//
// When enabled, New installs OTLP-backed tracer and meter providers as the
// process globals, so spans started by the cycle runner and the embedding
// metrics reach the collector. Export failures never stop a cycle: the
// instance degrades to no-op providers and logs why.
//
//	telemetry:
//	  enabled: true
//	  endpoint: localhost:4317
//	  protocol: grpc
//	  sample_rate: 0.25
//
// Tests use NewRecorder, which keeps spans and metrics in memory.
package telemetry
