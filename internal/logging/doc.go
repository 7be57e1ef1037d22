// Package logging builds the process zap logger.
//
// It adds a Trace level below Debug, JSON or console encoding, sampling
// that never drops errors, constant fields from config and correlation
// fields carried on the context:
//
//	ctx = logging.WithCycleID(ctx, id)
//	logging.For(ctx, logger).Info("cycle started")
//
// yields an entry with cycle.id and, when an OpenTelemetry span is active,
// trace_id and span_id.
//
// Library packages take a plain *zap.Logger; only main wires this package.
package logging
