package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/pattern"
)

type cycleCtxKey struct{}
type scopeCtxKey struct{}
type fileCtxKey struct{}

// WithCycleID tags ctx with the curation cycle it belongs to.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleCtxKey{}, id)
}

// CycleIDFromContext returns the cycle ID, or "".
func CycleIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(cycleCtxKey{}).(string)
	return id
}

// WithScope tags ctx with the (domain, kind) scope being curated.
func WithScope(ctx context.Context, s pattern.Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

// ScopeFromContext returns the scope and whether one was set.
func ScopeFromContext(ctx context.Context) (pattern.Scope, bool) {
	s, ok := ctx.Value(scopeCtxKey{}).(pattern.Scope)
	return s, ok
}

// WithFile tags ctx with the source file under reflection.
func WithFile(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, fileCtxKey{}, path)
}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := CycleIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("cycle.id", id))
	}
	if s, ok := ScopeFromContext(ctx); ok {
		fields = append(fields, zap.String("scope.domain", s.Domain), zap.String("scope.kind", string(s.Kind)))
	}
	if f, ok := ctx.Value(fileCtxKey{}).(string); ok && f != "" {
		fields = append(fields, zap.String("file", f))
	}
	return fields
}

// For returns logger annotated with the correlation fields in ctx.
func For(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
