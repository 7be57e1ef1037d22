package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/logtest"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ce-dot-net/ace/internal/config"
	"github.com/ce-dot-net/ace/internal/pattern"
)

func TestLevelFromString(t *testing.T) {
	tests := map[string]zapcore.Level{
		"trace":  TraceLevel,
		"TRACE":  TraceLevel,
		"debug":  zapcore.DebugLevel,
		" warn ": zapcore.WarnLevel,
		"error":  zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := LevelFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "trace", Format: "json", Sampling: true, Fields: map[string]string{"repo": "web"}})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Sampling.Enabled)
	assert.Equal(t, map[string]string{"service": "ace", "repo": "web"}, cfg.Fields)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.ErrorContains(t, err, "invalid log level")

	_, err = FromSettings(config.LoggingConfig{Format: "xml"})
	assert.ErrorContains(t, err, "format must be")
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = true
	cfg.Sampling.Tick = 0
	assert.ErrorContains(t, cfg.Validate(), "sampling tick")

	cfg = NewDefaultConfig()
	cfg.Fields["empty"] = ""
	assert.ErrorContains(t, cfg.Validate(), `field "empty" has empty value`)
}

func TestNewLogger_JSONWithConstantFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Level = TraceLevel

	logger, err := NewLogger(cfg, zapcore.AddSync(&buf))
	require.NoError(t, err)
	logger.Log(TraceLevel, "comparing", zap.String("pattern_id", "py-001"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace", entry["level"])
	assert.Equal(t, "comparing", entry["msg"])
	assert.Equal(t, "ace", entry["service"])
	assert.Equal(t, "py-001", entry["pattern_id"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(NewDefaultConfig(), zapcore.AddSync(&buf))
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_TeesToOTel(t *testing.T) {
	var buf bytes.Buffer
	rec := logtest.NewRecorder()
	cfg := NewDefaultConfig()
	cfg.OTel = rec

	logger, err := NewLogger(cfg, zapcore.AddSync(&buf))
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("cycle complete", zap.String("cycle.id", "c1"))
	logger.Warn("oracle degraded")

	var n int
	for _, records := range rec.Result() {
		n += len(records)
	}
	assert.Equal(t, 2, n, "debug stays below the configured level")
	assert.Contains(t, buf.String(), "cycle complete")
}

func TestFromSettings_OTel(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "info", Format: "json", OTel: true})
	require.NoError(t, err)
	assert.NotNil(t, cfg.OTel)

	cfg, err = FromSettings(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.Nil(t, cfg.OTel)
}

func TestNewSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := zap.New(newSampledCore(core, SamplingConfig{
		Enabled: true, Tick: config.Duration(time.Minute), Initial: 2, Thereafter: 0,
	}))

	for i := 0; i < 20; i++ {
		logger.Error("disk full")
		logger.Info("tick")
	}
	assert.Equal(t, 20, observed.FilterMessage("disk full").Len())
	assert.Equal(t, 2, observed.FilterMessage("tick").Len())
}

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{}))
}

func TestFor_ContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithCycleID(context.Background(), "cyc-1")
	ctx = WithScope(ctx, pattern.Scope{Domain: "python-io", Kind: pattern.KindBeneficial})
	ctx = WithFile(ctx, "app.py")

	For(ctx, tl.Logger).Info("curating")

	tl.AssertLogged(t, zapcore.InfoLevel, "curating")
	tl.AssertField(t, "curating", "cycle.id", "cyc-1")
	tl.AssertField(t, "curating", "scope.domain", "python-io")
	tl.AssertField(t, "curating", "scope.kind", "beneficial")
	tl.AssertField(t, "curating", "file", "app.py")
}

func TestFor_TraceCorrelation(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "cycle")
	defer span.End()

	fields := ContextFields(ctx)
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	assert.Equal(t, []string{"trace_id", "span_id"}, keys)
	assert.Equal(t, span.SpanContext().TraceID().String(), fields[0].String)
}

func TestFor_NoFieldsReturnsSameLogger(t *testing.T) {
	l := zap.NewExample()
	assert.Same(t, l, For(context.Background(), l))
	assert.NotNil(t, For(context.Background(), nil))
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("sk-123456"))
	assert.Equal(t, "[REDACTED:9]", f.String)
	assert.False(t, strings.Contains(f.String, "sk-"))
	assert.Equal(t, "", Secret("api_key", "").String)
}
