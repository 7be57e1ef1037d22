package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/ce-dot-net/ace"

// withOTel tees core into an OpenTelemetry log provider. The bridge core
// receives every entry at or above level.
func withOTel(core zapcore.Core, lp log.LoggerProvider, level zapcore.LevelEnabler) zapcore.Core {
	if lp == nil {
		return core
	}
	bridge := otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(lp))
	return zapcore.NewTee(core, &levelFilterCore{Core: bridge, level: level})
}

// levelFilterCore applies level to a core that has no level of its own.
type levelFilterCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (c *levelFilterCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), level: c.level}
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}
