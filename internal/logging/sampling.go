package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples entries below Error; Error and above always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	sampled := zapcore.NewSamplerWithOptions(
		bandCore{Core: core, lo: TraceLevel, hi: zapcore.WarnLevel},
		cfg.Tick.Duration(),
		cfg.Initial,
		cfg.Thereafter,
	)
	return zapcore.NewTee(
		bandCore{Core: core, lo: zapcore.ErrorLevel, hi: zapcore.FatalLevel},
		sampled,
	)
}

// bandCore only accepts levels in [lo, hi].
type bandCore struct {
	zapcore.Core
	lo, hi zapcore.Level
}

func (c bandCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.lo && lvl <= c.hi && c.Core.Enabled(lvl)
}

func (c bandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c bandCore) With(fields []zapcore.Field) zapcore.Core {
	return bandCore{Core: c.Core.With(fields), lo: c.lo, hi: c.hi}
}
