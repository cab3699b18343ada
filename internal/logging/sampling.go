package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with a sampler per level. Levels without a
// sampling entry pass through unchanged; Error and above are never sampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := []zapcore.Core{
		&levelFilterCore{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel},
	}

	for _, lvl := range []zapcore.Level{TraceLevel, zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel} {
		only := &levelFilterCore{Core: core, min: lvl, max: lvl}
		rate, ok := cfg.Levels[lvl]
		if !ok {
			cores = append(cores, only)
			continue
		}
		cores = append(cores, zapcore.NewSamplerWithOptions(
			only,
			cfg.Tick.Duration(),
			rate.Initial,
			rate.Thereafter,
		))
	}

	return zapcore.NewTee(cores...)
}

// levelFilterCore passes only entries with min <= level <= max.
type levelFilterCore struct {
	zapcore.Core
	min zapcore.Level
	max zapcore.Level
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if lvl < c.min || lvl > c.max {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// With creates a child core that preserves level filtering.
func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core: c.Core.With(fields),
		min:  c.min,
		max:  c.max,
	}
}
