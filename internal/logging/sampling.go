package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore splits core into one band per level below Error and wraps
// each band with its own sampler. Error and above always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := []zapcore.Core{
		&levelFilterCore{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel},
	}
	for lvl := TraceLevel; lvl < zapcore.ErrorLevel; lvl++ {
		band := &levelFilterCore{Core: core, min: lvl, max: lvl}
		s, ok := cfg.Levels[lvl]
		if !ok {
			cores = append(cores, band)
			continue
		}
		cores = append(cores, zapcore.NewSamplerWithOptions(band, cfg.Tick.Duration(), s.Initial, s.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// levelFilterCore passes entries with min <= level <= max.
type levelFilterCore struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && lvl <= c.max && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), min: c.min, max: c.max}
}
