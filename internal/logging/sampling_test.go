package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/tcsd/internal/config"
)

func sampledLogger(levels map[zapcore.Level]LevelSamplingConfig) (*zap.Logger, *observer.ObservedLogs) {
	core, observed := observer.New(TraceLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels:  levels,
	})
	return zap.New(sampled), observed
}

func TestSampling_PerLevel(t *testing.T) {
	z, observed := sampledLogger(map[zapcore.Level]LevelSamplingConfig{
		zapcore.DebugLevel: {Initial: 2, Thereafter: 0},
		zapcore.InfoLevel:  {Initial: 1, Thereafter: 5},
	})

	for i := 0; i < 10; i++ {
		z.Debug("tick")
		z.Info("status")
		z.Warn("unsampled")
		z.Error("failure")
	}

	assert.Equal(t, 2, observed.FilterMessage("tick").Len())
	// First entry, then the 6th.
	assert.Equal(t, 2, observed.FilterMessage("status").Len())
	assert.Equal(t, 10, observed.FilterMessage("unsampled").Len())
	assert.Equal(t, 10, observed.FilterMessage("failure").Len())
}

func TestSampling_Disabled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	z := zap.New(newSampledCore(core, SamplingConfig{Enabled: false}))

	for i := 0; i < 50; i++ {
		z.Debug("tick")
	}
	assert.Equal(t, 50, observed.Len())
}

func TestLevelFilterCore(t *testing.T) {
	core, _ := observer.New(TraceLevel)
	band := &levelFilterCore{Core: core, min: zapcore.InfoLevel, max: zapcore.InfoLevel}

	assert.True(t, band.Enabled(zapcore.InfoLevel))
	assert.False(t, band.Enabled(zapcore.DebugLevel))
	assert.False(t, band.Enabled(zapcore.WarnLevel))

	child := band.With([]zapcore.Field{zap.String("k", "v")})
	assert.False(t, child.Enabled(zapcore.ErrorLevel))
}
