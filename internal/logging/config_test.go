package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "console", mutate: func(c *Config) { c.Format = "console" }},
		{name: "bad format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: "format must be"},
		{name: "no outputs", mutate: func(c *Config) { c.Output.Stdout = false }, wantErr: "at least one output"},
		{name: "zero tick", mutate: func(c *Config) { c.Sampling.Tick = 0 }, wantErr: "sampling tick"},
		{name: "zero tick without sampling", mutate: func(c *Config) {
			c.Sampling.Enabled = false
			c.Sampling.Tick = 0
		}},
		{name: "error level sampled", mutate: func(c *Config) {
			c.Sampling.Levels[zapcore.ErrorLevel] = LevelSamplingConfig{Initial: 1}
		}, wantErr: "cannot be sampled"},
		{name: "empty field", mutate: func(c *Config) { c.Fields["site"] = "" }, wantErr: "empty value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLevel_Text(t *testing.T) {
	var l Level
	require.NoError(t, l.UnmarshalText([]byte("trace")))
	assert.Equal(t, TraceLevel, l.Zap())

	require.NoError(t, l.UnmarshalText([]byte("warn")))
	assert.Equal(t, zapcore.WarnLevel, l.Zap())

	assert.Error(t, l.UnmarshalText([]byte("loud")))

	text, err := Level(TraceLevel).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "trace", string(text))
}
