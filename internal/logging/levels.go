package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Per-tick window contents are logged here.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// Level is a zapcore.Level that unmarshals from configuration text.
type Level zapcore.Level

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := LevelFromString(string(text))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", text, err)
	}
	*l = Level(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if zapcore.Level(l) == TraceLevel {
		return []byte("trace"), nil
	}
	return []byte(zapcore.Level(l).String()), nil
}

// Zap returns the zapcore level.
func (l Level) Zap() zapcore.Level {
	return zapcore.Level(l)
}
