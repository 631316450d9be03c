package monitor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/tcsd/internal/checker"
)

func TestFormatMean(t *testing.T) {
	assert.Equal(t, "-", FormatMean(checker.Reading{Mean: math.NaN()}))
	assert.Equal(t, "-", FormatMean(checker.Reading{Mean: 3}))
	assert.Equal(t, "51.250", FormatMean(checker.Reading{Mean: 51.25, Defined: true}))
}

func TestFormatLimits(t *testing.T) {
	s := checker.DefaultSettings()
	assert.Equal(t, "(-inf, +inf)", FormatLimits(s))

	s.LowLimit = 50
	assert.Equal(t, "(50, +inf)", FormatLimits(s))

	s.HighLimit = 0.5
	assert.Equal(t, "(50, 0.5)", FormatLimits(s))
}

func TestFormatPhase(t *testing.T) {
	assert.Equal(t, "-", FormatPhase(nil))
	assert.Equal(t, "Neutral", FormatPhase([]string{"Neutral"}))
	assert.Equal(t, "A | B", FormatPhase([]string{"A", "B"}))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1400 * time.Millisecond, "1s"},
		{59 * time.Second, "59s"},
		{61 * time.Second, "1m 1s"},
		{2*time.Hour + 15*time.Minute + 30*time.Second, "2h 15m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), tt.in.String())
	}
}

func TestPosition(t *testing.T) {
	s := checker.DefaultSettings()
	_, ok := Position(10, s)
	assert.False(t, ok, "open limits")

	s.LowLimit, s.HighLimit = 50, 100
	pos, ok := Position(75, s)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, pos, 1e-12)

	pos, _ = Position(10, s)
	assert.Equal(t, 0.0, pos)
	pos, _ = Position(200, s)
	assert.Equal(t, 1.0, pos)

	_, ok = Position(math.NaN(), s)
	assert.False(t, ok)
}
