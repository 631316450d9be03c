package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fyrsmithlabs/tcsd/internal/checker"
)

// FormatMean formats a reading's mean, or "-" when it is undefined.
func FormatMean(r checker.Reading) string {
	if !r.Defined || math.IsNaN(r.Mean) {
		return "-"
	}
	return fmt.Sprintf("%.3f", r.Mean)
}

// FormatLimits formats the open interval a checker accepts.
func FormatLimits(s checker.Settings) string {
	return fmt.Sprintf("(%s, %s)", formatBound(s.LowLimit), formatBound(s.HighLimit))
}

func formatBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	default:
		return fmt.Sprintf("%g", v)
	}
}

// FormatPhase joins the active leaves, or "-" before the machine starts.
func FormatPhase(configuration []string) string {
	if len(configuration) == 0 {
		return "-"
	}
	return strings.Join(configuration, " | ")
}

// FormatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func FormatDuration(d time.Duration) string {
	seconds := int64(d.Round(time.Second) / time.Second)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// Position returns where v lies between low and high, clamped to [0, 1].
// ok is false when either limit is open.
func Position(v float64, s checker.Settings) (pos float64, ok bool) {
	if math.IsInf(s.LowLimit, 0) || math.IsInf(s.HighLimit, 0) || math.IsNaN(v) || s.HighLimit <= s.LowLimit {
		return 0, false
	}
	pos = (v - s.LowLimit) / (s.HighLimit - s.LowLimit)
	return math.Max(0, math.Min(1, pos)), true
}
