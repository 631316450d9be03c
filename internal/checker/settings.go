package checker

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Defaults applied to every key a configuration leaves out.
const (
	DefaultWindow   = 1
	DefaultInterval = time.Second

	// stalenessFactor times the interval is the default staleness threshold.
	stalenessFactor = 5
)

// ErrInvalidSettings is returned for settings that cannot drive a checker.
var ErrInvalidSettings = errors.New("invalid checker settings")

// Settings configure one checker. Configuration documents use the keys
// lowlimit, highlimit, der, acc, window, interval and staleness; the two
// durations are given in milliseconds.
type Settings struct {
	LowLimit  float64
	HighLimit float64
	// Der is the derivative order; zero means a moving average.
	Der int
	// Acc sets the raw window length to Acc+1.
	Acc int
	// Window is the length of the derived-value window that is averaged.
	Window   int
	Interval time.Duration
	// Staleness is how old the data may get before every tick is
	// out of limit. Zero means five intervals.
	Staleness time.Duration
}

// DefaultSettings returns open limits with a one-second moving average of
// the newest sample.
func DefaultSettings() Settings {
	return Settings{
		LowLimit:  math.Inf(-1),
		HighLimit: math.Inf(1),
		Window:    DefaultWindow,
		Interval:  DefaultInterval,
	}
}

// Validate reports the first problem with s.
func (s Settings) Validate() error {
	switch {
	case math.IsNaN(s.LowLimit) || math.IsNaN(s.HighLimit):
		return fmt.Errorf("%w: limits must be numbers", ErrInvalidSettings)
	case s.LowLimit > s.HighLimit:
		return fmt.Errorf("%w: lowlimit %v above highlimit %v", ErrInvalidSettings, s.LowLimit, s.HighLimit)
	case s.Der < 0:
		return fmt.Errorf("%w: der must be >= 0, got %d", ErrInvalidSettings, s.Der)
	case s.Acc < 0:
		return fmt.Errorf("%w: acc must be >= 0, got %d", ErrInvalidSettings, s.Acc)
	case s.Window < 1:
		return fmt.Errorf("%w: window must be >= 1, got %d", ErrInvalidSettings, s.Window)
	case s.Interval <= 0:
		return fmt.Errorf("%w: interval must be > 0, got %v", ErrInvalidSettings, s.Interval)
	case s.Staleness < 0:
		return fmt.Errorf("%w: staleness cannot be negative", ErrInvalidSettings)
	}
	return nil
}

// StalenessThreshold returns the effective staleness threshold.
func (s Settings) StalenessThreshold() time.Duration {
	if s.Staleness > 0 {
		return s.Staleness
	}
	return stalenessFactor * s.Interval
}

// ParseSettings overlays the keys of m on DefaultSettings. Unknown keys are
// rejected so a misspelled limit never silently opens a checker.
func ParseSettings(m map[string]any) (Settings, error) {
	s := DefaultSettings()

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v, err := toFloat(m[key])
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %s: %v", ErrInvalidSettings, key, err)
		}
		switch key {
		case "lowlimit":
			s.LowLimit = v
		case "highlimit":
			s.HighLimit = v
		case "der", "acc", "window":
			if v != math.Trunc(v) {
				return Settings{}, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidSettings, key, v)
			}
			switch key {
			case "der":
				s.Der = int(v)
			case "acc":
				s.Acc = int(v)
			default:
				s.Window = int(v)
			}
		case "interval":
			s.Interval = time.Duration(v * float64(time.Millisecond))
		case "staleness":
			s.Staleness = time.Duration(v * float64(time.Millisecond))
		default:
			return Settings{}, fmt.Errorf("%w: unknown key %q", ErrInvalidSettings, key)
		}
	}
	return s, s.Validate()
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// settingsJSON renders infinite limits as null.
type settingsJSON struct {
	LowLimit    *float64 `json:"lowlimit"`
	HighLimit   *float64 `json:"highlimit"`
	Der         int      `json:"der"`
	Acc         int      `json:"acc"`
	Window      int      `json:"window"`
	IntervalMS  int64    `json:"interval"`
	StalenessMS int64    `json:"staleness"`
}

// MarshalJSON implements json.Marshaler.
func (s Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(settingsJSON{
		LowLimit:    finite(s.LowLimit),
		HighLimit:   finite(s.HighLimit),
		Der:         s.Der,
		Acc:         s.Acc,
		Window:      s.Window,
		IntervalMS:  s.Interval.Milliseconds(),
		StalenessMS: s.StalenessThreshold().Milliseconds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Null limits are open.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw settingsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Settings{
		LowLimit:  orInf(raw.LowLimit, -1),
		HighLimit: orInf(raw.HighLimit, 1),
		Der:       raw.Der,
		Acc:       raw.Acc,
		Window:    raw.Window,
		Interval:  time.Duration(raw.IntervalMS) * time.Millisecond,
		Staleness: time.Duration(raw.StalenessMS) * time.Millisecond,
	}
	return nil
}

func orInf(v *float64, sign int) float64 {
	if v == nil {
		return math.Inf(sign)
	}
	return *v
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
