// Package constants supervises the process constants document: the nested
// mapping of phase paths to checker limits and set-points that states read on
// entry. The document is reloaded periodically and on file change; readers
// always see a complete, immutable snapshot.
package constants

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/tcsd/internal/checker"
)

// Delim separates path segments. Tag names contain dots, so a slash is used.
const Delim = "/"

var (
	// ErrMissing is returned when a path is absent from the snapshot.
	ErrMissing = errors.New("constant not found")

	// ErrNotNumber is returned when a path does not hold a number.
	ErrNotNumber = errors.New("constant is not a number")
)

// Snapshot is one published version of the constants document.
type Snapshot struct {
	k        *koanf.Koanf
	source   string
	version  uint64
	loadedAt time.Time
}

// Path joins segments into a snapshot key.
func Path(segments ...string) string {
	return strings.Join(segments, Delim)
}

// Has reports whether path exists.
func (s *Snapshot) Has(path ...string) bool {
	return s.k.Exists(Path(path...))
}

// Float returns the number at path.
func (s *Snapshot) Float(path ...string) (float64, error) {
	key := Path(path...)
	if !s.k.Exists(key) {
		return 0, fmt.Errorf("%w: %s", ErrMissing, key)
	}
	v, err := number(s.k.Get(key))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrNotNumber, key, err)
	}
	return v, nil
}

// FloatOr returns the number at path, or def when it is absent or invalid.
func (s *Snapshot) FloatOr(def float64, path ...string) float64 {
	v, err := s.Float(path...)
	if err != nil {
		return def
	}
	return v
}

// Limits decodes the checker settings mapping at path.
func (s *Snapshot) Limits(path ...string) (checker.Settings, error) {
	key := Path(path...)
	if !s.k.Exists(key) {
		return checker.Settings{}, fmt.Errorf("%w: %s", ErrMissing, key)
	}
	m, ok := s.k.Get(key).(map[string]any)
	if !ok {
		return checker.Settings{}, fmt.Errorf("%w: %s is not a mapping", checker.ErrInvalidSettings, key)
	}
	settings, err := checker.ParseSettings(m)
	if err != nil {
		return checker.Settings{}, fmt.Errorf("%s: %w", key, err)
	}
	return settings, nil
}

// LimitsOr decodes the settings at path, falling back to def when the path is
// absent. Malformed settings are still an error.
func (s *Snapshot) LimitsOr(def checker.Settings, path ...string) (checker.Settings, error) {
	if !s.Has(path...) {
		return def, nil
	}
	return s.Limits(path...)
}

// Raw returns a copy of the whole document as nested maps.
func (s *Snapshot) Raw() map[string]any {
	return s.k.Raw()
}

// Source is the file the snapshot was loaded from.
func (s *Snapshot) Source() string { return s.source }

// Version increases by one with every successful load.
func (s *Snapshot) Version() uint64 { return s.version }

// LoadedAt is when the snapshot was published.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// MarshalJSON renders the document with its load metadata.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Source   string         `json:"source"`
		Version  uint64         `json:"version"`
		LoadedAt time.Time      `json:"loaded_at"`
		Values   map[string]any `json:"values"`
	}{s.source, s.version, s.loadedAt, s.Raw()})
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("got %T", v)
	}
}
