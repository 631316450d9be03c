package gateway

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultMaxAge is how old a cached frame may be before Last refreshes it.
const DefaultMaxAge = 5 * time.Second

var (
	// ErrNoData indicates the source has never produced a frame.
	ErrNoData = errors.New("no data available")

	// ErrUnknownTag indicates a tag that is not part of the gateway schema.
	ErrUnknownTag = errors.New("unknown tag")

	// ErrNotSettable indicates a write to a read-only attribute.
	ErrNotSettable = errors.New("attribute is not settable")
)

// Source provides the most recent process values.
type Source interface {
	// Current forces a refresh from the plant.
	Current(ctx context.Context) (Frame, error)

	// Last returns the cached frame if it is younger than maxAge,
	// refreshing otherwise. maxAge <= 0 means DefaultMaxAge.
	Last(ctx context.Context, maxAge time.Duration) (Frame, error)
}

// Setpointer writes a value to a gateway tag.
type Setpointer interface {
	SetSetpoint(ctx context.Context, tag string, value float64) error
}

// Static is an in-memory Source. It is safe for concurrent use.
type Static struct {
	mu        sync.Mutex
	frame     Frame
	err       error
	calls     int
	setpoints map[string]float64
}

// NewStatic returns a Static source serving frame.
func NewStatic(frame Frame) *Static {
	return &Static{frame: frame, setpoints: make(map[string]float64)}
}

// Set replaces the served frame and clears any failure.
func (s *Static) Set(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
	s.err = nil
}

// Fail makes every subsequent fetch return err until Set is called.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns the number of fetches served or failed.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Current implements Source.
func (s *Static) Current(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Frame{}, s.err
	}
	return s.frame, nil
}

// Last implements Source.
func (s *Static) Last(ctx context.Context, _ time.Duration) (Frame, error) {
	return s.Current(ctx)
}

// SetSetpoint implements Setpointer by recording the value.
func (s *Static) SetSetpoint(_ context.Context, tag string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setpoints[tag] = value
	return nil
}

// Setpoint returns the last value written to tag.
func (s *Static) Setpoint(tag string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.setpoints[tag]
	return v, ok
}
