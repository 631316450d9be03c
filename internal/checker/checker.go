// Package checker implements timer-driven monitors of process values.
//
// A Checker samples a selector over the data source every interval, pushes
// the newest acc+1 samples through a finite-difference filter, averages the
// last window filtered values and compares the mean against open limits.
// Each tick ends in exactly one in-limit or out-of-limit notification, unless
// no filtered value exists yet.
package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tcsd/internal/findiff"
	"github.com/fyrsmithlabs/tcsd/internal/gateway"
	"github.com/fyrsmithlabs/tcsd/internal/logging"
	"github.com/fyrsmithlabs/tcsd/internal/loop"
	"github.com/fyrsmithlabs/tcsd/internal/metrics"
)

const instrumentationName = "github.com/fyrsmithlabs/tcsd/internal/checker"

// Reading is the outcome of one evaluation.
type Reading struct {
	Checker string `json:"checker"`
	// Mean of the derived window; NaN when undefined.
	Mean    float64 `json:"-"`
	Defined bool    `json:"defined"`
	InLimit bool    `json:"in_limit"`
	// Populated reports that every raw slot holds an observed sample. A
	// reading from an under-filled window treats the missing slots as zero.
	Populated bool `json:"populated"`
	// Stale reports that the data is older than the staleness threshold.
	Stale bool      `json:"stale"`
	At    time.Time `json:"at"`
}

// MarshalJSON renders an undefined mean as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	type alias Reading
	return json.Marshal(struct {
		alias
		Mean *float64 `json:"mean"`
	}{alias: alias(r), Mean: finite(r.Mean)})
}

// UnmarshalJSON implements json.Unmarshaler. A null mean becomes NaN.
func (r *Reading) UnmarshalJSON(data []byte) error {
	type alias Reading
	aux := struct {
		*alias
		Mean *float64 `json:"mean"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Mean = math.NaN()
	if aux.Mean != nil {
		r.Mean = *aux.Mean
	}
	return nil
}

// Handler receives a checker notification. It runs on the goroutine that
// ticked the checker, normally the event loop.
type Handler func(ctx context.Context, r Reading)

// Status is a snapshot for introspection.
type Status struct {
	Name     string   `json:"name"`
	Selector string   `json:"selector"`
	Settings Settings `json:"settings"`
	Last     Reading  `json:"last"`
	Ticks    uint64   `json:"ticks"`
	Running  bool     `json:"running"`
	Stopped  bool     `json:"stopped"`
}

// Option configures a Checker.
type Option func(*Checker)

// WithPoster routes timer ticks through p, normally the event loop.
func WithPoster(p loop.Poster) Option {
	return func(c *Checker) { c.poster = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// WithMetrics records ticks and fetch failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Checker) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithRetry bounds the retries of a failed fetch within one tick.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(c *Checker) {
		c.retryTries = maxTries
		c.retryInitial = initial
	}
}

// WithMaxAge caps how old a shared cached frame may be. The effective age is
// the smaller of d and half the tick interval.
func WithMaxAge(d time.Duration) Option {
	return func(c *Checker) { c.maxAge = d }
}

// Checker monitors one derived process value.
type Checker struct {
	name     string
	selector Selector
	settings Settings
	coef     []float64

	source  gateway.Source
	poster  loop.Poster
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	retryTries   uint
	retryInitial time.Duration
	maxAge       time.Duration

	mu       sync.Mutex
	raw      *Window
	derived  *Window
	observed int
	dataAt   time.Time
	last     Reading
	ticks    uint64
	inLimit  []Handler
	outLimit []Handler
	cancel   context.CancelFunc
	stopped  bool
	// running is true while the timer goroutine is alive.
	running bool
}

// New validates settings and allocates the windows. The checker does not
// tick until Start is called.
func New(name string, selector Selector, settings Settings, source gateway.Source, opts ...Option) (*Checker, error) {
	if selector == nil {
		return nil, fmt.Errorf("%w: %s: nil selector", ErrInvalidSettings, name)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("checker %s: %w", name, err)
	}
	coef, err := findiff.Coefficients(settings.Der, settings.Acc)
	if err != nil {
		return nil, fmt.Errorf("checker %s: %w", name, err)
	}

	c := &Checker{
		name:         name,
		selector:     selector,
		settings:     settings,
		coef:         coef,
		source:       source,
		poster:       loop.Inline{},
		logger:       logging.NewNop(),
		now:          time.Now,
		retryTries:   3,
		retryInitial: 50 * time.Millisecond,
		raw:          NewWindow(settings.Acc + 1),
		derived:      NewWindow(settings.Window),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("checker").With(zap.String("checker", name))
	c.tracer = otel.Tracer(instrumentationName)
	c.dataAt = c.now()
	c.last = Reading{Checker: name, Mean: math.NaN()}
	return c, nil
}

func (c *Checker) cacheAge() time.Duration {
	age := c.settings.Interval / 2
	if c.maxAge > 0 && c.maxAge < age {
		return c.maxAge
	}
	return age
}

// Name returns the checker name.
func (c *Checker) Name() string { return c.name }

// Settings returns the validated settings.
func (c *Checker) Settings() Settings { return c.settings }

// Coefficients returns a copy of the filter weights, oldest sample first.
func (c *Checker) Coefficients() []float64 {
	return append([]float64(nil), c.coef...)
}

// OnInLimit adds a handler for in-limit ticks.
func (c *Checker) OnInLimit(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inLimit = append(c.inLimit, h)
}

// OnOutLimit adds a handler for out-of-limit ticks.
func (c *Checker) OnOutLimit(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outLimit = append(c.outLimit, h)
}

// Start begins ticking every interval until Stop is called or ctx is done.
// Fetches run on a background goroutine and the rest of each tick is posted
// through the poster. Calling Start on a started or stopped checker does
// nothing.
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil || c.stopped {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	go c.timer(ctx)
}

// timer fetches on ctx but hands handlers a context that outlives it:
// a handler that stops this checker still raises its event and drives
// the actions that follow.
func (c *Checker) timer(ctx context.Context) {
	ticker := time.NewTicker(c.settings.Interval)
	defer ticker.Stop()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()
	tickCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		frame, err := c.fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		if !c.poster.Post(func() { c.apply(tickCtx, frame, err) }) {
			return
		}
	}
}

// Tick runs one full tick synchronously on the caller's goroutine.
func (c *Checker) Tick(ctx context.Context) Reading {
	frame, err := c.fetch(ctx)
	return c.apply(ctx, frame, err)
}

// fetch reads the newest frame, retrying with exponential backoff.
func (c *Checker) fetch(ctx context.Context) (gateway.Frame, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.settings.Interval

	tries := c.retryTries
	if tries == 0 {
		tries = 1
	}
	return backoff.Retry(ctx, func() (gateway.Frame, error) {
		return c.source.Last(ctx, c.cacheAge())
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(c.settings.Interval),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug(ctx, "fetch failed, retrying", zap.Error(err), zap.Duration("backoff", next))
		}),
	)
}

// apply ingests frame, evaluates, and notifies handlers. When fetchErr is
// set the raw window is left as it was, so the previous data is reused.
func (c *Checker) apply(ctx context.Context, frame gateway.Frame, fetchErr error) Reading {
	ctx = logging.WithChecker(ctx, c.name)
	ctx, span := c.tracer.Start(ctx, "checker.tick", trace.WithAttributes(attribute.String("checker", c.name)))
	defer span.End()

	now := c.now()

	c.mu.Lock()
	if fetchErr != nil {
		c.metrics.RecordFetchFailure(c.name)
		c.logger.Warn(ctx, "data source unavailable, reusing previous data",
			zap.Error(fetchErr), zap.Duration("data_age", now.Sub(c.dataAt)))
		span.RecordError(fetchErr)
	} else {
		c.dataAt = now
		c.ingest(frame)
	}
	c.derived.Push(c.derive())

	r := c.evaluate(now)
	c.last = r
	c.ticks++
	stopped := c.stopped
	var handlers []Handler
	result := "undefined"
	switch {
	case r.Stale:
		handlers, result = c.outLimit, "stale"
	case !r.Defined:
	case r.InLimit:
		handlers, result = c.inLimit, "in"
	default:
		handlers, result = c.outLimit, "out"
	}
	c.mu.Unlock()

	span.SetAttributes(attribute.String("result", result))
	c.metrics.RecordTick(c.name, result, r.Mean)
	c.logger.Trace(ctx, "tick",
		zap.String("result", result),
		zap.Float64("mean", r.Mean),
		zap.Bool("populated", r.Populated),
	)

	if stopped {
		return r
	}
	if r.Stale {
		c.logger.Warn(ctx, "data stale, reporting out of limit", zap.Duration("threshold", c.settings.StalenessThreshold()))
	}
	for _, h := range handlers {
		h(ctx, r)
	}
	return r
}

// ingest pushes the newest acc+1 samples of frame, oldest first.
func (c *Checker) ingest(frame gateway.Frame) {
	tail := frame.Tail(c.raw.Len())
	for i := 0; i < tail.Len(); i++ {
		c.raw.Push(c.selector.Select(tail.Row(i)))
		if c.observed < c.raw.Len() {
			c.observed++
		}
	}
}

// derive applies the coefficients to the raw window. It is NaN until acc+1
// samples have been observed; afterwards NaN slots count as zero.
func (c *Checker) derive() float64 {
	if c.observed < c.raw.Len() {
		return math.NaN()
	}
	return findiff.Apply(c.coef, c.raw.Values())
}

func (c *Checker) evaluate(now time.Time) Reading {
	mean, ok := c.derived.Mean()
	r := Reading{
		Checker:   c.name,
		Mean:      mean,
		Defined:   ok,
		Populated: c.raw.Full(),
		Stale:     now.Sub(c.dataAt) > c.settings.StalenessThreshold(),
		At:        now,
	}
	r.InLimit = ok && !r.Stale && c.settings.LowLimit < mean && mean < c.settings.HighLimit
	return r
}

// Evaluate re-evaluates the current windows without ticking or notifying.
func (c *Checker) Evaluate() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluate(c.now())
}

// Last returns the reading of the most recent tick.
func (c *Checker) Last() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Raw returns the raw window, oldest first.
func (c *Checker) Raw() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw.Values()
}

// Derived returns the derived window, oldest first.
func (c *Checker) Derived() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.derived.Values()
}

// Stop cancels the timer. A tick already queued still ingests but notifies
// no handler. Stop is idempotent.
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
}

// Stopped reports whether Stop has been called.
func (c *Checker) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Status returns an introspection snapshot.
func (c *Checker) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Name:     c.name,
		Selector: fmt.Sprint(c.selector),
		Settings: c.settings,
		Last:     c.last,
		Ticks:    c.ticks,
		Running:  c.running && !c.stopped,
		Stopped:  c.stopped,
	}
}
