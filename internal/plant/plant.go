// Package plant is the process facade of the thermal storage: it knows the
// physical actions of the installation and arms the checkers that turn live
// measurements into process events. It does not know how phases follow each
// other; that is the state machine's job.
package plant

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tcsd/internal/actuator"
	"github.com/fyrsmithlabs/tcsd/internal/checker"
	"github.com/fyrsmithlabs/tcsd/internal/gateway"
	"github.com/fyrsmithlabs/tcsd/internal/logging"
	"github.com/fyrsmithlabs/tcsd/internal/loop"
	"github.com/fyrsmithlabs/tcsd/internal/metrics"
)

// Process events.
const (
	EventReady              = "ready"
	EventCharge             = "charge"
	EventDischarge          = "discharge"
	EventError              = "error"
	EventStableADTemp       = "stableADTemp"
	EventTemperatureReached = "temperatureReached"
	EventPowerReached       = "powerReached"
)

// Equipment.
const (
	StorageValveID = "XV-601"
	ADInletValve   = "XV-104"
	ADOutletValve  = "XV-105"
	MixingValve    = "MV-101"
	ADPump         = "P-111"
	ECPump         = "P-211"
)

// Measurements.
const (
	TagADInletTemp  = "TICA-101"
	TagADOutletTemp = "TICA-102"
	TagFlow         = "P-101"
	TagECFlow       = "FICA-131.PV"
)

// PowerExpr is the thermal power delivered to the storage in kW.
const PowerExpr = `4.2 * tag["FICA-131.PV"] * (tag["TICA-101"] - tag["TICA-102"]) / 3.6`

// Checker names.
const (
	CheckerCharge        = "Charge"
	CheckerDischarge     = "Discharge"
	CheckerSufficientF   = "SufficientF"
	CheckerSufficientT   = "SufficientT"
	CheckerSufficientTin = "SufficientTin"
	CheckerSufficientP   = "SufficientP"
	CheckerStableADTemp  = "StableADTemp"
)

// DefaultStableSamples is how many of the newest outlet temperature rows are
// averaged into the stable A/D temperature.
const DefaultStableSamples = 100

// StableTemp is the payload of EventStableADTemp.
type StableTemp struct {
	StableTemp float64 `json:"stable_temp"`
	Samples    int     `json:"samples"`
}

// Emitter receives the process events raised by checker handlers.
type Emitter func(ctx context.Context, event string, payload any)

// Option configures a Plant.
type Option func(*Plant)

// WithRegistry uses r instead of a fresh registry.
func WithRegistry(r *checker.Registry) Option {
	return func(p *Plant) { p.checkers = r }
}

// WithPoster sets where checker ticks run.
func WithPoster(poster loop.Poster) Option {
	return func(p *Plant) { p.poster = poster }
}

// WithLogger sets the facade logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Plant) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics counts actuator commands and is passed on to checkers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Plant) { p.metrics = m }
}

// WithEmitter sets the event sink.
func WithEmitter(e Emitter) Option {
	return func(p *Plant) { p.emit = e }
}

// WithCheckerOptions appends options to every checker the facade creates.
func WithCheckerOptions(opts ...checker.Option) Option {
	return func(p *Plant) { p.checkerOpts = append(p.checkerOpts, opts...) }
}

// WithContext bounds the lifetime of every checker the facade starts.
// Without it checkers run until stopped.
func WithContext(ctx context.Context) Option {
	return func(p *Plant) { p.ctx = ctx }
}

// WithTimers controls whether armed checkers start ticking on their own.
// Disabled, checkers only tick when Tick is called on them.
func WithTimers(enabled bool) Option {
	return func(p *Plant) { p.timers = enabled }
}

// WithStableSamples sets how many rows are averaged for the stable A/D
// temperature.
func WithStableSamples(n int) Option {
	return func(p *Plant) {
		if n > 0 {
			p.stableSamples = n
		}
	}
}

// Plant is the process facade. Operations and checker handlers run on the
// event loop.
type Plant struct {
	source   gateway.Source
	actuator actuator.Actuator
	checkers *checker.Registry
	poster   loop.Poster
	logger   *logging.Logger
	metrics  *metrics.Metrics
	emit     Emitter
	ctx      context.Context

	checkerOpts   []checker.Option
	timers        bool
	stableSamples int
}

// New returns a facade reading from source and commanding act.
func New(source gateway.Source, act actuator.Actuator, opts ...Option) *Plant {
	p := &Plant{
		source:        source,
		actuator:      act,
		poster:        loop.Inline{},
		logger:        logging.NewNop(),
		timers:        true,
		stableSamples: DefaultStableSamples,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.checkers == nil {
		p.checkers = checker.NewRegistry(p.metrics)
	}
	if p.emit == nil {
		p.emit = func(context.Context, string, any) {}
	}
	p.logger = p.logger.Named("plant")
	return p
}

// SetEmitter replaces the event sink. Call it before any operation runs.
func (p *Plant) SetEmitter(e Emitter) {
	if e != nil {
		p.emit = e
	}
}

// Checkers exposes the registry for introspection.
func (p *Plant) Checkers() *checker.Registry { return p.checkers }

// ScheduleReady raises EventReady once, delay from now, on the poster.
func (p *Plant) ScheduleReady(ctx context.Context, delay time.Duration) *time.Timer {
	return time.AfterFunc(delay, func() {
		p.poster.Post(func() {
			p.logger.Info(ctx, "plant ready")
			p.raise(ctx, EventReady, nil)
		})
	})
}

// lifetime returns the context checkers are started on. It never carries
// the cancellation of the event that armed them.
func (p *Plant) lifetime(ctx context.Context) context.Context {
	if p.ctx != nil {
		return p.ctx
	}
	return context.WithoutCancel(ctx)
}

// StopAll stops every registered checker.
func (p *Plant) StopAll() error {
	return p.checkers.Stop()
}

func (p *Plant) raise(ctx context.Context, event string, payload any) {
	p.logger.Debug(ctx, "raising event", logging.Event(event))
	p.emit(ctx, event, payload)
}

// send issues cmds in order. Failures are logged and joined; later commands
// are still sent.
func (p *Plant) send(ctx context.Context, cmds ...actuator.Command) error {
	var errs []error
	for _, cmd := range cmds {
		err := p.actuator.Send(ctx, cmd)
		p.metrics.RecordCommand(cmd.Actuator, err == nil)
		if err != nil {
			p.logger.Warn(ctx, "actuator command failed",
				zap.String("command", cmd.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
