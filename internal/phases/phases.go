// Package phases assembles the charge/discharge phase graph of the thermal
// storage on top of the statechart engine. States read the constants
// snapshot on entry and drive the process facade.
package phases

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tcsd/internal/checker"
	"github.com/fyrsmithlabs/tcsd/internal/constants"
	"github.com/fyrsmithlabs/tcsd/internal/logging"
	"github.com/fyrsmithlabs/tcsd/internal/metrics"
	"github.com/fyrsmithlabs/tcsd/internal/plant"
	"github.com/fyrsmithlabs/tcsd/internal/statechart"
)

// State ids.
const (
	StateRoot          = "TCS"
	StateStartingPoint = "StartingPoint"
	StateNeutral       = "Neutral"
	StateDischarging   = "Discharging" // terminal placeholder, left only on error
	StateCharging      = "Charging"
	StateAD            = "Charging.AD"
	StateADPhase1A     = "Charging.AD.Phase1A"
	StateADPhase1B     = "Charging.AD.Phase1B"
	StateADPhase2      = "Charging.AD.Phase2"
	StateADPhase3      = "Charging.AD.Phase3"
	StateADPhase3A     = "Charging.AD.Phase3A"
	StateADPhase3B     = "Charging.AD.Phase3B"
	StateEC            = "Charging.EC"
	StateECPhase1A     = "Charging.EC.Phase1A"
)

// EventWarmup ends the preheating phase.
const EventWarmup = "warmup"

// Constants document sections.
var (
	pathNeutral = []string{"Neutral"}
	pathPhase1A = []string{"Charging", "AD", "Phase 1A"}
	pathPhase1B = []string{"Charging", "AD", "Phase 1B"}
	pathPhase3A = []string{"Charging", "AD", "Phase 3A"}
	pathPhase3B = []string{"Charging", "AD", "Phase 3B"}
)

// Plant is the facade the phases drive.
type Plant interface {
	TurnOffAll(ctx context.Context) error
	TurnOffAD(ctx context.Context) error
	TurnOffEC(ctx context.Context) error
	StartECFlow(ctx context.Context) error
	StorageValve(ctx context.Context, open bool) error
	Neutral(ctx context.Context, charge, discharge checker.Settings) error
	GetStableADTemp(ctx context.Context, tLimits, fLimits checker.Settings) error
	HeatConstPowerTo(ctx context.Context, deltaT, flow float64, tLimits, fLimits checker.Settings) error
	HeatConstTempTo(ctx context.Context, t, flow float64, tLimits, fLimits, pLimits checker.Settings) error
	StopAll() error
}

var _ Plant = (*plant.Plant)(nil)

// Constants publishes the current constants snapshot.
type Constants interface {
	Snapshot() *constants.Snapshot
}

// Config holds the collaborators of the phase graph.
type Config struct {
	Plant     Plant
	Constants Constants
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Observers []statechart.Observer
}

// DefaultChargeLimits is used when Neutral.Charge is not configured.
func DefaultChargeLimits() checker.Settings {
	s := checker.DefaultSettings()
	s.LowLimit = 50
	return s
}

// DefaultDischargeLimits is used when Neutral.Discharge is not configured.
func DefaultDischargeLimits() checker.Settings {
	s := checker.DefaultSettings()
	s.HighLimit = 20
	return s
}

type graph struct {
	plant     Plant
	constants Constants
	logger    *logging.Logger
	machine   *statechart.Machine
}

// Build assembles the phase graph. The machine is returned unstarted.
func Build(cfg Config) (*statechart.Machine, error) {
	if cfg.Plant == nil || cfg.Constants == nil {
		return nil, errors.New("phases: plant and constants are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	g := &graph{
		plant:     cfg.Plant,
		constants: cfg.Constants,
		logger:    logger.Named("phases"),
	}

	b := statechart.NewBuilder(StateRoot, statechart.Initial(StateStartingPoint))
	b.State(StateStartingPoint, StateRoot)
	b.State(StateNeutral, StateRoot, statechart.OnEntry(g.enterNeutral))
	b.State(StateDischarging, StateRoot, statechart.OnEntry(g.enterDischarging))

	b.Parallel(StateCharging, StateRoot, statechart.OnExit(g.exitCharging))
	b.State(StateAD, StateCharging,
		statechart.Initial(StateADPhase1A),
		statechart.OnExit(g.action("turning off the A/D", g.plant.TurnOffAD)))
	b.State(StateADPhase1A, StateAD, statechart.OnEntry(g.enterPhase1A))
	b.State(StateADPhase1B, StateAD, statechart.OnEntry(g.enterPhase1B))
	b.State(StateADPhase2, StateAD, statechart.OnEntry(g.enterPhase2))
	b.State(StateADPhase3, StateAD,
		statechart.Initial(StateADPhase3A),
		statechart.OnEntry(g.action("opening the storage valve", func(ctx context.Context) error {
			return g.plant.StorageValve(ctx, true)
		})))
	b.State(StateADPhase3A, StateADPhase3, statechart.OnEntry(g.enterPhase3A))
	b.State(StateADPhase3B, StateADPhase3, statechart.OnEntry(g.enterPhase3B))
	b.State(StateEC, StateCharging,
		statechart.OnExit(g.action("turning off the E/C", g.plant.TurnOffEC)))
	b.State(StateECPhase1A, StateEC,
		statechart.OnEntry(g.action("running the E/C", g.plant.StartECFlow)))

	b.Transition(StateStartingPoint, plant.EventReady, StateNeutral)
	b.Transition(StateNeutral, plant.EventCharge, StateCharging)
	b.Transition(StateNeutral, plant.EventDischarge, StateDischarging)
	b.Transition(StateDischarging, plant.EventError, StateNeutral)
	b.Transition(StateCharging, plant.EventError, StateNeutral)
	b.Transition(StateADPhase1A, plant.EventStableADTemp, StateADPhase1B)
	b.Transition(StateADPhase1B, plant.EventTemperatureReached, "", statechart.Do(g.warmup))
	b.Transition(StateADPhase1B, EventWarmup, StateADPhase2)
	b.Transition(StateADPhase2, plant.EventTemperatureReached, StateADPhase3)
	b.Transition(StateADPhase3A, plant.EventTemperatureReached, StateADPhase3B)
	b.Transition(StateADPhase3B, plant.EventPowerReached, StateNeutral)

	opts := []statechart.Option{
		statechart.WithLogger(logger),
		statechart.WithMetrics(cfg.Metrics),
	}
	for _, o := range cfg.Observers {
		opts = append(opts, statechart.WithObserver(o))
	}
	m, err := b.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("building phase graph: %w", err)
	}
	g.machine = m
	return m, nil
}

// action logs msg and runs op, reporting failures as a process error.
func (g *graph) action(msg string, op func(context.Context) error) statechart.Action {
	return func(ctx context.Context, _ statechart.Event) {
		g.logger.Info(ctx, msg)
		if err := op(ctx); err != nil {
			g.logger.Warn(ctx, "equipment command failed", zap.Error(err))
		}
	}
}

// fail reports an entry that could not arm its checkers and unwinds through
// the error transition.
func (g *graph) fail(ctx context.Context, err error) {
	g.logger.Error(ctx, "phase entry failed", zap.Error(err))
	g.raise(ctx, plant.EventError, nil)
}

func (g *graph) raise(ctx context.Context, event string, payload any) {
	if err := g.machine.Send(ctx, event, payload); err != nil {
		g.logger.Warn(ctx, "event dropped", logging.Event(event), zap.Error(err))
	}
}

func (g *graph) warmup(ctx context.Context, _ statechart.Event) {
	g.raise(ctx, EventWarmup, nil)
}

func (g *graph) enterNeutral(ctx context.Context, _ statechart.Event) {
	g.logger.Info(ctx, "neutral, waiting for opportunity")
	if err := g.plant.TurnOffAll(ctx); err != nil {
		g.logger.Warn(ctx, "equipment command failed", zap.Error(err))
	}

	snap := g.constants.Snapshot()
	charge, err := snap.LimitsOr(DefaultChargeLimits(), at(pathNeutral, "Charge")...)
	if err != nil {
		g.logger.Error(ctx, "invalid charge limits, using defaults", zap.Error(err))
		charge = DefaultChargeLimits()
	}
	discharge, err := snap.LimitsOr(DefaultDischargeLimits(), at(pathNeutral, "Discharge")...)
	if err != nil {
		g.logger.Error(ctx, "invalid discharge limits, using defaults", zap.Error(err))
		discharge = DefaultDischargeLimits()
	}
	if err := g.plant.Neutral(ctx, charge, discharge); err != nil {
		g.logger.Error(ctx, "arming neutral checkers", zap.Error(err))
	}
}

// enterDischarging marks a terminal placeholder: no checker is armed, so the
// machine stays in Discharging until an external error event or the run ends.
func (g *graph) enterDischarging(ctx context.Context, _ statechart.Event) {
	g.logger.Info(ctx, "discharging; no discharge sequence is implemented, waiting for error or shutdown")
}

func (g *graph) exitCharging(ctx context.Context, _ statechart.Event) {
	if err := g.plant.StopAll(); err != nil {
		g.logger.Debug(ctx, "stopping checkers", zap.Error(err))
	}
}

// enterPhase1A determines the A/D temperature.
func (g *graph) enterPhase1A(ctx context.Context, _ statechart.Event) {
	g.logger.Info(ctx, "determining A/D temperature")
	snap := g.constants.Snapshot()
	t, err := snap.Limits(at(pathPhase1A, "TICA-102")...)
	if err != nil {
		g.fail(ctx, err)
		return
	}
	f, err := snap.Limits(at(pathPhase1A, "FICA-111")...)
	if err != nil {
		g.fail(ctx, err)
		return
	}
	if err := g.plant.GetStableADTemp(ctx, t, f); err != nil {
		g.fail(ctx, err)
	}
}

// enterPhase1B preheats the A/D unless it is already warmer than the limit.
func (g *graph) enterPhase1B(ctx context.Context, ev statechart.Event) {
	snap := g.constants.Snapshot()
	limit, err := snap.Float(at(pathPhase1B, "limit")...)
	if err != nil {
		g.fail(ctx, err)
		return
	}

	stable, ok := ev.Payload.(plant.StableTemp)
	if !ok {
		g.logger.Warn(ctx, "no stable temperature in event, preheating", zap.Any("payload", ev.Payload))
	}
	if ok && stable.StableTemp > limit {
		g.logger.Info(ctx, "stable temperature is higher than limit, skipping preheat",
			zap.Float64("stable_temp", stable.StableTemp),
			zap.Float64("limit", limit),
		)
		g.raise(ctx, EventWarmup, nil)
		return
	}

	g.logger.Info(ctx, "stable temperature is lower than limit, preheating",
		zap.Float64("stable_temp", stable.StableTemp),
		zap.Float64("limit", limit),
	)
	g.heatConstPower(ctx, pathPhase1B)
}

// enterPhase2 warms the A/D up to the charging start temperature.
func (g *graph) enterPhase2(ctx context.Context, _ statechart.Event) {
	g.logger.Info(ctx, "warming up")
	g.heatConstPower(ctx, pathPhase1B)
}

// enterPhase3A charges at constant power.
func (g *graph) enterPhase3A(ctx context.Context, _ statechart.Event) {
	g.logger.Info(ctx, "charging, heating up")
	g.heatConstPower(ctx, pathPhase3A)
}

// enterPhase3B charges at constant temperature until the delivered power
// drops.
func (g *graph) enterPhase3B(ctx context.Context, _ statechart.Event) {
	g.logger.Info(ctx, "charging, max temperature")
	snap := g.constants.Snapshot()

	var errs []error
	num := func(key string) float64 {
		v, err := snap.Float(at(pathPhase3B, key)...)
		errs = append(errs, err)
		return v
	}
	lim := func(key string) checker.Settings {
		v, err := snap.Limits(at(pathPhase3B, key)...)
		errs = append(errs, err)
		return v
	}
	t, flow := num("T"), num("flow")
	tl, fl, pl := lim("TICA-101"), lim("FICA-111"), lim("Power")
	if err := errors.Join(errs...); err != nil {
		g.fail(ctx, err)
		return
	}
	if err := g.plant.HeatConstTempTo(ctx, t, flow, tl, fl, pl); err != nil {
		g.fail(ctx, err)
	}
}

func (g *graph) heatConstPower(ctx context.Context, section []string) {
	snap := g.constants.Snapshot()
	deltaT, err1 := snap.Float(at(section, "deltaT")...)
	flow, err2 := snap.Float(at(section, "flow")...)
	t, err3 := snap.Limits(at(section, "TICA-101")...)
	f, err4 := snap.Limits(at(section, "FICA-111")...)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		g.fail(ctx, err)
		return
	}
	if err := g.plant.HeatConstPowerTo(ctx, deltaT, flow, t, f); err != nil {
		g.fail(ctx, err)
	}
}

func at(section []string, key string) []string {
	return append(append([]string(nil), section...), key)
}
