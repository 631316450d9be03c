package plant

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/fyrsmithlabs/tcsd/internal/actuator"
	"github.com/fyrsmithlabs/tcsd/internal/checker"
	"github.com/fyrsmithlabs/tcsd/internal/gateway"
	"github.com/fyrsmithlabs/tcsd/internal/logging"
)

// TurnOffAll brings every piece of equipment to its safe position.
func (p *Plant) TurnOffAll(ctx context.Context) error {
	p.logger.Info(ctx, "turning off all equipment")
	return p.send(ctx,
		actuator.CloseValve(StorageValveID),
		actuator.CloseValve(ADInletValve),
		actuator.CloseValve(ADOutletValve),
		actuator.ManualOutput(MixingValve, 0),
		actuator.TurnOff(ADPump),
		actuator.TurnOff(ECPump),
	)
}

// TurnOffAD stops flow through the absorber/desorber.
func (p *Plant) TurnOffAD(ctx context.Context) error {
	p.logger.Info(ctx, "turning off the A/D")
	return p.send(ctx,
		actuator.ManualOutput(MixingValve, 0),
		actuator.TurnOff(ADPump),
		actuator.CloseValve(ADInletValve),
		actuator.CloseValve(ADOutletValve),
	)
}

// TurnOffEC stops flow through the evaporator/condenser.
func (p *Plant) TurnOffEC(ctx context.Context) error {
	p.logger.Info(ctx, "turning off the E/C")
	return p.send(ctx, actuator.TurnOff(ECPump))
}

// StartECFlow starts flow through the evaporator/condenser vessel.
func (p *Plant) StartECFlow(ctx context.Context) error {
	p.logger.Info(ctx, "running the E/C")
	return p.send(ctx, actuator.ManualOutput(ECPump, 100))
}

// StorageValve opens or closes the storage valve.
func (p *Plant) StorageValve(ctx context.Context, open bool) error {
	if open {
		return p.send(ctx, actuator.OpenValve(StorageValveID))
	}
	return p.send(ctx, actuator.CloseValve(StorageValveID))
}

// Neutral waits for an opportunity: EventCharge once the inlet temperature
// is within charge, EventDischarge once it is within discharge. Either one
// stops every checker first.
func (p *Plant) Neutral(ctx context.Context, charge, discharge checker.Settings) error {
	return p.arm(ctx,
		watch{
			name:     CheckerCharge,
			selector: checker.Column(TagADInletTemp),
			settings: charge,
			onIn:     p.stopAllAndRaise(EventCharge),
		},
		watch{
			name:     CheckerDischarge,
			selector: checker.Column(TagADInletTemp),
			settings: discharge,
			onIn:     p.stopAllAndRaise(EventDischarge),
		},
	)
}

// GetStableADTemp circulates through the A/D with the mixing valve closed
// and raises EventStableADTemp once the outlet temperature settles. Flow
// dropping outside fLimits raises EventError.
func (p *Plant) GetStableADTemp(ctx context.Context, tLimits, fLimits checker.Settings) error {
	if err := p.send(ctx,
		actuator.OpenValve(ADInletValve),
		actuator.OpenValve(ADOutletValve),
		actuator.ManualOutput(MixingValve, 0),
		actuator.ManualOutput(ADPump, 100),
	); err != nil {
		p.logger.Warn(ctx, "not every command was delivered", zap.Error(err))
	}
	p.logger.Info(ctx, "checking flow stays within limits", limitFields(fLimits)...)
	p.logger.Info(ctx, "waiting for the A/D outlet temperature to settle", limitFields(tLimits)...)

	return p.arm(ctx,
		watch{
			name:     CheckerSufficientF,
			selector: checker.Column(TagFlow),
			settings: fLimits,
			onOut:    p.fail,
		},
		watch{
			name:     CheckerStableADTemp,
			selector: checker.Column(TagADOutletTemp),
			settings: tLimits,
			onIn: func(ctx context.Context, _ checker.Reading) {
				p.logger.Info(ctx, "stable temperature reached")
				st := p.stableTemp(ctx)
				p.stop(ctx, CheckerStableADTemp, CheckerSufficientF)
				p.logger.Debug(ctx, "stable temperature",
					zap.Float64("stable_temp", st.StableTemp),
					zap.Int("samples", st.Samples),
				)
				p.raise(ctx, EventStableADTemp, st)
			},
		},
	)
}

// HeatConstPowerTo heats at constant power, holding the mixing valve deltaT
// above the return temperature at the given pump flow, until the inlet
// temperature is within tLimits.
func (p *Plant) HeatConstPowerTo(ctx context.Context, deltaT, flow float64, tLimits, fLimits checker.Settings) error {
	if err := p.send(ctx,
		actuator.AutoDelta(MixingValve, deltaT),
		actuator.AutoSetpoint(ADPump, flow),
	); err != nil {
		p.logger.Warn(ctx, "not every command was delivered", zap.Error(err))
	}
	p.logger.Info(ctx, "checking flow stays within limits", limitFields(fLimits)...)
	p.logger.Info(ctx, "waiting for the inlet temperature", limitFields(tLimits)...)

	return p.arm(ctx,
		watch{
			name:     CheckerSufficientF,
			selector: checker.Column(TagFlow),
			settings: fLimits,
			onOut:    p.fail,
		},
		watch{
			name:     CheckerSufficientT,
			selector: checker.Column(TagADInletTemp),
			settings: tLimits,
			onIn: func(ctx context.Context, _ checker.Reading) {
				p.logger.Info(ctx, "temperature limit reached")
				p.stop(ctx, CheckerSufficientT, CheckerSufficientF)
				p.raise(ctx, EventTemperatureReached, nil)
			},
		},
	)
}

// HeatConstTempTo heats at constant inlet temperature t until the delivered
// power is within pLimits. Flow outside fLimits, or the gap between t and
// the inlet temperature outside tLimits, raises EventError.
func (p *Plant) HeatConstTempTo(ctx context.Context, t, flow float64, tLimits, fLimits, pLimits checker.Settings) error {
	power, err := checker.Expr(PowerExpr)
	if err != nil {
		return fmt.Errorf("power expression: %w", err)
	}
	if err := p.send(ctx,
		actuator.AutoSetpoint(MixingValve, t),
		actuator.AutoSetpoint(ADPump, flow),
	); err != nil {
		p.logger.Warn(ctx, "not every command was delivered", zap.Error(err))
	}
	p.logger.Info(ctx, "waiting for the delivered power", limitFields(pLimits)...)

	return p.arm(ctx,
		watch{
			name:     CheckerSufficientF,
			selector: checker.Column(TagFlow),
			settings: fLimits,
			onOut:    p.fail,
		},
		watch{
			name: CheckerSufficientTin,
			selector: checker.SelectorFunc(func(row gateway.Row) float64 {
				return t - row.Value(TagADInletTemp)
			}),
			settings: tLimits,
			onOut:    p.fail,
		},
		watch{
			name:     CheckerSufficientP,
			selector: power,
			settings: pLimits,
			onIn: func(ctx context.Context, _ checker.Reading) {
				p.logger.Info(ctx, "power limit reached")
				p.stop(ctx, CheckerSufficientF, CheckerSufficientTin, CheckerSufficientP)
				p.raise(ctx, EventPowerReached, nil)
			},
		},
	)
}

// watch describes one checker armed by an operation.
type watch struct {
	name     string
	selector checker.Selector
	settings checker.Settings
	onIn     checker.Handler
	onOut    checker.Handler
}

// arm creates every watch before registering any of them, so a bad setting
// leaves the registry untouched. Handlers only fire while their checker is
// the one registered under its name.
func (p *Plant) arm(ctx context.Context, watches ...watch) error {
	opts := append([]checker.Option{
		checker.WithPoster(p.poster),
		checker.WithLogger(p.logger),
		checker.WithMetrics(p.metrics),
	}, p.checkerOpts...)

	created := make([]*checker.Checker, len(watches))
	for i, w := range watches {
		c, err := checker.New(w.name, w.selector, w.settings, p.source, opts...)
		if err != nil {
			return err
		}
		created[i] = c
	}

	for i, w := range watches {
		c := created[i]
		c.OnInLimit(p.guard(w.name, c, true, w.onIn))
		c.OnOutLimit(p.guard(w.name, c, false, w.onOut))
		if replaced := p.checkers.Register(w.name, c); replaced != nil {
			p.logger.Debug(ctx, "replacing checker", zap.String("checker", w.name))
			replaced.Stop()
		}
	}
	if p.timers {
		life := p.lifetime(ctx)
		for _, c := range created {
			c.Start(life)
		}
	}
	return nil
}

func (p *Plant) guard(name string, c *checker.Checker, inLimit bool, h checker.Handler) checker.Handler {
	return func(ctx context.Context, r checker.Reading) {
		if !p.checkers.Holds(name, c) {
			return
		}
		p.checkers.MarkStatus(name, inLimit)
		if h != nil {
			h(ctx, r)
		}
	}
}

func (p *Plant) stopAllAndRaise(event string) checker.Handler {
	return func(ctx context.Context, r checker.Reading) {
		p.logger.Info(ctx, "condition met", logging.Event(event), zap.Float64("mean", r.Mean))
		p.stop(ctx)
		p.raise(ctx, event, nil)
	}
}

// fail is the safety handler: stop everything and raise EventError.
func (p *Plant) fail(ctx context.Context, r checker.Reading) {
	p.logger.Warn(ctx, "safety limit violated",
		zap.String("checker", r.Checker),
		zap.Float64("mean", r.Mean),
		zap.Bool("stale", r.Stale),
	)
	p.stop(ctx)
	p.raise(ctx, EventError, nil)
}

func (p *Plant) stop(ctx context.Context, names ...string) {
	if err := p.checkers.Stop(names...); err != nil {
		p.logger.Debug(ctx, "stopping checkers", zap.Error(err))
	}
}

// stableTemp averages the newest outlet temperatures. If the data source is
// unavailable it falls back to the StableADTemp checker's raw window.
func (p *Plant) stableTemp(ctx context.Context) StableTemp {
	var values []float64
	frame, err := p.source.Last(ctx, gateway.DefaultMaxAge)
	if err == nil {
		values = finite(frame.Tail(p.stableSamples).Column(TagADOutletTemp))
	}
	if len(values) == 0 {
		if c, ok := p.checkers.Get(CheckerStableADTemp); ok {
			values = finite(c.Raw())
		}
		p.logger.Warn(ctx, "outlet temperature history unavailable, using checker window",
			zap.Error(err), zap.Int("samples", len(values)))
	}
	if len(values) == 0 {
		return StableTemp{StableTemp: math.NaN()}
	}
	return StableTemp{StableTemp: stat.Mean(values, nil), Samples: len(values)}
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func limitFields(s checker.Settings) []zap.Field {
	return []zap.Field{
		zap.Float64("lowlimit", s.LowLimit),
		zap.Float64("highlimit", s.HighLimit),
		zap.Int("der", s.Der),
		zap.Int("acc", s.Acc),
		zap.Int("window", s.Window),
	}
}
