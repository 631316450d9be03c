package phases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tcsd/internal/actuator"
	"github.com/fyrsmithlabs/tcsd/internal/checker"
	"github.com/fyrsmithlabs/tcsd/internal/gateway"
	"github.com/fyrsmithlabs/tcsd/internal/loop"
	"github.com/fyrsmithlabs/tcsd/internal/plant"
	"github.com/fyrsmithlabs/tcsd/internal/statechart"
)

// fastConstants ticks every checker each 20ms.
const fastConstants = `{
  "Neutral": {
    "Charge": {"lowlimit": 55, "interval": 20},
    "Discharge": {"highlimit": 15, "interval": 20}
  },
  "Charging": {
    "AD": {
      "Phase 1A": {
        "TICA-102": {"lowlimit": -0.1, "highlimit": 0.1, "der": 1, "acc": 1, "interval": 20},
        "FICA-111": {"lowlimit": 5, "interval": 20}
      },
      "Phase 1B": {
        "limit": 50, "deltaT": 5, "flow": 300,
        "TICA-101": {"lowlimit": 65, "interval": 20},
        "FICA-111": {"lowlimit": 100, "interval": 20}
      }
    }
  }
}`

type loopRig struct {
	lp      *loop.Loop
	plant   *plant.Plant
	machine *statechart.Machine
	rec     *actuator.Recorder
}

// newLoopRig runs the real facade on a real loop with checker timers on.
func newLoopRig(t *testing.T, frame gateway.Frame) *loopRig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	lp := loop.New(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = lp.Run(ctx)
	}()

	rig := &loopRig{lp: lp, rec: &actuator.Recorder{}}
	rig.plant = plant.New(gateway.NewStatic(frame), rig.rec,
		plant.WithContext(ctx),
		plant.WithPoster(lp),
		plant.WithCheckerOptions(checker.WithRetry(1, time.Millisecond)),
	)
	m, err := Build(Config{Plant: rig.plant, Constants: loadConstants(t, fastConstants)})
	require.NoError(t, err)
	rig.machine = m
	rig.plant.SetEmitter(func(ctx context.Context, event string, payload any) {
		_ = m.Send(ctx, event, payload)
	})

	t.Cleanup(func() {
		_ = lp.Do(context.Background(), func() {
			_ = rig.plant.StopAll()
			m.Stop()
		})
		cancel()
		<-done
	})

	rig.send(t, "")
	return rig
}

// send starts the machine when event is empty, otherwise dispatches event,
// on the loop.
func (r *loopRig) send(t *testing.T, event string) {
	t.Helper()
	var err error
	require.NoError(t, r.do(func() {
		if event == "" {
			err = r.machine.Start(context.Background())
			return
		}
		err = r.machine.Send(context.Background(), event, nil)
	}))
	require.NoError(t, err)
}

func (r *loopRig) do(fn func()) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return r.lp.Do(ctx, fn)
}

// inPhase reports whether the active configuration is exactly states.
func (r *loopRig) inPhase(states ...string) bool {
	var cfg []string
	if r.do(func() { cfg = r.machine.Configuration() }) != nil {
		return false
	}
	if len(cfg) != len(states) {
		return false
	}
	for i := range cfg {
		if cfg[i] != states[i] {
			return false
		}
	}
	return true
}

func (r *loopRig) status(name string) (checker.Status, bool) {
	var (
		st checker.Status
		ok bool
	)
	_ = r.do(func() {
		var c *checker.Checker
		if c, ok = r.plant.Checkers().Get(name); ok {
			st = c.Status()
		}
	})
	return st, ok
}

// ticksAfter waits until the named checker has ticked at least n times.
func (r *loopRig) ticksAfter(t *testing.T, name string, n uint64) {
	t.Helper()
	assert.Eventually(t, func() bool {
		st, ok := r.status(name)
		return ok && st.Running && st.Ticks >= n
	}, 2*time.Second, 10*time.Millisecond, "checker %s never ticked on its own", name)
}

func TestTimers_ChargeCycleAcrossTransitions(t *testing.T) {
	rig := newLoopRig(t, gateway.Frame{Values: map[string][]float64{
		plant.TagADInletTemp:  {60},
		plant.TagADOutletTemp: {60, 60},
		plant.TagFlow:         {150},
	}})

	rig.send(t, plant.EventReady)

	// Charge ticks in limit, Phase 1A settles on a flat outlet temperature,
	// 60 > 50 skips preheat, and Phase 2 keeps heating towards 65.
	assert.Eventually(t, func() bool {
		return rig.inPhase(StateADPhase2, StateECPhase1A)
	}, 2*time.Second, 10*time.Millisecond)

	rig.ticksAfter(t, plant.CheckerSufficientF, 2)
	rig.ticksAfter(t, plant.CheckerSufficientT, 2)

	for _, name := range []string{plant.CheckerCharge, plant.CheckerStableADTemp} {
		_, ok := rig.status(name)
		assert.False(t, ok, "%s still registered", name)
	}
	assert.NotEmpty(t, rig.rec.For(plant.ADPump))
}

func TestTimers_SafetyCheckerTicksAfterTransition(t *testing.T) {
	// The outlet keeps rising, so Phase 1A holds with both of its checkers
	// ticking on the timers the charge transition started.
	rig := newLoopRig(t, gateway.Frame{Values: map[string][]float64{
		plant.TagADInletTemp:  {60},
		plant.TagADOutletTemp: {40, 60},
		plant.TagFlow:         {150},
	}})

	rig.send(t, plant.EventReady)
	assert.Eventually(t, func() bool {
		return rig.inPhase(StateADPhase1A, StateECPhase1A)
	}, 2*time.Second, 10*time.Millisecond)
	rig.ticksAfter(t, plant.CheckerSufficientF, 2)
	rig.ticksAfter(t, plant.CheckerStableADTemp, 2)

	st, _ := rig.status(plant.CheckerStableADTemp)
	assert.False(t, st.Last.InLimit, "outlet temperature is still rising")
}
