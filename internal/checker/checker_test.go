package checker

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tcsd/internal/findiff"
	"github.com/fyrsmithlabs/tcsd/internal/gateway"
	"github.com/fyrsmithlabs/tcsd/internal/loop"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// events counts notifications per kind.
type events struct {
	mu       sync.Mutex
	in, out  int
	readings []Reading
}

func (e *events) attach(c *Checker) {
	c.OnInLimit(func(_ context.Context, r Reading) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.in++
		e.readings = append(e.readings, r)
	})
	c.OnOutLimit(func(_ context.Context, r Reading) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.out++
		e.readings = append(e.readings, r)
	})
}

func (e *events) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.in, e.out
}

func frameOf(tag string, values ...float64) gateway.Frame {
	return gateway.Frame{Values: map[string][]float64{tag: values}}
}

func newTestChecker(t *testing.T, settings Settings, src gateway.Source, opts ...Option) (*Checker, *events) {
	t.Helper()
	opts = append([]Option{WithRetry(1, time.Millisecond)}, opts...)
	c, err := New("test", Column("TICA-101"), settings, src, opts...)
	require.NoError(t, err)
	ev := &events{}
	ev.attach(c)
	return c, ev
}

func TestNew_InsufficientAccuracy(t *testing.T) {
	s := DefaultSettings()
	s.Der = 2
	s.Acc = 1
	_, err := New("bad", Column("x"), s, gateway.NewStatic(gateway.Frame{}))
	assert.ErrorIs(t, err, findiff.ErrInsufficientAccuracy)

	_, err = New("nil", nil, DefaultSettings(), gateway.NewStatic(gateway.Frame{}))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestChecker_WindowCorrectness(t *testing.T) {
	s := DefaultSettings()
	s.Acc = 2
	src := gateway.NewStatic(frameOf("TICA-101", 10))
	c, ev := newTestChecker(t, s, src)
	ctx := context.Background()

	r := c.Tick(ctx)
	assert.False(t, r.Defined, "one of three samples")
	assert.True(t, math.IsNaN(c.Derived()[0]))

	src.Set(frameOf("TICA-101", 20))
	r = c.Tick(ctx)
	assert.False(t, r.Defined, "two of three samples")

	in, out := ev.counts()
	assert.Zero(t, in+out, "undefined mean emits nothing")

	src.Set(frameOf("TICA-101", 30))
	r = c.Tick(ctx)
	require.True(t, r.Defined)
	assert.InDelta(t, 20.0, r.Mean, 1e-12)
	assert.Equal(t, []float64{10, 20, 30}, c.Raw())
	assert.True(t, r.Populated)
}

func TestChecker_IngestsNewestRowsOfBatch(t *testing.T) {
	s := DefaultSettings()
	s.Acc = 1
	src := gateway.NewStatic(frameOf("TICA-101", 1, 2, 3, 4))
	c, _ := newTestChecker(t, s, src)

	r := c.Tick(context.Background())
	assert.Equal(t, []float64{3, 4}, c.Raw())
	assert.InDelta(t, 3.5, r.Mean, 1e-12)
}

func TestChecker_StrictBounds(t *testing.T) {
	tests := []struct {
		value  float64
		inside bool
	}{
		{0, false},
		{10, false},
		{5, true},
		{-1, false},
		{10.0001, false},
	}
	for _, tt := range tests {
		s := DefaultSettings()
		s.LowLimit = 0
		s.HighLimit = 10
		c, ev := newTestChecker(t, s, gateway.NewStatic(frameOf("TICA-101", tt.value)))

		r := c.Tick(context.Background())
		assert.Equal(t, tt.inside, r.InLimit, "value %v", tt.value)
		in, out := ev.counts()
		if tt.inside {
			assert.Equal(t, [2]int{1, 0}, [2]int{in, out})
		} else {
			assert.Equal(t, [2]int{0, 1}, [2]int{in, out})
		}
	}
}

func TestChecker_SingleEventPerTick(t *testing.T) {
	s := DefaultSettings()
	s.LowLimit = 40
	s.HighLimit = 60
	s.Window = 3
	src := gateway.NewStatic(frameOf("TICA-101", 50))
	c, ev := newTestChecker(t, s, src)

	values := []float64{50, 70, 80, 30, 45, 55}
	for i, v := range values {
		src.Set(frameOf("TICA-101", v))
		c.Tick(context.Background())
		in, out := ev.counts()
		assert.Equal(t, i+1, in+out, "tick %d", i)
	}
	assert.Equal(t, uint64(len(values)), c.Status().Ticks)
}

func TestChecker_Derivative(t *testing.T) {
	s := DefaultSettings()
	s.Der = 1
	s.Acc = 2
	s.HighLimit = 0.5
	src := gateway.NewStatic(frameOf("TICA-102", 10, 12, 14))
	c, err := New("slope", Column("TICA-102"), s, src, WithRetry(1, time.Millisecond))
	require.NoError(t, err)

	r := c.Tick(context.Background())
	assert.InDelta(t, 2.0, r.Mean, 1e-9)
	assert.False(t, r.InLimit, "still heating")

	src.Set(frameOf("TICA-102", 52, 52.1, 52.2))
	r = c.Tick(context.Background())
	// Window of one: only the newest derivative counts.
	assert.InDelta(t, 0.1, r.Mean, 1e-9)
	assert.True(t, r.InLimit)
}

func TestChecker_MissingSlotsCountAsZero(t *testing.T) {
	s := DefaultSettings()
	s.Acc = 1
	src := gateway.NewStatic(frameOf("TICA-101", 10, 10))
	c, _ := newTestChecker(t, s, src)

	r := c.Tick(context.Background())
	assert.Equal(t, 10.0, r.Mean)
	assert.True(t, r.Populated)

	src.Set(frameOf("TICA-101", 10, math.NaN()))
	r = c.Tick(context.Background())
	assert.Equal(t, 5.0, r.Mean)
	assert.False(t, r.Populated)
}

func TestChecker_FailedFetchReusesDataUntilStale(t *testing.T) {
	clock := newFakeClock()
	s := DefaultSettings()
	s.LowLimit = 0
	s.HighLimit = 100
	src := gateway.NewStatic(frameOf("TICA-101", 50))
	c, ev := newTestChecker(t, s, src, WithClock(clock.Now))
	ctx := context.Background()

	require.True(t, c.Tick(ctx).InLimit)

	src.Fail(errors.New("gateway unreachable"))
	clock.Advance(3 * time.Second)
	r := c.Tick(ctx)
	assert.True(t, r.InLimit, "previous data reused")
	assert.False(t, r.Stale)

	clock.Advance(3 * time.Second)
	r = c.Tick(ctx)
	assert.True(t, r.Stale)
	assert.False(t, r.InLimit)
	in, out := ev.counts()
	assert.Equal(t, 2, in)
	assert.Equal(t, 1, out)
	assert.True(t, ev.readings[2].Stale)

	src.Set(frameOf("TICA-101", 50))
	clock.Advance(time.Second)
	r = c.Tick(ctx)
	assert.False(t, r.Stale)
	assert.True(t, r.InLimit)
}

func TestChecker_StaleWithoutEverReceivingData(t *testing.T) {
	clock := newFakeClock()
	src := gateway.NewStatic(gateway.Frame{})
	src.Fail(errors.New("down"))
	c, ev := newTestChecker(t, DefaultSettings(), src, WithClock(clock.Now))

	c.Tick(context.Background())
	in, out := ev.counts()
	assert.Zero(t, in+out)

	clock.Advance(6 * time.Second)
	r := c.Tick(context.Background())
	assert.True(t, r.Stale)
	_, out = ev.counts()
	assert.Equal(t, 1, out)
}

func TestChecker_StopSuppressesHandlers(t *testing.T) {
	c, ev := newTestChecker(t, DefaultSettings(), gateway.NewStatic(frameOf("TICA-101", 1)))

	c.Stop()
	c.Stop()
	assert.True(t, c.Stopped())

	r := c.Tick(context.Background())
	assert.True(t, r.InLimit)
	in, out := ev.counts()
	assert.Zero(t, in+out)
}

func TestChecker_RunningTracksTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s := DefaultSettings()
	s.Interval = 10 * time.Millisecond
	c, _ := newTestChecker(t, s, gateway.NewStatic(frameOf("TICA-101", 1)))

	assert.False(t, c.Status().Running, "not started")
	c.Start(ctx)
	assert.True(t, c.Status().Running)

	cancel()
	assert.Eventually(t, func() bool { return !c.Status().Running }, time.Second, 5*time.Millisecond)
	assert.False(t, c.Stopped())
}

func TestChecker_HandlerContextOutlivesStop(t *testing.T) {
	s := DefaultSettings()
	s.Interval = 10 * time.Millisecond
	c, _ := newTestChecker(t, s, gateway.NewStatic(frameOf("TICA-101", 1)))

	got := make(chan error, 1)
	c.OnInLimit(func(ctx context.Context, _ Reading) {
		c.Stop()
		select {
		case got <- ctx.Err():
		default:
		}
	})
	c.Start(context.Background())
	defer c.Stop()

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestChecker_StartTicksThroughLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := loop.New(nil)
	go func() { _ = l.Run(ctx) }()

	s := DefaultSettings()
	s.Interval = 10 * time.Millisecond
	c, ev := newTestChecker(t, s, gateway.NewStatic(frameOf("TICA-101", 1)), WithPoster(l))

	c.Start(ctx)
	c.Start(ctx)
	assert.True(t, c.Status().Running)

	assert.Eventually(t, func() bool {
		in, _ := ev.counts()
		return in >= 3
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	assert.False(t, c.Status().Running)
	require.NoError(t, l.Do(ctx, func() {}))
	in, _ := ev.counts()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.Do(ctx, func() {}))
	after, _ := ev.counts()
	assert.Equal(t, in, after, "no notifications after stop")
}

func TestChecker_ExprSelector(t *testing.T) {
	sel, err := Expr(`4.2 * tag["FICA-131.PV"] * (tag["TICA-101"] - tag["TICA-102"]) / 3.6`)
	require.NoError(t, err)
	assert.Equal(t, `4.2 * tag["FICA-131.PV"] * (tag["TICA-101"] - tag["TICA-102"]) / 3.6`, sel.String())

	frame := gateway.Frame{Values: map[string][]float64{
		"FICA-131.PV": {3},
		"TICA-101":    {80},
		"TICA-102":    {50},
	}}
	assert.InDelta(t, 105.0, sel.Select(frame.Row(0)), 1e-9)

	missing := gateway.Frame{Values: map[string][]float64{"TICA-101": {80}}}
	assert.True(t, math.IsNaN(sel.Select(missing.Row(0))))

	_, err = Expr(`tag["TICA-101"] > 3.0`)
	assert.Error(t, err, "bool result rejected")

	_, err = Expr(`tag[`)
	assert.Error(t, err)
}

func TestChecker_StatusJSON(t *testing.T) {
	s := DefaultSettings()
	s.Acc = 3
	c, _ := newTestChecker(t, s, gateway.NewStatic(frameOf("TICA-101", 1)))
	c.Tick(context.Background())

	st := c.Status()
	assert.Equal(t, "TICA-101", st.Selector)
	assert.False(t, st.Last.Defined)

	b, err := json.Marshal(st)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	last := decoded["last"].(map[string]any)
	assert.Nil(t, last["mean"])
	assert.Equal(t, "test", decoded["name"])
}

func TestReading_JSONRoundTrip(t *testing.T) {
	in := Reading{Checker: "charge", Mean: 12.5, Defined: true, InLimit: true}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Reading
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.Checker, out.Checker)
	assert.Equal(t, 12.5, out.Mean)
	assert.True(t, out.InLimit)

	require.NoError(t, json.Unmarshal([]byte(`{"checker":"x","mean":null}`), &out))
	assert.True(t, math.IsNaN(out.Mean))
}

// ageSource records the maxAge passed to Last.
type ageSource struct {
	*gateway.Static
	ages []time.Duration
}

func (s *ageSource) Last(ctx context.Context, maxAge time.Duration) (gateway.Frame, error) {
	s.ages = append(s.ages, maxAge)
	return s.Static.Last(ctx, maxAge)
}

func TestChecker_CacheAge(t *testing.T) {
	s := DefaultSettings()
	s.Interval = 2 * time.Second

	src := &ageSource{Static: gateway.NewStatic(frameOf("TICA-101", 1))}
	c, _ := newTestChecker(t, s, src)
	c.Tick(context.Background())

	capped, _ := newTestChecker(t, s, src, WithMaxAge(200*time.Millisecond))
	capped.Tick(context.Background())

	loose, _ := newTestChecker(t, s, src, WithMaxAge(time.Minute))
	loose.Tick(context.Background())

	assert.Equal(t, []time.Duration{time.Second, 200 * time.Millisecond, time.Second}, src.ages)
}
