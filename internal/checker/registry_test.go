package checker

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tcsd/internal/gateway"
)

func mustChecker(t *testing.T, name string) *Checker {
	t.Helper()
	c, err := New(name, Column("TICA-101"), DefaultSettings(), gateway.NewStatic(frameOf("TICA-101", 1)), WithRetry(1, time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestRegistry_ReplaceDoesNotStop(t *testing.T) {
	r := NewRegistry(nil)
	first := mustChecker(t, "Charge")
	second := mustChecker(t, "Charge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first.Start(ctx)

	assert.Nil(t, r.Register("Charge", first))
	replaced := r.Register("Charge", second)
	assert.Same(t, first, replaced)

	assert.False(t, first.Stopped())
	assert.True(t, first.Status().Running)
	assert.Equal(t, []string{"Charge"}, r.Active())
	assert.True(t, r.Holds("Charge", second))
	assert.False(t, r.Holds("Charge", first))

	require.NoError(t, r.Stop("Charge"))
	assert.True(t, second.Stopped())
	assert.False(t, first.Stopped(), "replaced checker is the caller's to stop")
	first.Stop()
}

func TestRegistry_StopAll(t *testing.T) {
	r := NewRegistry(nil)
	a, b := mustChecker(t, "a"), mustChecker(t, "b")
	r.Register("a", a)
	r.Register("b", b)

	require.NoError(t, r.Stop())
	assert.Empty(t, r.Active())
	assert.True(t, a.Stopped())
	assert.True(t, b.Stopped())
	assert.NoError(t, r.Stop(), "stopping an empty registry")
}

func TestRegistry_StopNamed(t *testing.T) {
	r := NewRegistry(nil)
	for _, n := range []string{"SufficientF", "SufficientT", "Charge"} {
		r.Register(n, mustChecker(t, n))
	}

	err := r.Stop("SufficientF", "Missing", "SufficientT")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "Missing")
	assert.Equal(t, []string{"Charge"}, r.Active())

	assert.ErrorIs(t, r.Stop("SufficientF"), ErrNotFound)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(nil)
	c := mustChecker(t, "b")
	r.Register("b", c)
	r.Register("a", mustChecker(t, "a"))

	got, ok := r.Get("b")
	require.True(t, ok)
	assert.Same(t, c, got)
	_, ok = r.Get("z")
	assert.False(t, ok)

	names := r.Active()
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, 2, r.Len())

	st := r.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "a", st[0].Name)
	assert.Equal(t, "b", st[1].Name)
}

func TestRegistry_AllInLimit(t *testing.T) {
	r := NewRegistry(nil)
	assert.False(t, r.AllInLimit(), "nothing registered")

	r.Register("T", mustChecker(t, "T"))
	r.Register("F", mustChecker(t, "F"))

	r.MarkStatus("T", true)
	assert.False(t, r.AllInLimit())
	assert.True(t, r.AllInLimit("T"))

	r.MarkStatus("F", true)
	r.MarkStatus("ghost", true)
	assert.True(t, r.AllInLimit())

	r.MarkStatus("F", false)
	assert.False(t, r.AllInLimit())

	// Re-registration resets the mark.
	r.MarkStatus("F", true)
	r.Register("F", mustChecker(t, "F"))
	assert.False(t, r.AllInLimit())
}
