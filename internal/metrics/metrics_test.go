package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_Singleton(t *testing.T) {
	assert.Same(t, New(), New())
}

func TestMetrics_Record(t *testing.T) {
	m := New()

	before := testutil.ToFloat64(m.CheckerTicks.WithLabelValues("Charge", "in"))
	m.RecordTick("Charge", "in", 55)
	assert.Equal(t, before+1, testutil.ToFloat64(m.CheckerTicks.WithLabelValues("Charge", "in")))
	assert.Equal(t, 55.0, testutil.ToFloat64(m.CheckerMean.WithLabelValues("Charge")))

	m.SetActiveCheckers(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CheckersActive))

	before = testutil.ToFloat64(m.ConstantsReloads.WithLabelValues("error"))
	m.RecordReload(false)
	assert.Equal(t, before+1, testutil.ToFloat64(m.ConstantsReloads.WithLabelValues("error")))

	before = testutil.ToFloat64(m.ActuatorCommands.WithLabelValues("P-111", "success"))
	m.RecordCommand("P-111", true)
	assert.Equal(t, before+1, testutil.ToFloat64(m.ActuatorCommands.WithLabelValues("P-111", "success")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTick("x", "out", 1)
		m.RecordFetchFailure("x")
		m.SetActiveCheckers(1)
		m.ForgetChecker("x")
		m.RecordTransition("a", "b", "e")
		m.RecordEvent("e")
		m.RecordReload(true)
		m.RecordCommand("a", false)
	})
}
