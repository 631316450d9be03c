// Package metrics holds the Prometheus collectors of tcsd.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the sequencer collectors. A nil *Metrics records nothing.
type Metrics struct {
	CheckerTicks         *prometheus.CounterVec
	CheckerFetchFailures *prometheus.CounterVec
	CheckersActive       prometheus.Gauge
	CheckerMean          *prometheus.GaugeVec

	Transitions *prometheus.CounterVec
	Events      *prometheus.CounterVec

	ConstantsReloads *prometheus.CounterVec

	ActuatorCommands *prometheus.CounterVec
}

// New returns the process-wide collectors, registering them with the default
// registry on first use.
//
// Metrics:
//   - tcs_checker_ticks_total{checker,result} - ticks by in/out/undefined/stale
//   - tcs_checker_fetch_failures_total{checker} - data source failures after retries
//   - tcs_checkers_active - registered checkers
//   - tcs_checker_mean{checker} - last derived-window mean
//   - tcs_transitions_total{from,to,event} - statechart transitions
//   - tcs_events_total{event} - dispatched events
//   - tcs_constants_reloads_total{result} - constants document reloads
//   - tcs_actuator_commands_total{actuator,result} - equipment commands
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			CheckerTicks: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tcs_checker_ticks_total",
					Help: "Total checker ticks by evaluation result",
				},
				[]string{"checker", "result"},
			),
			CheckerFetchFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tcs_checker_fetch_failures_total",
					Help: "Total data source fetches that failed after retries",
				},
				[]string{"checker"},
			),
			CheckersActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "tcs_checkers_active",
					Help: "Number of registered checkers",
				},
			),
			CheckerMean: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "tcs_checker_mean",
					Help: "Last derived-window mean per checker",
				},
				[]string{"checker"},
			),
			Transitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tcs_transitions_total",
					Help: "Total statechart transitions",
				},
				[]string{"from", "to", "event"},
			),
			Events: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tcs_events_total",
					Help: "Total events dispatched to the statechart",
				},
				[]string{"event"},
			),
			ConstantsReloads: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tcs_constants_reloads_total",
					Help: "Total constants document reloads by result",
				},
				[]string{"result"},
			),
			ActuatorCommands: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tcs_actuator_commands_total",
					Help: "Total equipment commands by actuator and result",
				},
				[]string{"actuator", "result"},
			),
		}
	})
	return globalMetrics
}

// RecordTick counts a checker tick. result is "in", "out", "stale" or "undefined".
func (m *Metrics) RecordTick(checker, result string, mean float64) {
	if m == nil {
		return
	}
	m.CheckerTicks.WithLabelValues(checker, result).Inc()
	if result != "undefined" {
		m.CheckerMean.WithLabelValues(checker).Set(mean)
	}
}

// RecordFetchFailure counts a failed data source fetch.
func (m *Metrics) RecordFetchFailure(checker string) {
	if m == nil {
		return
	}
	m.CheckerFetchFailures.WithLabelValues(checker).Inc()
}

// SetActiveCheckers updates the registered checker gauge.
func (m *Metrics) SetActiveCheckers(n int) {
	if m == nil {
		return
	}
	m.CheckersActive.Set(float64(n))
}

// ForgetChecker drops the per-checker series of a removed checker.
func (m *Metrics) ForgetChecker(checker string) {
	if m == nil {
		return
	}
	m.CheckerMean.DeleteLabelValues(checker)
}

// RecordTransition counts a statechart transition.
func (m *Metrics) RecordTransition(from, to, event string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to, event).Inc()
}

// RecordEvent counts a dispatched event.
func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(event).Inc()
}

// RecordReload counts a constants reload; ok reports success.
func (m *Metrics) RecordReload(ok bool) {
	if m == nil {
		return
	}
	m.ConstantsReloads.WithLabelValues(result(ok)).Inc()
}

// RecordCommand counts an actuator command.
func (m *Metrics) RecordCommand(actuator string, ok bool) {
	if m == nil {
		return
	}
	m.ActuatorCommands.WithLabelValues(actuator, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
