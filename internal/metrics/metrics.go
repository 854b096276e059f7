package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posse",
			Subsystem: "deputy",
			Name:      "process_starts_total",
			Help:      "Number of successful process starts.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posse",
			Subsystem: "deputy",
			Name:      "process_stops_total",
			Help:      "Number of process stops (graceful or kill).",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posse",
			Subsystem: "deputy",
			Name:      "process_restarts_total",
			Help:      "Number of automatic restarts after an unplanned exit.",
		}, []string{"name"},
	)
	runningProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "posse",
			Subsystem: "deputy",
			Name:      "running_processes",
			Help:      "Current number of running managed processes.",
		},
	)
	pollTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "posse",
			Subsystem: "sheriff",
			Name:      "poll_ticks_total",
			Help:      "Number of completed mirror poll iterations.",
		},
	)
	deputyUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "posse",
			Subsystem: "sheriff",
			Name:      "deputy_up",
			Help:      "Whether the deputy's health endpoint answered (1) or not (0).",
		}, []string{"hostname"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processStops, processRestarts, runningProcesses, pollTicks, deputyUp}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// Already-registered collectors are fine (double Register with default registry).
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}

func SetRunningProcesses(n int) {
	if regOK.Load() {
		runningProcesses.Set(float64(n))
	}
}

func IncPollTick() {
	if regOK.Load() {
		pollTicks.Inc()
	}
}

func SetDeputyUp(hostname string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1.0
		}
		deputyUp.WithLabelValues(hostname).Set(v)
	}
}
