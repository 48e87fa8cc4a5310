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

	checkCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coinwatch",
			Subsystem: "watcher",
			Name:      "cycles_total",
			Help:      "Number of completed check cycles.",
		},
	)
	productChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coinwatch",
			Subsystem: "watcher",
			Name:      "checks_total",
			Help:      "Number of product page checks by result.",
		}, []string{"result"},
	)
	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coinwatch",
			Subsystem: "watcher",
			Name:      "status_transitions_total",
			Help:      "Number of product status transitions.",
		}, []string{"from", "to"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coinwatch",
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Number of operator notifications sent, by kind.",
		}, []string{"kind"},
	)
	cartAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coinwatch",
			Subsystem: "cart",
			Name:      "attempts_total",
			Help:      "Number of add-to-cart attempts by outcome.",
		}, []string{"outcome"},
	)
	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coinwatch",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Number of completed login flows by result.",
		}, []string{"result"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coinwatch",
			Subsystem: "watcher",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one full check cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{checkCycles, productChecks, statusTransitions, notifications, cartAttempts, logins, cycleDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncCycle() {
	if regOK.Load() {
		checkCycles.Inc()
	}
}
func IncCheck(result string) {
	if regOK.Load() {
		productChecks.WithLabelValues(result).Inc()
	}
}
func RecordTransition(from, to string) {
	if regOK.Load() {
		statusTransitions.WithLabelValues(from, to).Inc()
	}
}
func IncNotification(kind string) {
	if regOK.Load() {
		notifications.WithLabelValues(kind).Inc()
	}
}
func IncCartAttempt(outcome string) {
	if regOK.Load() {
		cartAttempts.WithLabelValues(outcome).Inc()
	}
}
func IncLogin(result string) {
	if regOK.Load() {
		logins.WithLabelValues(result).Inc()
	}
}
func ObserveCycleDuration(seconds float64) {
	if regOK.Load() {
		cycleDuration.Observe(seconds)
	}
}
