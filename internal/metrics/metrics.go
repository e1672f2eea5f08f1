package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "symbiont",
			Subsystem: "service",
			Name:      "builds_total",
			Help:      "Number of service interface constructions by outcome.",
		}, []string{"service", "outcome"},
	)
	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "symbiont",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of service starts.",
		}, []string{"service"},
	)
	serviceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "symbiont",
			Subsystem: "service",
			Name:      "failures_total",
			Help:      "Number of services whose start returned an error.",
		}, []string{"service"},
	)
	serviceRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "symbiont",
			Subsystem: "service",
			Name:      "run_duration_seconds",
			Help:      "Time between a service start and its return.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
	servicesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "symbiont",
			Subsystem: "service",
			Name:      "running",
			Help:      "Services currently inside Start.",
		},
	)

	controlRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "symbiont",
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "Control protocol requests by action and outcome.",
		}, []string{"action", "outcome"},
	)
	controlConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "symbiont",
			Subsystem: "control",
			Name:      "open_connections",
			Help:      "Open control protocol connections.",
		},
	)
	clientReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "symbiont",
			Subsystem: "control",
			Name:      "client_reconnects_total",
			Help:      "Reconnect attempts made by the control client.",
		},
	)

	registryTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "symbiont",
			Subsystem: "registry",
			Name:      "status_transitions_total",
			Help:      "Process record status transitions.",
		}, []string{"service", "from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceBuilds, serviceStarts, serviceFailures, serviceRunDuration, servicesRunning,
		controlRequests, controlConnections, clientReconnects, registryTransitions,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with the default registry by an earlier caller
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
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncBuild(service string, ok bool) {
	if regOK.Load() {
		outcome := "ok"
		if !ok {
			outcome = "error"
		}
		serviceBuilds.WithLabelValues(service, outcome).Inc()
	}
}

// ServiceStarted records a start and returns the func to call when Start returns.
func ServiceStarted(service string) func(err error) {
	if !regOK.Load() {
		return func(error) {}
	}
	began := time.Now()
	serviceStarts.WithLabelValues(service).Inc()
	servicesRunning.Inc()
	return func(err error) {
		servicesRunning.Dec()
		serviceRunDuration.WithLabelValues(service).Observe(time.Since(began).Seconds())
		if err != nil {
			serviceFailures.WithLabelValues(service).Inc()
		}
	}
}

func IncControlRequest(action, outcome string) {
	if regOK.Load() {
		controlRequests.WithLabelValues(action, outcome).Inc()
	}
}

func AddControlConnections(delta int) {
	if regOK.Load() {
		controlConnections.Add(float64(delta))
	}
}

func IncClientReconnect() {
	if regOK.Load() {
		clientReconnects.Inc()
	}
}

func RecordStatusTransition(service, from, to string) {
	if regOK.Load() {
		registryTransitions.WithLabelValues(service, from, to).Inc()
	}
}
