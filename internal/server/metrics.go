package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/optimizer/internal/modules/optimization"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the service. It observes the
// engine and the result cache.
type Metrics struct {
	registry *prometheus.Registry

	OptimizationDuration *prometheus.HistogramVec
	OptimizationFailures *prometheus.CounterVec
	CacheLookups         *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	RateLimited          prometheus.Counter
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		OptimizationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optimizer_optimization_duration_seconds",
				Help:    "Duration of one optimization by method and result",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "result"},
		),

		OptimizationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_optimization_failures_total",
				Help: "Failed optimizations by method and error kind",
			},
			[]string{"method", "kind"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_result_cache_lookups_total",
				Help: "Result cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optimizer_http_request_duration_seconds",
				Help:    "HTTP request duration by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),

		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "optimizer_rate_limited_total",
				Help: "Requests rejected by the optimization rate limiter",
			},
		),
	}

	m.registry.MustRegister(
		m.OptimizationDuration,
		m.OptimizationFailures,
		m.CacheLookups,
		m.RequestDuration,
		m.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOptimization implements optimization.Observer.
func (m *Metrics) ObserveOptimization(kind optimization.ObjectiveKind, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		m.OptimizationFailures.WithLabelValues(string(kind), errorKind(err)).Inc()
	}
	m.OptimizationDuration.WithLabelValues(string(kind), result).Observe(elapsed.Seconds())
}

// ObserveCacheLookup implements results.Observer.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one HTTP request. Unmatched routes share one label.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func errorKind(err error) string {
	var (
		nc      *optimization.SolverNonConvergenceError
		invalid *optimization.InvalidRequestError
		shape   *optimization.InputShapeError
	)
	switch {
	case errors.As(err, &nc):
		return "non_convergence"
	case errors.As(err, &invalid):
		return "invalid_request"
	case errors.As(err, &shape):
		return "input_shape"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
