package prometheus

import (
	"strconv"
	"time"

	"roundup/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Gateway calls
	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
	retries     *prometheus.CounterVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Workflow
	runs        *prometheus.CounterVec
	runLatency  *prometheus.HistogramVec
	roundUpSum  prometheus.Counter
	roundUpSize prometheus.Histogram
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Total number of downstream gateway call attempts per operation and status",
			},
			[]string{"operation", "status"},
		),
		callLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Downstream gateway call attempt latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"operation"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_retries_total",
				Help:      "Total number of retried gateway calls per operation and attempt",
			},
			[]string{"operation", "attempt"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per breaker",
			},
			[]string{"breaker"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of round-up runs per outcome",
			},
			[]string{"outcome"},
		),
		runLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Round-up run latency",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"outcome"},
		),
		roundUpSum: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transferred_minor_units_total",
				Help:      "Total minor units moved into savings goals",
			},
		),
		roundUpSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_minor_units",
				Help:      "Distribution of transferred round-up amounts in minor units",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
			},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.calls,
		pc.callLatency,
		pc.retries,
		pc.circuitOpens,
		pc.circuitState,
		pc.runs,
		pc.runLatency,
		pc.roundUpSum,
		pc.roundUpSize,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordCall records one gateway call attempt.
func (pc *PrometheusCollector) RecordCall(operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.calls.WithLabelValues(operation, status).Inc()
	pc.callLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry records a retry of a gateway call.
func (pc *PrometheusCollector) RecordRetry(operation string, attempt int) {
	pc.retries.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordRun records a finished workflow run.
func (pc *PrometheusCollector) RecordRun(outcome string, duration time.Duration) {
	pc.runs.WithLabelValues(outcome).Inc()
	pc.runLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRoundUp records an amount moved into a savings goal.
func (pc *PrometheusCollector) RecordRoundUp(amountMinorUnits int64) {
	if amountMinorUnits <= 0 {
		return
	}
	pc.roundUpSum.Add(float64(amountMinorUnits))
	pc.roundUpSize.Observe(float64(amountMinorUnits))
}
