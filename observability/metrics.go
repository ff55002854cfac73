package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetricsRegistry records the operational counters and gauges exposed by
// the pool engine on /metrics.
type PoolMetricsRegistry struct {
	operations     *prometheus.CounterVec
	fallbacks      prometheus.Counter
	solvencyRatio  prometheus.Gauge
	accrualGrowth  prometheus.Histogram
	activePosCount prometheus.Gauge
	opLatency      *prometheus.HistogramVec
}

var (
	poolMetricsOnce sync.Once
	poolRegistry    *PoolMetricsRegistry
)

// PoolMetrics returns the lazily-initialised metrics registry shared by the
// engine and the gateway.
func PoolMetrics() *PoolMetricsRegistry {
	poolMetricsOnce.Do(func() {
		poolRegistry = &PoolMetricsRegistry{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bondmm",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Pool operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "bondmm",
				Subsystem: "oracle",
				Name:      "fallback_rate_total",
				Help:      "Count of settlement operations priced with the fallback rate.",
			}),
			solvencyRatio: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bondmm",
				Subsystem: "pool",
				Name:      "solvency_ratio",
				Help:      "Current (cash + liabilities) / initial cash ratio.",
			}),
			accrualGrowth: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "bondmm",
				Subsystem: "pool",
				Name:      "accrual_growth_factor",
				Help:      "Distribution of per-accrual liability growth factors.",
				Buckets:   []float64{1.0, 1.0001, 1.001, 1.01, 1.05, 1.1, 1.5},
			}),
			activePosCount: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bondmm",
				Subsystem: "pool",
				Name:      "active_positions",
				Help:      "Number of currently active positions.",
			}),
			opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bondmm",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.fallbacks,
			poolRegistry.solvencyRatio,
			poolRegistry.accrualGrowth,
			poolRegistry.activePosCount,
			poolRegistry.opLatency,
		)
	})
	return poolRegistry
}

// ObserveOperation records the outcome of a pool operation.
func (m *PoolMetricsRegistry) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// OracleFallback increments the fallback-rate counter.
func (m *PoolMetricsRegistry) OracleFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// SetSolvencyRatio publishes the current solvency ratio.
func (m *PoolMetricsRegistry) SetSolvencyRatio(ratio float64) {
	if m == nil {
		return
	}
	m.solvencyRatio.Set(ratio)
}

// ObserveAccrual records a liability growth factor applied by accrual.
func (m *PoolMetricsRegistry) ObserveAccrual(factor float64) {
	if m == nil {
		return
	}
	m.accrualGrowth.Observe(factor)
}

// SetActivePositions publishes the live position count.
func (m *PoolMetricsRegistry) SetActivePositions(count int) {
	if m == nil {
		return
	}
	m.activePosCount.Set(float64(count))
}

// ObserveRequest records the latency of a gateway request.
func (m *PoolMetricsRegistry) ObserveRequest(route string, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.opLatency.WithLabelValues(route).Observe(duration.Seconds())
}
