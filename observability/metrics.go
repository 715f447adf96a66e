package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records accrual operation activity for the /metrics endpoint.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rewardPaid *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "accrual",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeledger",
				Subsystem: "accrual",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			rewardPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "accrual",
				Name:      "reward_paid_total",
				Help:      "Cumulative reward units paid out, segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(ledgerRegistry.operations, ledgerRegistry.latency, ledgerRegistry.rewardPaid)
	})
	return ledgerRegistry
}

// ObserveOperation records one ledger operation with its outcome and latency.
func (m *LedgerMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(seconds)
}

// AddRewardPaid accumulates paid reward units for an asset. Amounts beyond
// float64 precision are recorded approximately; the counter is a trend
// signal, not an accounting source.
func (m *LedgerMetrics) AddRewardPaid(asset string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.rewardPaid.WithLabelValues(asset).Add(value)
}
