// Package metricsvc exposes the settlement counters scraped from the debug server's /metrics.
package metricsvc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trezcool/feeledger/core/fee"
)

const namespace = "feeledger"

type LedgerObserver struct {
	settlements *prometheus.CounterVec
	amount      prometheus.Counter
	retries     *prometheus.CounterVec
	failures    prometheus.Counter
}

var _ fee.Observer = (*LedgerObserver)(nil)

// NewLedgerObserver registers the ledger metrics on reg.
func NewLedgerObserver(reg prometheus.Registerer) *LedgerObserver {
	factory := promauto.With(reg)
	return &LedgerObserver{
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlements committed, by resulting status",
		}, []string{"status"}),
		amount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amount_received_total",
			Help:      "Sum of the amounts received by committed settlements",
		}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_retries_total",
			Help:      "Settlement attempts retried, by reason",
		}, []string{"reason"}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_failures_total",
			Help:      "Settlements that could not be recorded",
		}),
	}
}

func (o *LedgerObserver) SettlementCommitted(entry fee.HistoryEntry) {
	o.settlements.WithLabelValues(string(entry.Status)).Inc()
	if entry.Received > 0 {
		o.amount.Add(float64(entry.Received))
	}
}

func (o *LedgerObserver) SettlementRetried(reason string) {
	o.retries.WithLabelValues(reason).Inc()
}

func (o *LedgerObserver) SettlementFailed() {
	o.failures.Inc()
}
