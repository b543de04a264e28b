package metricsvc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/feeledger/core/fee"
)

func TestLedgerObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewLedgerObserver(reg)

	obs.SettlementCommitted(fee.HistoryEntry{Status: fee.StatusUnpaid, Received: 300})
	obs.SettlementCommitted(fee.HistoryEntry{Status: fee.StatusPaid, Received: 400})
	// a re-settlement that lowers the paid amount does not decrease the counter
	obs.SettlementCommitted(fee.HistoryEntry{Status: fee.StatusUnpaid, Received: -100})
	obs.SettlementRetried(fee.ErrVersionConflict.Error())
	obs.SettlementFailed()

	assert.Equal(t, float64(2), testutil.ToFloat64(obs.settlements.WithLabelValues("Unpaid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(obs.settlements.WithLabelValues("Paid")))
	assert.Equal(t, float64(700), testutil.ToFloat64(obs.amount))
	assert.Equal(t, float64(1), testutil.ToFloat64(obs.retries.WithLabelValues(fee.ErrVersionConflict.Error())))
	assert.Equal(t, float64(1), testutil.ToFloat64(obs.failures))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
}
