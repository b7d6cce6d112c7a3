package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordCycle("success", 2.5, 0.75)
	r.RecordCycle("failed", 0, 0)
	r.RecordPrice("AAPL", 190.5)
	r.RecordPrice("MSFT", 410.1)
	r.RecordPriceFailure("BAD")
	r.RecordFetchAttempt("ok")
	r.RecordFetchAttempt("error")
	r.RecordFetchAttempt("error")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.successRatio))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.resolved))
	assert.Equal(t, 190.5, testutil.ToFloat64(r.lastPrice.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("BAD")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.attempts.WithLabelValues("error")))

	n, err := testutil.GatherAndCount(reg, "pricesheet_cycle_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}
