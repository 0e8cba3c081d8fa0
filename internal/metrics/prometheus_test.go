package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestPrometheusCollectorRecordsOperations(t *testing.T) {
	pc, err := NewPrometheusCollector("funds")
	require.NoError(t, err)

	pc.RecordOperation("debit", "ok", 3*time.Millisecond)
	pc.RecordOperation("debit", "ok", 4*time.Millisecond)
	pc.RecordOperation("debit", "insufficient_funds", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(pc.operations.WithLabelValues("debit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.operations.WithLabelValues("debit", "insufficient_funds")))

	families, err := pc.Registry().Gather()
	require.NoError(t, err)
	latency := findFamily(families, "funds_ledger_operation_duration_seconds")
	require.NotNil(t, latency)
	require.Len(t, latency.GetMetric(), 1)
	assert.Equal(t, uint64(3), latency.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestPrometheusCollectorCircuitAndReplays(t *testing.T) {
	pc, err := NewPrometheusCollector("funds")
	require.NoError(t, err)

	pc.RecordCircuitState("idempotency-cache", CircuitOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.circuitState.WithLabelValues("idempotency-cache")))
	pc.RecordCircuitState("idempotency-cache", CircuitHalfOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(pc.circuitState.WithLabelValues("idempotency-cache")))

	pc.RecordIdempotentReplay("/api/v1/funds/debit")
	assert.Equal(t, 1, testutil.CollectAndCount(pc.idempotentReplays))
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
