package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.ExecutionSucceeded()
	m.ExecutionFailed()
	m.ExecutionFailed()
	m.SubmissionAttempt()
	m.Rescan()
	m.SetPending(4)
	m.SetGasPrice(big.NewInt(1_500_000_000))

	require.Equal(t, 1.0, testutil.ToFloat64(m.checkins.WithLabelValues("success")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.checkins.WithLabelValues("failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.attempts))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rescans))
	require.Equal(t, 4.0, testutil.ToFloat64(m.pendingTasks))
	require.Equal(t, 1.5e9, testutil.ToFloat64(m.gasPrice))
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.ExecutionSucceeded()
		m.ExecutionFailed()
		m.SubmissionAttempt()
		m.Rescan()
		m.SetPending(1)
		m.SetGasPrice(big.NewInt(1))
	})
}
