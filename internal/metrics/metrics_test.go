package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCandidate("SOL", "scan")
		m.RecordDuplicate()
		m.RecordForward("EVM", "sent", time.Second)
		m.SetQueueDepth(3)
		m.SetPageConnected(true)
		m.RecordPageCall("clickChat", nil, time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCandidate("SOL", "scan")
	m.RecordCandidate("SOL", "scan")
	m.RecordCandidate("EVM", "monitor")
	m.RecordDuplicate()
	m.RecordForward("SOL", "failed", 2*time.Second)
	m.RecordPruned(0)
	m.RecordPruned(4)
	m.RecordPageCall("composeAndSend", errors.New("x"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CandidatesTotal.WithLabelValues("SOL", "scan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandidatesTotal.WithLabelValues("EVM", "monitor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForwardsTotal.WithLabelValues("SOL", "failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LedgerPrunedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PageCallsTotal.WithLabelValues("composeAndSend", "error")))
}

func TestGauges(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetQueueDepth(5)
	m.SetLedgerSize(12)
	m.SetPageConnected(true)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.LedgerSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PageConnected))

	m.SetPageConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PageConnected))
}

func TestRegistryGathers(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordScanCycle("completed", 300*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["carelay_scan_cycles_total"])
	assert.True(t, names["carelay_scan_cycle_duration_seconds"])
}
