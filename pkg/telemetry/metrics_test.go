package telemetry

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(MetricsOptions{Port: 19309})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCountersAccumulate(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordDecision("scope_check", "Blocked")
	m.RecordDecision("scope_check", "Blocked")
	m.RecordDecision("scanner_nuclei", "Allowed")
	m.RecordFinding("high", "kept")
	m.RecordFinding("info", "false_positive")
	m.RecordScan("nuclei", "ok")
	m.RecordRun("completed")
	m.ObserveStage("recon", 1500*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("scope_check", "Blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("scanner_nuclei", "Allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.findingsTotal.WithLabelValues("high", "kept")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scansTotal.WithLabelValues("nuclei", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("completed")))
}

func TestScrapeEndpointServesMetrics(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordRun("failed")

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get(m.Addr())
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK
	}, 2*time.Second, 50*time.Millisecond)

	assert.Contains(t, string(body), "bountyscan_runs_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordDecision("scope_check", "Allowed")
	m.RecordFinding("low", "kept")
	m.RecordScan("nuclei", "ok")
	m.RecordRun("completed")
	m.ObserveStage("scan", time.Second)
	assert.NoError(t, m.Close())
}

func TestCloseIdempotent(t *testing.T) {
	m, err := NewMetrics(MetricsOptions{Port: 19310})
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
