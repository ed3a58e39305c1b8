package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.TokenIssued("daily")
	c.TokenIssued("daily")
	c.ScanResult("ok")
	c.LedgerWrite("daily_qr", nil)
	c.LedgerWrite("daily_qr", errors.New("db down"))
	c.LedgerRetryQueued()
	c.RosterSynced(2, 3, 1, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tokensIssued.WithLabelValues("daily")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.scans.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ledgerWrites.WithLabelValues("daily_qr", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retriesQueued))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.rosterRecords.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rosterSyncs))
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).ScanResult("expired")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `attendance_scans_total{result="expired"} 1`)
}

func TestLedgerWritesLabelledBySource(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.LedgerWrite("correction", nil)
	c.LedgerWrite("manual", nil)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `attendance_ledger_writes_total{outcome="ok",source="correction"} 1`)
	assert.Contains(t, body, `attendance_ledger_writes_total{outcome="ok",source="manual"} 1`)
	assert.NotContains(t, body, `type="correction"`)
}
