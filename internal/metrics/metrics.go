// Package metrics exposes Prometheus counters for token, scan, ledger and roster activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services report to.
type Recorder interface {
	TokenIssued(kind string)
	ScanResult(result string)
	LedgerWrite(source string, err error)
	LedgerRetryQueued()
	RosterSynced(created, updated, skipped, errored int)
}

// Collector records into Prometheus metrics.
type Collector struct {
	tokensIssued  *prometheus.CounterVec
	scans         *prometheus.CounterVec
	ledgerWrites  *prometheus.CounterVec
	retriesQueued prometheus.Counter
	rosterRecords *prometheus.CounterVec
	rosterSyncs   prometheus.Counter
}

// NewCollector creates a collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_tokens_issued_total",
			Help: "QR session tokens issued, by kind.",
		}, []string{"kind"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_scans_total",
			Help: "QR scan submissions, by result.",
		}, []string{"result"}),
		ledgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_ledger_writes_total",
			Help: "Ledger upserts, by source (entry type or correction) and outcome.",
		}, []string{"source", "outcome"}),
		retriesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_ledger_retries_queued_total",
			Help: "Ledger writes handed to the retry queue.",
		}),
		rosterRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_roster_records_total",
			Help: "Roster records processed, by outcome.",
		}, []string{"outcome"}),
		rosterSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_roster_syncs_total",
			Help: "Completed roster reconciliation runs.",
		}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.scans,
		c.ledgerWrites,
		c.retriesQueued,
		c.rosterRecords,
		c.rosterSyncs,
	)
	return c
}

func (c *Collector) TokenIssued(kind string) { c.tokensIssued.WithLabelValues(kind).Inc() }

func (c *Collector) ScanResult(result string) { c.scans.WithLabelValues(result).Inc() }

func (c *Collector) LedgerWrite(source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.ledgerWrites.WithLabelValues(source, outcome).Inc()
}

func (c *Collector) LedgerRetryQueued() { c.retriesQueued.Inc() }

func (c *Collector) RosterSynced(created, updated, skipped, errored int) {
	c.rosterSyncs.Inc()
	c.rosterRecords.WithLabelValues("created").Add(float64(created))
	c.rosterRecords.WithLabelValues("updated").Add(float64(updated))
	c.rosterRecords.WithLabelValues("skipped").Add(float64(skipped))
	c.rosterRecords.WithLabelValues("errored").Add(float64(errored))
}

// Nop discards everything.
type Nop struct{}

func (Nop) TokenIssued(string) {}
func (Nop) ScanResult(string) {}
func (Nop) LedgerWrite(string, error) {}
func (Nop) LedgerRetryQueued() {}
func (Nop) RosterSynced(int, int, int, int) {}

// Handler serves the given gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
