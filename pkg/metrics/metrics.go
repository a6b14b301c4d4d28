package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	ResultCommitted = "committed"
	ResultConflict  = "conflict"
	ResultError     = "error"
	ResultEmpty     = "empty"
)

var (
	TxnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiny_mvcc",
			Subsystem: "txn",
			Name:      "commits_count",
			Help:      "Counter of commit attempts by result.",
		}, []string{"result"})

	TxnCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiny_mvcc",
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of commit latency (s) by result.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 13),
		}, []string{"result"})

	ActiveTxnGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiny_mvcc",
			Subsystem: "txn",
			Name:      "active_txns",
			Help:      "Number of transactions begun and not yet finished.",
		}, []string{"kind"})

	CdcDeliveredCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiny_mvcc",
			Subsystem: "cdc",
			Name:      "delivered_change_sets_count",
			Help:      "Counter of change sets delivered to consumers.",
		})

	CdcSkippedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiny_mvcc",
			Subsystem: "cdc",
			Name:      "skipped_versions_count",
			Help:      "Counter of allocated versions that never committed.",
		})
)

func init() {
	prometheus.MustRegister(TxnCounter)
	prometheus.MustRegister(TxnCommitDuration)
	prometheus.MustRegister(ActiveTxnGauge)
	prometheus.MustRegister(CdcDeliveredCounter)
	prometheus.MustRegister(CdcSkippedCounter)
}
