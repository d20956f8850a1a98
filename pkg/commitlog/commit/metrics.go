package commit

import "github.com/prometheus/client_golang/prometheus"

var (
	commitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commitlog",
		Subsystem: "commit",
		Name:      "commits_total",
		Help:      "Total number of commit calls by outcome.",
	}, []string{"result"})

	commitDurations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "commitlog",
		Subsystem: "commit",
		Name:      "duration_seconds",
		Help:      "The latency distributions of commits that wrote a recovery record.",

		// lowest bucket start of upper bound 0.001 sec (1 ms) with factor 2
		// highest bucket start of 0.001 sec * 2^13 == 8.192 sec
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	committedAddress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "commitlog",
		Subsystem: "commit",
		Name:      "committed_until_address",
		Help:      "The until address of the newest durable commit.",
	})

	commitNumber = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "commitlog",
		Subsystem: "commit",
		Name:      "commit_number",
		Help:      "The number of the newest durable commit.",
	})
)

const (
	resultWritten     = "written"
	resultPiggybacked = "piggybacked"
	resultUnchanged   = "unchanged"
	resultFailed      = "failed"
)

func init() {
	prometheus.MustRegister(commitsTotal)
	prometheus.MustRegister(commitDurations)
	prometheus.MustRegister(committedAddress)
	prometheus.MustRegister(commitNumber)
}
