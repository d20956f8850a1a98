package commitlog

import "github.com/prometheus/client_golang/prometheus"

var (
	recoveryFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "commitlog",
		Subsystem: "recovery",
		Name:      "fallbacks_total",
		Help:      "Total number of unreadable commits skipped while recovering.",
	})

	recoveredCommit = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "commitlog",
		Subsystem: "recovery",
		Name:      "recovered_commit_number",
		Help:      "The commit number the log was recovered from, -1 for a fresh log.",
	})
)

func init() {
	prometheus.MustRegister(recoveryFallbacks)
	prometheus.MustRegister(recoveredCommit)
}
