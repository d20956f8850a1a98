package tail

import "github.com/prometheus/client_golang/prometheus"

var (
	flushDurations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "commitlog",
		Subsystem: "tail",
		Name:      "flush_duration_seconds",
		Help:      "The latency distributions of device flushes called by the tail controller.",

		// lowest bucket start of upper bound 0.001 sec (1 ms) with factor 2
		// highest bucket start of 0.001 sec * 2^13 == 8.192 sec
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	appendedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "commitlog",
		Subsystem: "tail",
		Name:      "appended_bytes_total",
		Help:      "Total number of framed bytes appended to the log.",
	})

	backpressureWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "commitlog",
		Subsystem: "tail",
		Name:      "backpressure_waits_total",
		Help:      "Total number of appends that waited for the flusher to free buffer space.",
	})

	tailAddress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "commitlog",
		Subsystem: "tail",
		Name:      "tail_address",
		Help:      "The next address to be reserved.",
	})

	flushedAddress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "commitlog",
		Subsystem: "tail",
		Name:      "flushed_address",
		Help:      "Every byte below this address is durable.",
	})
)

func init() {
	prometheus.MustRegister(flushDurations)
	prometheus.MustRegister(appendedBytes)
	prometheus.MustRegister(backpressureWaits)
	prometheus.MustRegister(tailAddress)
	prometheus.MustRegister(flushedAddress)
}
