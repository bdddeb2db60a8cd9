// Package metrics registers the small set of Prometheus collectors the
// crawl engine exposes, following the same sync.Once-guarded
// MustRegister idiom used throughout the teacher's HTTP-facing packages
// (e.g. internal/httputil rate limiting counters).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RoomsCrawled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrixminer",
			Subsystem: "crawl",
			Name:      "rooms_crawled_total",
			Help:      "Total number of rooms that underwent backward pagination, by outcome.",
		},
		[]string{"outcome"}, // success | error | skipped
	)

	EventsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrixminer",
			Subsystem: "crawl",
			Name:      "events_fetched_total",
			Help:      "Total number of timeline events observed during pagination.",
		},
		[]string{"account"},
	)

	PaginationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrixminer",
			Subsystem: "crawl",
			Name:      "pagination_errors_total",
			Help:      "Total number of per-room pagination failures.",
		},
		[]string{"account"},
	)

	CrawlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "matrixminer",
			Subsystem: "crawl",
			Name:      "room_duration_seconds",
			Help:      "Wall-clock duration of a single room's backward pagination.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"account"},
	)
)

var registerOnce sync.Once

// Register installs the collectors into the default Prometheus
// registry. Safe to call more than once per process.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RoomsCrawled, EventsFetched, PaginationErrors, CrawlDuration)
	})
}
