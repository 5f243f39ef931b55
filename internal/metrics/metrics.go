package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "progress",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	Joins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress",
		Name:      "joins_total",
		Help:      "Join attempts by outcome.",
	}, []string{"result"})

	SavedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "progress",
		Name:      "saved_records_total",
		Help:      "Progress records written by save calls.",
	})

	SessionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "progress",
		Name:      "sessions_pruned_total",
		Help:      "Expired sessions removed by the cleanup job.",
	})
)
