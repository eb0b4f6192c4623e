// Package metrics holds the hub's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quizhub_connections_current",
			Help: "Current number of open session connections",
		},
	)

	Rooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quizhub_rooms_current",
			Help: "Current number of rooms held in memory",
		},
	)

	AnswersApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quizhub_answers_applied_total",
			Help: "Total number of answer edits applied to rooms",
		},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizhub_submissions_total",
			Help: "Total number of terminal submissions by trigger",
		},
		[]string{"trigger"},
	)

	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizhub_persistence_failures_total",
			Help: "Total number of failed Persistence API calls",
		},
		[]string{"op"},
	)

	BroadcastDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quizhub_broadcast_drops_total",
			Help: "Total number of peers dropped because their send buffer was full",
		},
	)

	RankingRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizhub_ranking_refreshes_total",
			Help: "Total number of ranking recomputations by outcome",
		},
		[]string{"outcome"},
	)

	RankingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quizhub_ranking_refresh_duration_seconds",
			Help:    "Time spent recomputing a quiz ranking",
			Buckets: prometheus.DefBuckets,
		},
	)
)
