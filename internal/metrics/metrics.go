package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_passes_total",
			Help: "Total number of evaluation passes by outcome",
		},
		[]string{"outcome"},
	)

	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertd_pass_duration_seconds",
			Help:    "Duration of one evaluation pass",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	RulesEvaluatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_rules_evaluated_total",
			Help: "Total number of rule evaluations",
		},
	)

	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_triggers_total",
			Help: "Total number of positive evaluations by rule type",
		},
		[]string{"type"},
	)

	DispatchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_dispatch_failures_total",
			Help: "Total number of failed notification dispatches",
		},
	)

	RunQueryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_run_query_failures_total",
			Help: "Total number of failed run-query requests",
		},
	)

	UnreadNotifications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertd_unread_notifications",
			Help: "Current number of unread notifications (badge count)",
		},
	)
)
