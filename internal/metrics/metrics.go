// Package metrics has the prometheus metric variables shared by the
// gateway's packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsTotal counts accepted connections per listener.
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restmail_connections_total",
			Help: "Accepted TCP connections by protocol listener.",
		},
		[]string{"protocol"},
	)

	// PolicyVerdictsTotal counts policy protocol verdicts.
	PolicyVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restmail_policy_verdicts_total",
			Help: "Policy delegation verdicts by action.",
		},
		[]string{"action"},
	)

	// LookupsTotal counts validation pipeline lookups. A result of
	// "error" means the stage failed open.
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restmail_lookups_total",
			Help: "Recipient validation lookups by stage and result.",
		},
		[]string{"stage", "result"},
	)

	// DeliveriesTotal counts completed delivery dialogs by final
	// response class.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restmail_deliveries_total",
			Help: "Completed inbound messages by outcome.",
		},
		[]string{"outcome"},
	)

	// APIRequestDuration tracks signed platform calls.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restmail_api_request_duration_seconds",
			Help:    "Signed platform API request duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"path", "result"},
	)
)
