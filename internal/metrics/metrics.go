// Package metrics holds the Prometheus collectors exported by the account
// scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for Attempts.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomePromoted   = "promoted"
	OutcomeReattached = "reattached"
	OutcomeFailed     = "failed"
	OutcomeDiscarded  = "discarded"
)

var (
	Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tangle_account_attempts_total",
		Help: "Per-transaction scheduler outcomes",
	}, []string{"account_id", "outcome"})

	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tangle_account_ticks_total",
		Help: "Scheduler ticks by result",
	}, []string{"account_id", "result"})

	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tangle_account_tick_duration_seconds",
		Help:    "Wall time spent processing one scheduler tick",
		Buckets: prometheus.DefBuckets,
	}, []string{"account_id"})

	Pending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tangle_account_pending_transactions",
		Help: "Pending transactions tracked by the account",
	}, []string{"account_id"})

	Confirmed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tangle_account_confirmed_transactions",
		Help: "Confirmed transactions recorded by the account",
	}, []string{"account_id"})

	Deposits = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tangle_account_deposit_addresses",
		Help: "Deposit addresses allocated by the account",
	}, []string{"account_id"})

	Snapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tangle_account_snapshots_total",
		Help: "Export document saves by result",
	}, []string{"account_id", "result"})
)

// HTTPRequests counts admin API requests.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tangle_account_http_requests_total",
	Help: "Admin API requests by method, route and status",
}, []string{"method", "route", "status"})
