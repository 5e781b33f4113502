// Package metrics holds the Prometheus collectors for the lead engine.
// Collectors register with the default registry; /metrics exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Allocation ─────────────────────────────────────────────────────────────

// ClaimsTotal counts claim attempts by result code ("ok" or an error code).
var ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Name:      "claims_total",
	Help:      "Claim attempts by result.",
}, []string{"result"})

var CreditsSpent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "leadengine",
	Name:      "credits_spent_total",
	Help:      "Credits debited by successful claims.",
})

var ClaimDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "leadengine",
	Name:      "claim_duration_seconds",
	Help:      "Latency of the claim atomic unit, including retries.",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
})

// ─── Cancellation ───────────────────────────────────────────────────────────

var CancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Name:      "cancellations_total",
	Help:      "Cancel calls by result.",
}, []string{"result"})

// RefundsTotal counts refunds written (replayed refunds are not counted).
var RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "leadengine",
	Name:      "refunds_total",
	Help:      "Claim refunds written by cancellations.",
})

var CreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "leadengine",
	Name:      "credits_refunded_total",
	Help:      "Credits returned to professionals by cancellations.",
})

// ─── Expiry ─────────────────────────────────────────────────────────────────

var LeadsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "leadengine",
	Name:      "leads_expired_total",
	Help:      "Leads moved to expired by the sweeper.",
})

var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "leadengine",
	Name:      "sweep_duration_seconds",
	Help:      "Duration of one expiry sweep.",
	Buckets:   prometheus.DefBuckets,
})

// ─── Atomic units ───────────────────────────────────────────────────────────

// TxRetries counts atomic units rerun after a concurrent modification.
var TxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Name:      "tx_retries_total",
	Help:      "Atomic units retried after a version conflict.",
}, []string{"operation"})
