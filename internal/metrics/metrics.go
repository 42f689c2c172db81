// Package metrics declares the Prometheus series shared across every
// process. Each binary exposes them on its own /metrics endpoint via
// promhttp.Handler, the same wiring the teacher uses for its API service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrdersSubmitted counts the gateway's approval decisions on submitted
// orders, labelled by outcome ("approved", "rejected").
var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icecream_orders_submitted_total",
		Help: "Orders submitted to the gateway, by approval outcome.",
	},
	[]string{"outcome"},
)

// OrdersCompleted counts terminal worker results observed by an interface,
// labelled by outcome ("success", "failure") and delivery path
// ("direct", "resilience").
var OrdersCompleted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icecream_orders_completed_total",
		Help: "Orders completed, by outcome and delivery path.",
	},
	[]string{"outcome", "path"},
)

// AckRetries counts AckManager retransmissions, labelled by message kind.
var AckRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icecream_ack_retries_total",
		Help: "AckManager retransmissions, by message kind.",
	},
	[]string{"kind"},
)

// AckEscalations counts AckManager records that exhausted their retries,
// labelled by message kind.
var AckEscalations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icecream_ack_escalations_total",
		Help: "AckManager records escalated after exhausting retries, by message kind.",
	},
	[]string{"kind"},
)

// StockDeductions counts stock arbitration outcomes, labelled by flavour
// and result ("ok", "insufficient").
var StockDeductions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icecream_stock_deductions_total",
		Help: "Stock deduction attempts, by flavour and result.",
	},
	[]string{"flavour", "result"},
)

// AssignmentTimeouts counts worker assignments that expired before
// completion and were re-queued.
var AssignmentTimeouts = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "icecream_assignment_timeouts_total",
		Help: "Order assignments that expired and were returned to the pending queue.",
	},
)

// LeadershipTransitions counts how many times a process has become leader.
// In the current one-shot design this is 0 or 1 per process lifetime.
var LeadershipTransitions = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "icecream_leadership_transitions_total",
		Help: "Number of times this process transitioned to the leader role.",
	},
)

// ElectionMessages counts Election tokens observed, labelled by outcome
// ("forwarded", "dropped", "self_elected", "started").
var ElectionMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icecream_election_messages_total",
		Help: "Election tokens handled, by outcome.",
	},
	[]string{"outcome"},
)

// Settlements counts final card-settlement notifications the gateway
// receives from interfaces, labelled by result ("charged", "declined").
var Settlements = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icecream_settlements_total",
		Help: "Final settlement notifications received by the gateway, by result.",
	},
	[]string{"result"},
)
