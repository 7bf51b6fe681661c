// Package services – Prometheus instrumentation for the coordination engine.
//
// Counters are labelled by business outcome where one exists. Outcome label
// values come from the Stringer of the repo outcome types, so cardinality is
// bounded by the state machine itself.
package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// pairingRequests counts request_conversation calls by outcome.
	pairingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpline_pairing_requests_total",
			Help: "Total conversation requests by outcome.",
		},
		[]string{"outcome"},
	)

	// pairingBegins counts begin_conversation calls by outcome.
	pairingBegins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpline_pairing_begins_total",
			Help: "Total conversation begin attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// pairingEnds counts end_or_cancel calls by outcome.
	pairingEnds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpline_pairing_ends_total",
			Help: "Total conversation end/cancel attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// invitationsSent counts recorded invitation notices.
	invitationsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helpline_invitations_sent_total",
			Help: "Total invitation notices delivered and recorded.",
		},
	)

	// invitationsRetracted counts retracted invitation notices.
	invitationsRetracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helpline_invitations_retracted_total",
			Help: "Total invitation notices retracted.",
		},
	)

	// invitationLeaksAverted counts notices retracted because a racing
	// duplicate insert won the ledger row.
	invitationLeaksAverted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helpline_invitation_leaks_averted_total",
			Help: "Total delivered notices dropped because the ledger row already existed.",
		},
	)

	// deliveryFailures counts per-recipient transport delivery failures.
	deliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helpline_notice_delivery_failures_total",
			Help: "Total notice deliveries skipped due to transport failure.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pairingRequests, pairingBegins, pairingEnds,
		invitationsSent, invitationsRetracted, invitationLeaksAverted,
		deliveryFailures,
	)
}
