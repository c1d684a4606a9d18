package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Booking status transitions grouped by target status and outcome.",
	}, []string{"target", "result"})

	transitionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_transition_retries_total",
		Help: "Status updates retried after a concurrent write won the version check.",
	})

	idempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_idempotent_replays_total",
		Help: "Booking requests answered from a stored response.",
	})
)
