package domain

import (
	"fmt"
	"time"
)

type BookingStatus string

const (
	StatusRequested BookingStatus = "requested"
	StatusAccepted  BookingStatus = "accepted"
	StatusRejected  BookingStatus = "rejected"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is defined out of s.
func (s BookingStatus) Terminal() bool {
	return s.Valid() && s != StatusRequested
}

var (
	providerTargets = []BookingStatus{StatusAccepted, StatusRejected, StatusCompleted, StatusCancelled}
	consumerTargets = []BookingStatus{StatusCancelled}
)

// allowedTransitions is only consulted under a strict lifecycle.
var allowedTransitions = map[BookingStatus][]BookingStatus{
	StatusRequested: {StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted},
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// PermittedTargets lists the statuses an actor class may set.
func PermittedTargets(caps Capabilities) []BookingStatus {
	switch {
	case caps.IsOwningProvider:
		return providerTargets
	case caps.IsOwningConsumer:
		return consumerTargets
	default:
		return nil
	}
}

// Lifecycle applies booking status transitions.
//
// With Strict unset any current status may be overwritten by any target the
// actor class permits, including the same status and statuses out of terminal
// states. Strict additionally requires the move to be reachable from the
// current status.
type Lifecycle struct {
	Strict bool
}

// Transition validates and applies target for actor and returns the updated
// booking. Checks run in order: ownership, actor-class permission, then
// reachability when strict. The input booking is never modified.
func (l Lifecycle) Transition(booking Booking, offer Offer, actor Actor, target BookingStatus, now time.Time) (Booking, error) {
	caps, err := Authorize(actor, offer, booking)
	if err != nil {
		return Booking{}, err
	}
	if !permitted(PermittedTargets(caps), target) {
		return Booking{}, fmt.Errorf("%w: %s", ErrInvalidTransition, target)
	}
	if l.Strict && !booking.Status.CanTransitionTo(target) {
		return Booking{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, booking.Status, target)
	}
	booking.Status = target
	booking.UpdatedAt = now
	return booking, nil
}

func permitted(allowed []BookingStatus, target BookingStatus) bool {
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}
