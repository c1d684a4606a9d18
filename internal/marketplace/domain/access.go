package domain

// Capabilities is the caller's relationship to a booking/offer pair.
type Capabilities struct {
	IsOwningProvider bool
	IsOwningConsumer bool
}

// Any reports whether the caller has any ownership relation at all.
func (c Capabilities) Any() bool {
	return c.IsOwningProvider || c.IsOwningConsumer
}

// Classify derives the caller's capabilities from already loaded records.
// The same answer gates reading a booking, its messages and its status.
func Classify(actor Actor, offer Offer, booking Booking) Capabilities {
	return Capabilities{
		IsOwningProvider: actor.Role == RoleProvider && actor.ID == offer.ProviderID,
		IsOwningConsumer: actor.Role == RoleConsumer && actor.ID == booking.ConsumerID,
	}
}

// Authorize returns ErrForbidden unless the caller owns the offer or the booking.
func Authorize(actor Actor, offer Offer, booking Booking) (Capabilities, error) {
	caps := Classify(actor, offer, booking)
	if !caps.Any() {
		return caps, ErrForbidden
	}
	return caps, nil
}

// OwnsOffer reports whether actor is the provider that published offer.
func OwnsOffer(actor Actor, offer Offer) bool {
	return actor.Role == RoleProvider && actor.ID == offer.ProviderID
}
