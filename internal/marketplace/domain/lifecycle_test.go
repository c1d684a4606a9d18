package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/findx/internal/marketplace/domain"
)

type fixture struct {
	provider domain.Actor
	consumer domain.Actor
	offer    domain.Offer
	booking  domain.Booking
}

func newFixture() fixture {
	provider := domain.Actor{ID: uuid.New(), Role: domain.RoleProvider}
	consumer := domain.Actor{ID: uuid.New(), Role: domain.RoleConsumer}
	offer := domain.Offer{ID: uuid.New(), ProviderID: provider.ID, Active: true, RadiusKM: 10}
	booking := domain.Booking{
		ID:         uuid.New(),
		OfferID:    offer.ID,
		ConsumerID: consumer.ID,
		Status:     domain.StatusRequested,
		CreatedAt:  time.Unix(0, 0).UTC(),
		UpdatedAt:  time.Unix(0, 0).UTC(),
		Version:    1,
	}
	return fixture{provider: provider, consumer: consumer, offer: offer, booking: booking}
}

func TestClassify(t *testing.T) {
	f := newFixture()

	caps := domain.Classify(f.provider, f.offer, f.booking)
	require.True(t, caps.IsOwningProvider)
	require.False(t, caps.IsOwningConsumer)

	caps = domain.Classify(f.consumer, f.offer, f.booking)
	require.False(t, caps.IsOwningProvider)
	require.True(t, caps.IsOwningConsumer)

	// matching id with the wrong role grants nothing
	impostor := domain.Actor{ID: f.provider.ID, Role: domain.RoleConsumer}
	require.False(t, domain.Classify(impostor, f.offer, f.booking).Any())

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleProvider}
	_, err := domain.Authorize(stranger, f.offer, f.booking)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestTransitionPermissions(t *testing.T) {
	now := time.Unix(100, 0).UTC()
	cases := []struct {
		name    string
		actor   func(fixture) domain.Actor
		target  domain.BookingStatus
		wantErr error
	}{
		{"provider accepts", func(f fixture) domain.Actor { return f.provider }, domain.StatusAccepted, nil},
		{"provider rejects", func(f fixture) domain.Actor { return f.provider }, domain.StatusRejected, nil},
		{"provider completes", func(f fixture) domain.Actor { return f.provider }, domain.StatusCompleted, nil},
		{"provider cancels", func(f fixture) domain.Actor { return f.provider }, domain.StatusCancelled, nil},
		{"provider cannot request", func(f fixture) domain.Actor { return f.provider }, domain.StatusRequested, domain.ErrInvalidTransition},
		{"consumer cancels", func(f fixture) domain.Actor { return f.consumer }, domain.StatusCancelled, nil},
		{"consumer cannot accept", func(f fixture) domain.Actor { return f.consumer }, domain.StatusAccepted, domain.ErrInvalidTransition},
		{"consumer cannot complete", func(f fixture) domain.Actor { return f.consumer }, domain.StatusCompleted, domain.ErrInvalidTransition},
		{"stranger is forbidden", func(fixture) domain.Actor { return domain.Actor{ID: uuid.New(), Role: domain.RoleConsumer} }, domain.StatusCancelled, domain.ErrForbidden},
		{"stranger forbidden before target check", func(fixture) domain.Actor { return domain.Actor{ID: uuid.New(), Role: domain.RoleProvider} }, domain.BookingStatus("bogus"), domain.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			updated, err := domain.Lifecycle{}.Transition(f.booking, f.offer, tc.actor(f), tc.target, now)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.target, updated.Status)
			require.Equal(t, now, updated.UpdatedAt)
			require.Equal(t, f.booking.ConsumerID, updated.ConsumerID)
			require.Equal(t, f.booking.OfferID, updated.OfferID)
		})
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	f := newFixture()
	_, err := domain.Lifecycle{}.Transition(f.booking, f.offer, f.provider, domain.StatusAccepted, time.Now())
	require.NoError(t, err)
	require.Equal(t, domain.StatusRequested, f.booking.Status)
}

func TestLenientLifecycleAllowsLeavingTerminalStates(t *testing.T) {
	f := newFixture()
	f.booking.Status = domain.StatusAccepted

	cancelled, err := domain.Lifecycle{}.Transition(f.booking, f.offer, f.consumer, domain.StatusCancelled, time.Now())
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, cancelled.Status)

	again, err := domain.Lifecycle{}.Transition(cancelled, f.offer, f.provider, domain.StatusCompleted, time.Now())
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, again.Status)

	same, err := domain.Lifecycle{}.Transition(again, f.offer, f.provider, domain.StatusCompleted, time.Now())
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, same.Status)
}

func TestStrictLifecycleRejectsLeavingTerminalStates(t *testing.T) {
	strict := domain.Lifecycle{Strict: true}
	f := newFixture()

	accepted, err := strict.Transition(f.booking, f.offer, f.provider, domain.StatusAccepted, time.Now())
	require.NoError(t, err)

	_, err = strict.Transition(accepted, f.offer, f.consumer, domain.StatusCancelled, time.Now())
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
	require.False(t, errors.Is(err, domain.ErrInvalidTransition))

	// role permission is still checked first
	_, err = strict.Transition(accepted, f.offer, f.consumer, domain.StatusAccepted, time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStatusHelpers(t *testing.T) {
	require.False(t, domain.StatusRequested.Terminal())
	for _, s := range []domain.BookingStatus{domain.StatusAccepted, domain.StatusRejected, domain.StatusCancelled, domain.StatusCompleted} {
		require.True(t, s.Terminal(), s)
	}
	require.False(t, domain.BookingStatus("unknown").Valid())
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := error(&domain.ValidationError{Fields: map[string]string{"title": "too short", "unit": "required"}})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Equal(t, "validation failed: title: too short; unit: required", err.Error())
}
