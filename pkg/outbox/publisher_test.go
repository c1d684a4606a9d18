package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/example/findx/internal/marketplace/domain"
)

type captured struct{ msgs []*nats.Msg }

func (c *captured) PublishMsg(msg *nats.Msg) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestPublisherSetsHeaders(t *testing.T) {
	sink := &captured{}
	p := NewPublisher(sink, "marketplace.events")
	event := domain.Event{
		ID:          uuid.New(),
		AggregateID: uuid.New(),
		Type:        domain.EventOfferCreated,
		Payload:     map[string]any{"provider_id": "p"},
		CreatedAt:   time.Unix(0, 0).UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), event))

	require.Len(t, sink.msgs, 1)
	msg := sink.msgs[0]
	require.Equal(t, "marketplace.events", msg.Subject)
	require.Equal(t, "OfferCreated", msg.Header.Get("x-event-type"))
	require.Equal(t, event.ID.String(), msg.Header.Get(nats.MsgIdHdr))
	require.Empty(t, msg.Header.Get("x-trace-id"))

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, event.AggregateID, decoded.AggregateID)
}

func TestNilPublisherDropsEvents(t *testing.T) {
	require.NoError(t, NewPublisher(nil, "x").Publish(context.Background(), domain.Event{}))
	var p *Publisher
	require.NoError(t, p.Publish(context.Background(), domain.Event{}))
}
