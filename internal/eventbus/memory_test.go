package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	received := make(chan *Event, 1)
	sub, err := bus.Subscribe("agor.test", func(_ context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), "agor.test", NewEvent("ping", "node-a", nil)))

	select {
	case e := <-received:
		assert.Equal(t, "ping", e.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryBusSingleTokenWildcardMatches(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	received := make(chan *Event, 1)
	sub, err := bus.Subscribe("agor.session.*.updated", func(_ context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), "agor.session.abc123.updated", NewEvent("updated", "node-a", nil)))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("wildcard subscription did not match")
	}
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	received := make(chan *Event, 1)
	sub, err := bus.Subscribe("agor.test", func(_ context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, bus.Publish(context.Background(), "agor.test", NewEvent("ping", "node-a", nil)))

	select {
	case <-received:
		t.Fatal("unsubscribed handler received an event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusQueueSubscribeLoadBalancesRoundRobin(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	recvA := make(chan *Event, 4)
	recvB := make(chan *Event, 4)
	_, err := bus.QueueSubscribe("agor.work", "workers", func(_ context.Context, e *Event) error {
		recvA <- e
		return nil
	})
	require.NoError(t, err)
	_, err = bus.QueueSubscribe("agor.work", "workers", func(_ context.Context, e *Event) error {
		recvB <- e
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, bus.Publish(context.Background(), "agor.work", NewEvent("job", "node-a", nil)))
	}

	deadline := time.After(2 * time.Second)
	total := 0
	for total < 4 {
		select {
		case <-recvA:
			total++
		case <-recvB:
			total++
		case <-deadline:
			t.Fatalf("only %d of 4 jobs delivered", total)
		}
	}
}

func TestMemoryBusRequestReply(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	_, err := bus.Subscribe("agor.rpc", func(ctx context.Context, e *Event) error {
		reply, _ := e.Data["_reply"].(string)
		return bus.Publish(ctx, reply, NewEvent("pong", "node-b", nil))
	})
	require.NoError(t, err)

	resp, err := bus.Request(context.Background(), "agor.rpc", NewEvent("ping", "node-a", map[string]any{}), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Type)
}

func TestMemoryBusPublishAfterCloseErrors(t *testing.T) {
	bus := NewMemoryBus(nil)
	bus.Close()
	assert.False(t, bus.IsConnected())

	err := bus.Publish(context.Background(), "agor.test", NewEvent("ping", "node-a", nil))
	assert.Error(t, err)
}
