package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBus_PublishToTypedSubscriber(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(EventRoundCompleted)

	bus.Publish(NewEvent(EventRoundCompleted, "session-1", map[string]int{"round": 2}))

	select {
	case ev := <-sub.Channel:
		assert.Equal(t, EventRoundCompleted, ev.Type)
		assert.Equal(t, "session-1", ev.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestBus_TypedSubscriberIgnoresOtherTypes(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(EventDebateCompleted)

	bus.Publish(NewEvent(EventRoundStarted, "session-1", nil))

	select {
	case ev := <-sub.Channel:
		t.Fatalf("unexpected event: %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe()

	bus.Publish(NewEvent(EventDebateStarted, "s", nil))
	bus.Publish(NewEvent(EventMessageGenerated, "s", nil))
	bus.Publish(NewEvent(EventDebateCompleted, "s", nil))

	var got []EventType
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.Channel:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.Equal(t, []EventType{EventDebateStarted, EventMessageGenerated, EventDebateCompleted}, got)
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(&BusConfig{BufferSize: 1, PublishTimeout: 5 * time.Millisecond})
	defer bus.Close()

	sub := bus.Subscribe(EventMessageGenerated)
	_ = sub // never drained

	start := time.Now()
	for i := 0; i < 5; i++ {
		bus.Publish(NewEvent(EventMessageGenerated, "s", i))
	}
	elapsed := time.Since(start)

	// First event fills the buffer; the rest time out and are dropped.
	assert.Less(t, elapsed, 500*time.Millisecond)
	m := bus.Metrics()
	assert.Equal(t, int64(5), m.EventsPublished)
	assert.Equal(t, int64(1), m.EventsDelivered)
	assert.Equal(t, int64(4), m.EventsDropped)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(EventRoundStarted)
	bus.Unsubscribe(sub)

	// Channel is closed; publish must not panic or deliver.
	bus.Publish(NewEvent(EventRoundStarted, "s", nil))

	_, open := <-sub.Channel
	assert.False(t, open, "channel should be closed after unsubscribe")
}

func TestBus_UnsubscribeTwiceDecrementsGaugeOnce(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	keep := bus.Subscribe(EventRoundStarted)
	defer bus.Unsubscribe(keep)
	sub := bus.Subscribe(EventRoundStarted)

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)

	assert.Equal(t, int64(1), bus.Metrics().SubscribersActive)
}

func TestBus_CloseClosesSubscriberChannels(t *testing.T) {
	bus := NewBus(nil)

	typed := bus.Subscribe(EventDebateFailed)
	all := bus.Subscribe()

	bus.Close()

	_, open := <-typed.Channel
	assert.False(t, open)
	_, open = <-all.Channel
	assert.False(t, open)

	// Publishing after close is a no-op.
	require.NotPanics(t, func() {
		bus.Publish(NewEvent(EventDebateFailed, "s", nil))
	})

	// Subscribing after close yields a closed channel.
	late := bus.Subscribe(EventDebateStarted)
	_, open = <-late.Channel
	assert.False(t, open)
}
