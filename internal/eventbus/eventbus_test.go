package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/metrics"
)

func TestTwoSubscribersSeeIdenticalPrefix(t *testing.T) {
	bus := New(0, nil, nil)
	actorID := id.NewActorId()

	_, chA := bus.Subscribe(actorID)
	_, chB := bus.Subscribe(actorID)

	events := []chain.Event{
		{EventType: "a/one"},
		{EventType: "a/two"},
		{EventType: "a/three"},
	}
	for _, ev := range events {
		bus.Publish(actorID, ev)
	}

	for i := range events {
		a := <-chA
		b := <-chB
		assert.Equal(t, events[i].EventType, a.EventType)
		assert.Equal(t, events[i].EventType, b.EventType)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(0, nil, nil)
	actorID := id.NewActorId()
	subID, ch := bus.Subscribe(actorID)

	require.NoError(t, bus.Unsubscribe(actorID, subID))
	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after Unsubscribe")
}

func TestSlowSubscriberIsDroppedWithoutBlockingOthers(t *testing.T) {
	reg := metrics.New(nil)
	bus := New(1, nil, reg)
	actorID := id.NewActorId()

	_, slow := bus.Subscribe(actorID)
	_, fast := bus.Subscribe(actorID)

	// Fill the slow subscriber's bound without draining it, then publish one
	// more event past capacity so it gets dropped. The fast subscriber drains
	// in between, so it stays within its bound.
	bus.Publish(actorID, chain.Event{EventType: "a/one"})
	first := <-fast
	assert.Equal(t, "a/one", first.EventType)
	bus.Publish(actorID, chain.Event{EventType: "a/two"})

	_, stillOpen := <-slow
	assert.True(t, stillOpen)
	_, closed := <-slow
	assert.False(t, closed, "a subscriber that falls behind its bound must be dropped")

	ev, fastOpen := <-fast
	assert.True(t, fastOpen, "a subscriber that keeps up must not be dropped")
	assert.Equal(t, "a/two", ev.EventType, "other subscribers must keep receiving events")
}

func TestRemoveActorClosesEverySubscriber(t *testing.T) {
	bus := New(0, nil, nil)
	actorID := id.NewActorId()
	_, ch1 := bus.Subscribe(actorID)
	_, ch2 := bus.Subscribe(actorID)

	bus.RemoveActor(actorID)

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}
