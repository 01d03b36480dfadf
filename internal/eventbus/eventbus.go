// Package eventbus implements the Theater Runtime's per-actor event
// subscription fan-out: every event an actor appends is forwarded to every
// current subscriber of that actor, preserving append order per subscriber,
// and a subscriber that stops draining is dropped rather than allowed to
// block the actor.
//
// The fan-out is built on github.com/asaskevich/EventBus with one topic per
// actor and exactly one bus handler per topic; that handler relays into each
// subscriber's own bounded Go channel, so publish can never block on a slow
// reader and unsubscribing one reader never disturbs another.
package eventbus

import (
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/log"
	"github.com/weisyn/theater/internal/metrics"
)

const defaultBound = 64

type subscriber struct {
	ch chan chain.Event
}

// Bus fans out one actor's chain events to any number of subscribers.
type Bus struct {
	bus     evbus.Bus
	bound   int
	logger  log.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	subs     map[id.ActorId]map[id.SubscriptionId]*subscriber
	handlers map[id.ActorId]func(chain.Event)
}

// New returns an empty Bus. bound is the per-subscriber channel capacity;
// 0 selects the default of 64. reg may be nil, in which case drop counts are
// discarded.
func New(bound int, logger log.Logger, reg *metrics.Registry) *Bus {
	if bound <= 0 {
		bound = defaultBound
	}
	if logger == nil {
		logger = log.Nop()
	}
	if reg == nil {
		reg = metrics.Nop()
	}
	return &Bus{
		bus:      evbus.New(),
		bound:    bound,
		logger:   logger,
		metrics:  reg,
		subs:     make(map[id.ActorId]map[id.SubscriptionId]*subscriber),
		handlers: make(map[id.ActorId]func(chain.Event)),
	}
}

func topic(actorID id.ActorId) string { return "theater.actor." + actorID.String() + ".event" }

// Subscribe registers a new subscriber for actorID's event stream and
// returns its id and receive channel. The channel is closed when the
// subscriber is dropped (bound exceeded) or explicitly unsubscribed.
func (b *Bus) Subscribe(actorID id.ActorId) (id.SubscriptionId, <-chan chain.Event) {
	subID := id.NewSubscriptionId()
	ch := make(chan chain.Event, b.bound)

	b.mu.Lock()
	if b.subs[actorID] == nil {
		b.subs[actorID] = make(map[id.SubscriptionId]*subscriber)
		h := func(ev chain.Event) { b.fanout(actorID, ev) }
		b.handlers[actorID] = h
		_ = b.bus.Subscribe(topic(actorID), h)
	}
	b.subs[actorID][subID] = &subscriber{ch: ch}
	b.mu.Unlock()

	return subID, ch
}

// fanout relays ev to every current subscriber of actorID without blocking.
// A subscriber whose channel is full is removed and its channel closed.
func (b *Bus) fanout(actorID id.ActorId, ev chain.Event) {
	type dropped struct {
		subID id.SubscriptionId
		sub   *subscriber
	}
	var drops []dropped

	b.mu.Lock()
	for subID, sub := range b.subs[actorID] {
		select {
		case sub.ch <- ev:
		default:
			delete(b.subs[actorID], subID)
			drops = append(drops, dropped{subID: subID, sub: sub})
		}
	}
	b.mu.Unlock()

	for _, d := range drops {
		close(d.sub.ch)
		b.metrics.SubscriberDrops.Inc()
		b.logger.Warn("eventbus: dropped slow subscriber",
			log.String("actor", actorID.String()),
			log.String("subscription", d.subID.String()))
	}
}

// Unsubscribe removes subID from actorID's subscriber set, closing its
// channel.
func (b *Bus) Unsubscribe(actorID id.ActorId, subID id.SubscriptionId) error {
	b.mu.Lock()
	m := b.subs[actorID]
	sub, ok := m[subID]
	if ok {
		delete(m, subID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("eventbus: unknown subscription %s", subID)
	}
	close(sub.ch)
	return nil
}

// Publish forwards ev to every current subscriber of actorID. It never
// blocks: subscribers that cannot keep up are dropped inside the fan-out
// itself.
func (b *Bus) Publish(actorID id.ActorId, ev chain.Event) {
	b.bus.Publish(topic(actorID), ev)
}

// RemoveActor drops every subscriber of actorID, e.g. once the actor has
// reached a terminal state and its record is removed from the registry.
func (b *Bus) RemoveActor(actorID id.ActorId) {
	b.mu.Lock()
	m := b.subs[actorID]
	delete(b.subs, actorID)
	h := b.handlers[actorID]
	delete(b.handlers, actorID)
	b.mu.Unlock()

	if h != nil {
		_ = b.bus.Unsubscribe(topic(actorID), h)
	}
	for _, sub := range m {
		close(sub.ch)
	}
}
