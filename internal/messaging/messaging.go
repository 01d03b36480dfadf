// Package messaging implements actor-to-actor interaction: one-way Send,
// request/reply Request, and long-lived bidirectional Channels. Send and
// Request are thin wrappers over the Theater Runtime's own operation-channel
// routing (internal/theater already implements the delivery mechanics);
// Channels add a ChannelId-keyed registry and per-direction ordering on top
// of the same routing.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/log"
	"github.com/weisyn/theater/internal/theater"
)

// envelopeKind distinguishes the three channel lifecycle operations on the
// wire; the guest-side export convention for interpreting these
// (channel-open, channel-message, channel-close) is left to the component,
// exactly like the rest of the guest ABI.
type envelopeKind string

const (
	envelopeOpen  envelopeKind = "open"
	envelopeSend  envelopeKind = "send"
	envelopeClose envelopeKind = "close"
)

type envelope struct {
	Kind      envelopeKind `json:"kind"`
	ChannelID string       `json:"channel_id"`
	Payload   []byte       `json:"payload,omitempty"`
}

// OpenReply is the guest's answer to an Open request: whether the channel is
// accepted, plus an optional initial reply payload.
type OpenReply struct {
	Accept       bool   `json:"accept"`
	InitialReply []byte `json:"initial_reply,omitempty"`
}

// ChannelState is one point in a Channel's lifecycle.
type ChannelState int

const (
	ChannelOpen ChannelState = iota
	ChannelClosed
)

// Channel is one long-lived bidirectional stream, identified by an opaque
// ChannelId.
type Channel struct {
	ID        id.ChannelId
	Initiator id.ActorId
	Target    id.ActorId
	State     ChannelState

	// One mutex per direction, so SendOnChannel calls issued concurrently
	// from one endpoint are still delivered to the other in call order,
	// while traffic in the opposite direction interleaves freely.
	initiatorToTarget sync.Mutex
	targetToInitiator sync.Mutex
}

// Manager tracks every open Channel and routes Send/Request/channel traffic
// through a Theater Runtime's existing actor operation-channel delivery.
type Manager struct {
	theater *theater.Runtime
	logger  log.Logger

	mu       sync.Mutex
	channels map[id.ChannelId]*Channel
}

// New returns a Manager routing through rt.
func New(rt *theater.Runtime, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{theater: rt, logger: logger, channels: make(map[id.ChannelId]*Channel)}
}

// Send delivers a one-way, fire-and-forget message to target.
func (m *Manager) Send(target id.ActorId, data []byte) error {
	return m.theater.SendMessage(target, data)
}

// Request delivers data to target and waits for its reply.
func (m *Manager) Request(target id.ActorId, data []byte) ([]byte, error) {
	return m.theater.RequestMessage(target, data)
}

// Open initiates a Channel from initiator to target with an initial payload.
// It blocks for the target's accept/reject decision. On rejection the
// Channel is not registered.
func (m *Manager) Open(ctx context.Context, initiator, target id.ActorId, payload []byte) (id.ChannelId, OpenReply, error) {
	chID := id.NewChannelId()
	wire, err := json.Marshal(envelope{Kind: envelopeOpen, ChannelID: chID.String(), Payload: payload})
	if err != nil {
		return id.ChannelId{}, OpenReply{}, fmt.Errorf("messaging: encode open: %w", err)
	}

	raw, err := m.theater.RequestMessage(target, wire)
	if err != nil {
		return id.ChannelId{}, OpenReply{}, fmt.Errorf("messaging: open request: %w", err)
	}
	var reply OpenReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return id.ChannelId{}, OpenReply{}, fmt.Errorf("messaging: decode open reply: %w", err)
	}
	if !reply.Accept {
		return chID, reply, nil
	}

	ch := &Channel{ID: chID, Initiator: initiator, Target: target, State: ChannelOpen}
	m.mu.Lock()
	m.channels[chID] = ch
	m.mu.Unlock()
	return chID, reply, nil
}

// SendOnChannel delivers payload on an open channel from the endpoint
// identified by from to the other endpoint.
func (m *Manager) SendOnChannel(chID id.ChannelId, from id.ActorId, payload []byte) error {
	other, forward, err := m.locate(chID, from)
	if err != nil {
		return err
	}
	wire, err := json.Marshal(envelope{Kind: envelopeSend, ChannelID: chID.String(), Payload: payload})
	if err != nil {
		return fmt.Errorf("messaging: encode send: %w", err)
	}
	forward.Lock()
	defer forward.Unlock()
	return m.theater.SendMessage(other, wire)
}

// Close ends a channel, notifying the other endpoint and removing it from
// the registry. Either endpoint may call Close.
func (m *Manager) Close(chID id.ChannelId, by id.ActorId) error {
	m.mu.Lock()
	ch, ok := m.channels[chID]
	if ok {
		delete(m.channels, chID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("messaging: unknown channel %s", chID)
	}
	ch.State = ChannelClosed

	other := ch.Target
	if by == ch.Target {
		other = ch.Initiator
	}
	wire, err := json.Marshal(envelope{Kind: envelopeClose, ChannelID: chID.String()})
	if err != nil {
		return fmt.Errorf("messaging: encode close: %w", err)
	}
	return m.theater.SendMessage(other, wire)
}

// locate resolves chID to the endpoint other than from and the mutex
// serializing sends in that direction.
func (m *Manager) locate(chID id.ChannelId, from id.ActorId) (id.ActorId, *sync.Mutex, error) {
	m.mu.Lock()
	ch, ok := m.channels[chID]
	m.mu.Unlock()
	if !ok {
		return id.ActorId{}, nil, fmt.Errorf("messaging: unknown channel %s", chID)
	}
	if ch.State != ChannelOpen {
		return id.ActorId{}, nil, fmt.Errorf("messaging: channel %s not open", chID)
	}
	switch from {
	case ch.Initiator:
		return ch.Target, &ch.initiatorToTarget, nil
	case ch.Target:
		return ch.Initiator, &ch.targetToInitiator, nil
	default:
		return id.ActorId{}, nil, fmt.Errorf("messaging: %s is not an endpoint of channel %s", from, chID)
	}
}
