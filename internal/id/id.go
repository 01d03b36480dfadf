// Package id defines the opaque identifiers used throughout Theater: actor
// identities, content references, channel identities and subscription
// handles. None of these carry meaning beyond equality and string rendering.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// ActorId is an opaque, globally unique, comparable identity for one actor.
// It is stable for the lifetime of the actor and never reused.
type ActorId struct {
	v uuid.UUID
}

// NewActorId allocates a fresh ActorId.
func NewActorId() ActorId {
	return ActorId{v: uuid.New()}
}

// ParseActorId recovers an ActorId from its string form, e.g. when
// rehydrating a command that crossed a process boundary.
func ParseActorId(s string) (ActorId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ActorId{}, fmt.Errorf("id: parse actor id %q: %w", s, err)
	}
	return ActorId{v: u}, nil
}

func (a ActorId) String() string { return a.v.String() }

// IsZero reports whether a has never been assigned.
func (a ActorId) IsZero() bool { return a.v == uuid.Nil }

// ContentRef is an opaque content address (a hash digest string) naming a
// blob in the external content-addressed store. Two ContentRef values with
// the same string are understood to name the same content.
type ContentRef struct {
	digest string
}

// NewContentRef wraps a hex-encoded digest string produced by a blobstore.
func NewContentRef(digest string) ContentRef { return ContentRef{digest: digest} }

func (r ContentRef) String() string { return r.digest }

// IsZero reports whether r names no content.
func (r ContentRef) IsZero() bool { return r.digest == "" }

// ChannelId identifies one long-lived bidirectional stream between two
// actors (see messaging.Channel).
type ChannelId struct{ v uuid.UUID }

// NewChannelId allocates a fresh ChannelId.
func NewChannelId() ChannelId { return ChannelId{v: uuid.New()} }

func (c ChannelId) String() string { return c.v.String() }

// SubscriptionId identifies one subscriber of an actor's event stream.
type SubscriptionId struct{ v uuid.UUID }

// NewSubscriptionId allocates a fresh SubscriptionId.
func NewSubscriptionId() SubscriptionId { return SubscriptionId{v: uuid.New()} }

// ParseSubscriptionId recovers a SubscriptionId from its string form.
func ParseSubscriptionId(s string) (SubscriptionId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SubscriptionId{}, fmt.Errorf("id: parse subscription id %q: %w", s, err)
	}
	return SubscriptionId{v: u}, nil
}

func (s SubscriptionId) String() string { return s.v.String() }
