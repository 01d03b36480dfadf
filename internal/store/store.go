// Package store implements the per-actor mutable context: the event chain
// (exclusive writer), a resource table of host-side handles, and the
// plumbing a handler needs to record events and check permissions without
// reaching into the rest of the actor runtime.
package store

import (
	"fmt"
	"sync"

	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/handler"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/log"
	"github.com/weisyn/theater/internal/metrics"
	"github.com/weisyn/theater/internal/permission"
)

// ResourceHandle is an index-keyed host-side handle (a socket, file,
// pollable, or similar) owned by one actor for the lifetime of its
// instance.
type ResourceHandle int32

// ActorStore is the mutable context shared between one actor's runtime task
// and the host-function closures invoked synchronously from guest
// suspension points. Both access it from the same logical thread of
// execution; the chain has its own reader-writer barrier and the resource
// table its own mutex.
type ActorStore struct {
	ActorID id.ActorId

	chain    *chain.Chain
	checker  *permission.Checker
	logger   log.Logger
	metrics  *metrics.Registry
	hook     func(chain.Event)

	resMu     sync.Mutex
	resources map[ResourceHandle]any
	nextRes   ResourceHandle
}

// SetEventHook installs fn to be called synchronously after every
// RecordEvent, used by the Theater Runtime to fan newly recorded events out
// to subscribers. It must be called before the actor's task starts; there is
// exactly one writer (the actor's own task) so no additional synchronization
// is needed once that holds.
func (s *ActorStore) SetEventHook(fn func(chain.Event)) { s.hook = fn }

// New creates an ActorStore for actorID with the given effective
// permissions. reg may be nil, in which case denial counts are discarded.
func New(actorID id.ActorId, grants permission.Set, logger log.Logger, reg *metrics.Registry) *ActorStore {
	if logger == nil {
		logger = log.Nop()
	}
	if reg == nil {
		reg = metrics.Nop()
	}
	return &ActorStore{
		ActorID:   actorID,
		chain:     chain.New(),
		checker:   permission.NewChecker(grants),
		logger:    logger,
		metrics:   reg,
		resources: make(map[ResourceHandle]any),
	}
}

// Chain returns the actor's event chain.
func (s *ActorStore) Chain() *chain.Chain { return s.chain }

// Permissions returns the actor's permission checker.
func (s *ActorStore) Permissions() *permission.Checker { return s.checker }

// Logger returns the actor's logger.
func (s *ActorStore) Logger() log.Logger { return s.logger }

// RecordEvent appends an event to the chain, implementing handler.ActorHandle.
func (s *ActorStore) RecordEvent(eventType string, data []byte, description string) chain.Event {
	ev := s.chain.Append(eventType, data, description)
	if s.hook != nil {
		s.hook(ev)
	}
	return ev
}

// PutResource stores a host-side resource and returns its handle.
func (s *ActorStore) PutResource(v any) ResourceHandle {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	h := s.nextRes
	s.nextRes++
	s.resources[h] = v
	return h
}

// GetResource retrieves a previously stored resource.
func (s *ActorStore) GetResource(h ResourceHandle) (any, bool) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	v, ok := s.resources[h]
	return v, ok
}

// DropResource removes a resource handle, e.g. when a socket is closed.
func (s *ActorStore) DropResource(h ResourceHandle) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	delete(s.resources, h)
}

var _ handler.ActorHandle = (*ActorStore)(nil)

// RecordDenied appends exactly one permission-denied event for the given
// interface, carrying the attempted operation payload, and returns the
// user-visible error a handler should surface to the guest.
func (s *ActorStore) RecordDenied(interfaceName string, attempted []byte, cause error) error {
	s.RecordEvent(permission.DeniedEventType(interfaceName), attempted, cause.Error())
	s.metrics.PermissionDenied.WithLabelValues(interfaceName).Inc()
	return fmt.Errorf("operation denied: %w", cause)
}
