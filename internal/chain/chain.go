// Package chain implements the per-actor append-only, hash-linked event log:
// a single exclusive writer behind a reader-writer barrier, so snapshot reads
// never block an append for more than the duration of one append.
package chain

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrEmpty reports an empty chain. No operation in this package returns it:
// Recent, ByType and Since return an empty result on an empty chain.
var ErrEmpty = errors.New("chain: empty")

// Chain is one actor's event log. The zero value is not usable; use New.
type Chain struct {
	mu     sync.RWMutex
	events []Event
	now    func() uint64
}

// New returns an empty chain ready to accept its root event.
func New() *Chain {
	return &Chain{now: nowMillis}
}

func nowMillis() uint64 { return uint64(time.Now().UnixMilli()) }

// Append computes the new event's hash from the current tail (or treats it
// as root if the chain is empty), appends it, and returns a copy of the
// stored event. The lock is held only for the duration of the mutation
// itself; it is never held across a suspension point, so a single append
// can never deadlock against a concurrent reader or another append queued
// behind it.
func (c *Chain) Append(eventType string, data []byte, description string) Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var parent []byte
	if n := len(c.events); n > 0 {
		parent = c.events[n-1].Hash
	}
	ev := Event{
		ParentHash:  parent,
		EventType:   eventType,
		Timestamp:   c.now(),
		Data:        data,
		Description: description,
	}
	ev.Hash = computeHash(ev.ParentHash, ev.EventType, ev.Data)
	c.events = append(c.events, ev)
	return ev
}

// Len returns the number of events currently in the chain.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Snapshot returns a consistent point-in-time copy of the whole chain. It
// never blocks a concurrent writer beyond the copy itself.
func (c *Chain) Snapshot() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Recent returns up to the last n events, most-recent first.
func (c *Chain) Recent(n int) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	total := len(c.events)
	if n > total {
		n = total
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = c.events[total-1-i]
	}
	return out
}

// ByType returns a snapshot filtered to events whose EventType starts with
// prefix, in original (oldest-first) order.
func (c *Chain) ByType(prefix string) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Event
	for _, ev := range c.events {
		if strings.HasPrefix(ev.EventType, prefix) {
			out = append(out, ev)
		}
	}
	return out
}

// Since returns every event with Timestamp strictly greater than ts.
func (c *Chain) Since(ts uint64) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := sort.Search(len(c.events), func(i int) bool { return c.events[i].Timestamp > ts })
	out := make([]Event, len(c.events)-idx)
	copy(out, c.events[idx:])
	return out
}

// VerifyResult is the outcome of walking a chain and recomputing every hash.
type VerifyResult struct {
	Passed        bool
	FirstMismatch int // index of the earliest inconsistency; -1 if Passed
}

// Verify walks the chain and recomputes each event's hash from its
// predecessor and payload.
func (c *Chain) Verify() VerifyResult {
	return VerifySequence(c.Snapshot())
}

// VerifySequence runs the same check as (*Chain).Verify over an arbitrary
// event sequence, e.g. one loaded back from a blobstore.
func VerifySequence(events []Event) VerifyResult {
	var parent []byte
	for i, ev := range events {
		if i == 0 {
			if len(ev.ParentHash) != 0 {
				return VerifyResult{FirstMismatch: i}
			}
		} else if !bytes.Equal(ev.ParentHash, parent) {
			return VerifyResult{FirstMismatch: i}
		}
		want := computeHash(ev.ParentHash, ev.EventType, ev.Data)
		if !bytes.Equal(want, ev.Hash) {
			return VerifyResult{FirstMismatch: i}
		}
		parent = ev.Hash
	}
	return VerifyResult{Passed: true, FirstMismatch: -1}
}
