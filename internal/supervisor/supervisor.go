// Package supervisor tracks parent->child relations and a restart policy
// for child actors. Parent/child links are always ActorId values looked up
// in the Theater Runtime's registry, never pointers or task handles: this is
// what lets the relationship survive a restart, since the child after a
// restart is a different instance under a new ActorId with the same
// manifest.
//
// There is no implicit restart inside the actor runtime itself; this
// package only decides *whether* and *after how long* a restart is due.
package supervisor

import (
	"sync"
	"time"

	"github.com/weisyn/theater/internal/actor"
	"github.com/weisyn/theater/internal/id"
)

// RestartPolicy governs how a Supervisor paces restarts of one manifest's
// actors. MinBackoff is clamped to at least one second.
type RestartPolicy struct {
	MinBackoff             time.Duration
	MaxConsecutiveFailures int // 0 means unbounded
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.MinBackoff < time.Second {
		p.MinBackoff = time.Second
	}
	return p
}

type childState struct {
	consecutiveFailures int
	lastRestart         time.Time
}

// Supervisor tracks restart bookkeeping for a set of child actors, keyed by
// the ActorId each restart currently runs under.
type Supervisor struct {
	policy RestartPolicy

	mu       sync.Mutex
	parents  map[id.ActorId]id.ActorId   // child -> parent
	children map[id.ActorId][]id.ActorId // parent -> children
	state    map[id.ActorId]*childState  // keyed by the *original* child id a lineage started under
	lineage  map[id.ActorId]id.ActorId   // restarted actor id -> original lineage id
}

// New returns a Supervisor applying policy to every child it is told about.
func New(policy RestartPolicy) *Supervisor {
	return &Supervisor{
		policy:   policy.withDefaults(),
		parents:  make(map[id.ActorId]id.ActorId),
		children: make(map[id.ActorId][]id.ActorId),
		state:    make(map[id.ActorId]*childState),
		lineage:  make(map[id.ActorId]id.ActorId),
	}
}

// Link records that child's parent is parent. Call once per spawn.
func (s *Supervisor) Link(parent, child id.ActorId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parents[child] = parent
	s.children[parent] = append(s.children[parent], child)
	s.lineage[child] = child
}

// LinkRestart records that newChild is a restart of an existing lineage
// previously rooted at oldChild, preserving the same parent and failure
// bookkeeping under the lineage's original id.
func (s *Supervisor) LinkRestart(oldChild, newChild id.ActorId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.parents[oldChild]
	if !ok {
		parent = s.parents[s.lineage[oldChild]]
	}
	lineage := s.lineage[oldChild]
	if lineage.IsZero() {
		lineage = oldChild
	}
	s.parents[newChild] = parent
	s.children[parent] = append(s.children[parent], newChild)
	s.lineage[newChild] = lineage
}

// Parent returns the parent of child, if any.
func (s *Supervisor) Parent(child id.ActorId) (id.ActorId, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parents[child]
	return p, ok
}

// Children returns the current children of parent.
func (s *Supervisor) Children(parent id.ActorId) []id.ActorId {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]id.ActorId, len(s.children[parent]))
	copy(out, s.children[parent])
	return out
}

// Decision tells a caller whether and when to restart a child that just
// reached a terminal state.
type Decision struct {
	Restart bool
	Wait    time.Duration
	Reason  string // set when Restart is false
}

// Observe records a child's terminal Result and returns whether (and after
// how long) it should be restarted. restartRequested is the manifest's
// restart_on_failure flag; only ResultError outcomes are ever restarted.
// Success and ExternalStop end the lineage.
func (s *Supervisor) Observe(child id.ActorId, restartRequested bool, result actor.Result) Decision {
	if result.Kind != actor.ResultError {
		s.mu.Lock()
		delete(s.state, s.lineage[child])
		s.mu.Unlock()
		return Decision{Restart: false, Reason: "not a failure"}
	}
	if !restartRequested {
		return Decision{Restart: false, Reason: "restart_on_failure not set"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lineage := s.lineage[child]
	if lineage.IsZero() {
		lineage = child
	}
	st, ok := s.state[lineage]
	if !ok {
		st = &childState{}
		s.state[lineage] = st
	}
	st.consecutiveFailures++

	if s.policy.MaxConsecutiveFailures > 0 && st.consecutiveFailures > s.policy.MaxConsecutiveFailures {
		return Decision{Restart: false, Reason: "max consecutive failures exceeded"}
	}

	wait := s.policy.MinBackoff
	if !st.lastRestart.IsZero() {
		if since := time.Since(st.lastRestart); since < wait {
			wait -= since
		} else {
			wait = 0
		}
	}
	st.lastRestart = time.Now()
	return Decision{Restart: true, Wait: wait}
}
