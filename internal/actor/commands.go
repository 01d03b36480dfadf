package actor

import (
	"github.com/weisyn/theater/internal/chain"
)

// InfoRequest is one pure query, answered at any time, including while the
// startup pipeline is still running.
type InfoRequest struct {
	Kind  InfoKind
	Reply chan<- InfoResponse
}

type InfoKind int

const (
	InfoGetStatus InfoKind = iota
	InfoGetState
	InfoGetChain
	InfoGetMetrics
	InfoSaveChain
)

// InfoResponse carries whichever payload matches the InfoKind that was
// asked for; unused fields are zero.
type InfoResponse struct {
	Status    State
	StateInfo string // human-readable state description, always set
	Chain     []chain.Event
	Metrics   Metrics
	SavedRef  string
	Err       error // set when the actor is not yet ready to answer this query
}

// Metrics is the payload of a GetMetrics query.
type Metrics struct {
	State         State
	EventCount    int
	UptimeMillis  uint64
	LastEventUnix uint64
}

// ControlKind selects a lifecycle-affecting command.
type ControlKind int

const (
	ControlShutdown ControlKind = iota
	ControlPause
	ControlResume
)

// ControlRequest affects the state machine.
type ControlRequest struct {
	Kind  ControlKind
	Reply chan<- error
}

// Operation is higher-level actor work: deliver a message, handle a
// request. While Paused, operations stay buffered in the channel (up to its
// bound) and are processed on Resume; none are dropped.
type Operation struct {
	Data    []byte
	ReplyTo chan<- []byte // non-nil for a Request, nil for a one-way Send
}
