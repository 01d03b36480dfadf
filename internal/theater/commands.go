package theater

import (
	"github.com/weisyn/theater/internal/actor"
	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/manifest"
)

// CommandKind selects one of the Theater Runtime's command variants.
type CommandKind int

const (
	CmdSpawnActor CommandKind = iota
	CmdStopActor
	CmdSendMessage
	CmdGetActors
	CmdGetActorStatus
	CmdGetActorState
	CmdGetActorEvents
	CmdGetActorMetrics
	CmdActorError
	CmdShuttingDown
)

// SpawnRequest is the payload of CmdSpawnActor.
type SpawnRequest struct {
	Manifest  *manifest.Manifest
	InitBytes []byte

	// Parent, when HasParent is true, names the spawning actor; the new
	// actor's effective permissions are derived from the parent's grant
	// (permission.Effective) instead of from permission.FullGrant.
	Parent    id.ActorId
	HasParent bool

	// RestartOnFailure mirrors the manifest field at spawn time so the
	// Supervisor can be told even if the manifest is mutated by the caller
	// after this call returns.
	RestartOnFailure bool

	// SupervisorTx, if non-nil, additionally receives the actor's terminal
	// Result directly, independent of the internal parent/child bookkeeping
	// CmdActorError/CmdShuttingDown drive.
	SupervisorTx chan<- actor.Result

	// SubscriptionTx, if non-nil, is subscribed to the new actor's event
	// stream for the lifetime of the actor.
	SubscriptionTx chan<- chain.Event
}

// MessageRequest is the payload of CmdSendMessage: a one-way Send when
// ReplyTo is nil, a Request/reply when it is set.
type MessageRequest struct {
	Data    []byte
	ReplyTo chan<- []byte
}

// Command is one entry on the Theater Runtime's multi-producer command
// channel. Exactly one of the payload fields is meaningful for any given
// Kind; Reply, when non-nil, receives exactly one Response.
type Command struct {
	Kind    CommandKind
	ActorID id.ActorId

	Spawn   SpawnRequest
	Message MessageRequest

	// ChildErr/StopData/ResultKind carry the CmdActorError/CmdShuttingDown
	// payload; these two kinds are posted internally by a watcher goroutine
	// when an actor reaches a terminal state, never submitted by an external
	// caller.
	ChildErr   error
	StopData   []byte
	ResultKind actor.ResultKind

	Reply chan<- Response
}

// Response answers a Command whose Reply channel was set.
type Response struct {
	ActorID  id.ActorId
	ActorIDs []id.ActorId
	Info     actor.InfoResponse
	Err      error
}
