// Package controlplane defines the structured command/response envelope for
// managing a Theater Runtime. Variants map 1:1 onto the runtime's own
// command set (internal/theater); this package only adds a wire-shaped
// JSON encoding and the request/response pairing a management server would
// serialize over whatever transport it chooses. No transport is implemented
// here.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/weisyn/theater/internal/actor"
	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/manifest"
	"github.com/weisyn/theater/internal/theater"
)

// CommandKind names one control-plane command variant.
type CommandKind string

const (
	CmdStartActor           CommandKind = "StartActor"
	CmdStopActor            CommandKind = "StopActor"
	CmdListActors           CommandKind = "ListActors"
	CmdSubscribeToActor     CommandKind = "SubscribeToActor"
	CmdUnsubscribeFromActor CommandKind = "UnsubscribeFromActor"
	CmdSendActorMessage     CommandKind = "SendActorMessage"
	CmdRequestActorMessage  CommandKind = "RequestActorMessage"
	CmdGetActorStatus       CommandKind = "GetActorStatus"
	CmdGetActorState        CommandKind = "GetActorState"
	CmdGetActorEvents       CommandKind = "GetActorEvents"
	CmdGetActorMetrics      CommandKind = "GetActorMetrics"
	CmdRestartActor         CommandKind = "RestartActor"
)

// Envelope is one request on the control-plane boundary.
type Envelope struct {
	Kind           CommandKind `json:"kind"`
	ActorID        string      `json:"actor_id,omitempty"`
	Manifest       []byte      `json:"manifest,omitempty"` // a YAML manifest document
	InitialState   []byte      `json:"initial_state,omitempty"`
	Data           []byte      `json:"data,omitempty"`
	SubscriptionID string      `json:"subscription_id,omitempty"`
}

// Response pairs with an Envelope of the same Kind.
type Response struct {
	Kind           CommandKind    `json:"kind"`
	ActorID        string         `json:"actor_id,omitempty"`
	ActorIDs       []string       `json:"actor_ids,omitempty"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
	Status         string         `json:"status,omitempty"`
	Events         []chain.Event  `json:"events,omitempty"`
	Metrics        *actor.Metrics `json:"metrics,omitempty"`
	Data           []byte         `json:"data,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// ActorEvent is pushed asynchronously, outside the request/response
// pairing.
type ActorEvent struct {
	ActorID string      `json:"actor_id"`
	Event   chain.Event `json:"event"`
}

// Server dispatches Envelopes against a Theater Runtime and fans out
// subscribed actors' events onto a single ActorEvent stream, decoupled from
// the request/response pairing.
type Server struct {
	theater *theater.Runtime
	events  chan ActorEvent

	mu        sync.Mutex
	manifests map[string]*manifest.Manifest // actor id -> manifest it was started from
}

// New returns a Server dispatching against rt. eventBound sizes the shared
// ActorEvent channel returned by Events; 0 selects a reasonable default.
func New(rt *theater.Runtime, eventBound int) *Server {
	if eventBound <= 0 {
		eventBound = 256
	}
	return &Server{
		theater:   rt,
		events:    make(chan ActorEvent, eventBound),
		manifests: make(map[string]*manifest.Manifest),
	}
}

// Events returns the shared stream every SubscribeToActor call feeds into.
func (s *Server) Events() <-chan ActorEvent { return s.events }

// Dispatch decodes one Envelope, executes it, and returns the encoded
// Response. It never panics on malformed input; decode/validation failures
// are reported in Response.Error with the Envelope's own Kind preserved
// where it could be determined.
func (s *Server) Dispatch(ctx context.Context, raw []byte) []byte {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return encode(Response{Error: fmt.Sprintf("controlplane: decode envelope: %v", err)})
	}
	resp := s.handle(ctx, env)
	resp.Kind = env.Kind
	return encode(resp)
}

func encode(resp Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		// Response contains only JSON-safe fields; Marshal cannot fail.
		panic(err)
	}
	return out
}

func (s *Server) handle(ctx context.Context, env Envelope) Response {
	switch env.Kind {
	case CmdStartActor:
		return s.startActor(env)
	case CmdStopActor:
		return errResponse(s.theater.StopActor(mustParse(env.ActorID)))
	case CmdListActors:
		ids := s.theater.GetActors()
		out := make([]string, len(ids))
		for i, a := range ids {
			out[i] = a.String()
		}
		return Response{ActorIDs: out}
	case CmdSendActorMessage:
		return errResponse(s.theater.SendMessage(mustParse(env.ActorID), env.Data))
	case CmdRequestActorMessage:
		data, err := s.theater.RequestMessage(mustParse(env.ActorID), env.Data)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Data: data}
	case CmdGetActorStatus:
		return s.info(mustParse(env.ActorID), s.theater.GetActorStatus)
	case CmdGetActorState:
		return s.info(mustParse(env.ActorID), s.theater.GetActorState)
	case CmdGetActorEvents:
		return s.info(mustParse(env.ActorID), s.theater.GetActorEvents)
	case CmdGetActorMetrics:
		return s.info(mustParse(env.ActorID), s.theater.GetActorMetrics)
	case CmdRestartActor:
		return s.restartActor(env)
	case CmdSubscribeToActor:
		return s.subscribe(mustParse(env.ActorID))
	case CmdUnsubscribeFromActor:
		return s.unsubscribe(mustParse(env.ActorID), env.SubscriptionID)
	default:
		return Response{Error: fmt.Sprintf("controlplane: unknown command %q", env.Kind)}
	}
}

// subscribe registers a subscription and starts forwarding its events onto
// the shared Events stream, each wrapped with the originating actor's id so
// a single stream can serve many concurrent subscriptions.
func (s *Server) subscribe(actorID id.ActorId) Response {
	subID, ch := s.theater.Subscribe(actorID)
	go func() {
		for ev := range ch {
			s.events <- ActorEvent{ActorID: actorID.String(), Event: ev}
		}
	}()
	return Response{ActorID: actorID.String(), SubscriptionID: subID.String()}
}

func (s *Server) unsubscribe(actorID id.ActorId, subID string) Response {
	parsed, err := id.ParseSubscriptionId(subID)
	if err != nil {
		return Response{Error: fmt.Sprintf("controlplane: invalid subscription id %q: %v", subID, err)}
	}
	return errResponse(s.theater.Unsubscribe(actorID, parsed))
}

func (s *Server) startActor(env Envelope) Response {
	m, err := manifest.Parse(env.Manifest)
	if err != nil {
		return Response{Error: err.Error()}
	}
	actorID, err := s.theater.SpawnActor(theater.SpawnRequest{Manifest: m, InitBytes: env.InitialState})
	if err != nil {
		return Response{Error: err.Error()}
	}
	s.mu.Lock()
	s.manifests[actorID.String()] = m
	s.mu.Unlock()
	return Response{ActorID: actorID.String()}
}

// restartActor stops the target and re-spawns it from the manifest it was
// originally started with, answering with the replacement's id. Only actors
// this server started can be restarted; others have no manifest on record.
func (s *Server) restartActor(env Envelope) Response {
	s.mu.Lock()
	m, ok := s.manifests[env.ActorID]
	s.mu.Unlock()
	if !ok {
		return Response{Error: fmt.Sprintf("controlplane: no manifest on record for actor %s", env.ActorID)}
	}
	if err := s.theater.StopActor(mustParse(env.ActorID)); err != nil {
		return Response{Error: err.Error()}
	}
	newID, err := s.theater.SpawnActor(theater.SpawnRequest{Manifest: m})
	if err != nil {
		return Response{Error: err.Error()}
	}
	s.mu.Lock()
	delete(s.manifests, env.ActorID)
	s.manifests[newID.String()] = m
	s.mu.Unlock()
	return Response{ActorID: newID.String()}
}

func (s *Server) info(actorID id.ActorId, fn func(id.ActorId) (actor.InfoResponse, error)) Response {
	info, err := fn(actorID)
	if err != nil {
		return Response{Error: err.Error()}
	}
	if info.Err != nil {
		return Response{Error: info.Err.Error()}
	}
	resp := Response{Status: info.StateInfo}
	if info.Chain != nil {
		resp.Events = info.Chain
	}
	if (info.Metrics != actor.Metrics{}) {
		m := info.Metrics
		resp.Metrics = &m
	}
	return resp
}

func errResponse(err error) Response {
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{}
}

func mustParse(s string) id.ActorId {
	actorID, err := id.ParseActorId(s)
	if err != nil {
		return id.ActorId{}
	}
	return actorID
}
