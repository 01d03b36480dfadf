// Package theater implements the Theater Runtime: a registry of every live
// actor keyed by ActorId, a single multi-producer command channel dispatched
// by one goroutine, and the event-subscription fan-out wired through
// internal/eventbus.
package theater

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weisyn/theater/internal/actor"
	"github.com/weisyn/theater/internal/blobstore"
	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/embedder"
	"github.com/weisyn/theater/internal/eventbus"
	"github.com/weisyn/theater/internal/handler"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/log"
	"github.com/weisyn/theater/internal/manifest"
	"github.com/weisyn/theater/internal/metrics"
	"github.com/weisyn/theater/internal/permission"
	"github.com/weisyn/theater/internal/supervisor"
)

const defaultCommandBound = 32

// Config are the Runtime's dependencies, resolved once at process startup.
type Config struct {
	Handlers      *handler.Registry
	Embedder      embedder.Embedder
	Blobstore     blobstore.Store   // optional; only manifests with save_chain need it
	Resolver      manifest.Resolver // resolves component/init_state references
	RestartPolicy supervisor.RestartPolicy
	Logger        log.Logger
	Metrics       *metrics.Registry
	CommandBound  int // default defaultCommandBound
	EventBound    int // per-subscriber channel bound, default eventbus default
}

type actorRecord struct {
	id        id.ActorId
	manifest  *manifest.Manifest
	runtime   *actor.Runtime
	cancel    context.CancelFunc
	grants    permission.Set
	parent    id.ActorId
	hasParent bool
	restart   bool
	extSuper  chan<- actor.Result
}

// Runtime is the Theater Runtime: the actor registry plus its command loop.
type Runtime struct {
	cfg Config

	mu     sync.RWMutex
	actors map[id.ActorId]*actorRecord

	supervisor *supervisor.Supervisor
	bus        *eventbus.Bus
	cmdCh      chan Command
}

// New constructs a Runtime. Call Run to start its command loop.
func New(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.CommandBound <= 0 {
		cfg.CommandBound = defaultCommandBound
	}
	return &Runtime{
		cfg:        cfg,
		actors:     make(map[id.ActorId]*actorRecord),
		supervisor: supervisor.New(cfg.RestartPolicy),
		bus:        eventbus.New(cfg.EventBound, cfg.Logger, cfg.Metrics),
		cmdCh:      make(chan Command, cfg.CommandBound),
	}
}

// Submit enqueues cmd on the command channel. A full command channel blocks
// the caller.
func (r *Runtime) Submit(cmd Command) { r.cmdCh <- cmd }

// Run drains the command channel until ctx is cancelled. Every live actor is
// spawned with ctx as its parent context, so cancelling ctx tears down the
// whole runtime.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case cmd := <-r.cmdCh:
			r.dispatch(ctx, cmd)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdSpawnActor:
		r.handleSpawn(ctx, cmd)
	case CmdStopActor:
		r.handleStop(cmd)
	case CmdSendMessage:
		r.handleSendMessage(cmd)
	case CmdGetActors:
		r.handleGetActors(cmd)
	case CmdGetActorStatus:
		r.handleInfo(cmd, actor.InfoGetStatus)
	case CmdGetActorState:
		r.handleInfo(cmd, actor.InfoGetState)
	case CmdGetActorEvents:
		r.handleInfo(cmd, actor.InfoGetChain)
	case CmdGetActorMetrics:
		r.handleInfo(cmd, actor.InfoGetMetrics)
	case CmdActorError:
		r.handleActorError(cmd)
	case CmdShuttingDown:
		r.handleShuttingDown(ctx, cmd)
	}
}

func reply(cmd Command, resp Response) {
	if cmd.Reply != nil {
		cmd.Reply <- resp
	}
}

func (r *Runtime) handleSpawn(ctx context.Context, cmd Command) {
	req := cmd.Spawn
	m := req.Manifest
	if m == nil {
		reply(cmd, Response{Err: fmt.Errorf("theater: spawn: nil manifest")})
		return
	}

	parentGrants := permission.FullGrant()
	if req.HasParent {
		r.mu.RLock()
		parent, ok := r.actors[req.Parent]
		r.mu.RUnlock()
		if !ok {
			reply(cmd, Response{Err: fmt.Errorf("theater: spawn: unknown parent %s", req.Parent)})
			return
		}
		parentGrants = parent.grants
	}

	grants, err := permission.Effective(parentGrants, m.PermissionPolicy.ToPolicy())
	if err != nil {
		reply(cmd, Response{Err: fmt.Errorf("theater: spawn: %w", err)})
		return
	}

	componentBytes, err := r.resolve(ctx, m.Component)
	if err != nil {
		reply(cmd, Response{Err: fmt.Errorf("theater: spawn: resolve component: %w", err)})
		return
	}

	initBytes := req.InitBytes
	if initBytes == nil && m.InitState != "" {
		initBytes, err = r.resolve(ctx, m.InitState)
		if err != nil {
			reply(cmd, Response{Err: fmt.Errorf("theater: spawn: resolve init_state: %w", err)})
			return
		}
	}

	handlers := make([]handler.Handler, 0, len(m.Handlers))
	for _, he := range m.Handlers {
		tmpl, ok := r.cfg.Handlers.Lookup(he.Type)
		if !ok {
			reply(cmd, Response{Err: fmt.Errorf("theater: spawn: unregistered handler type %q", he.Type)})
			return
		}
		handlers = append(handlers, tmpl.CreateInstance())
	}

	actorID := id.NewActorId()
	actorCtx, cancel := context.WithCancel(ctx)
	resultCh := make(chan actor.Result, 1)

	rt := actor.New(actor.Deps{
		ActorID:        actorID,
		Manifest:       m,
		ComponentBytes: componentBytes,
		InitBytes:      initBytes,
		Grants:         grants,
		Handlers:       handlers,
		Embedder:       r.cfg.Embedder,
		Blobstore:      r.cfg.Blobstore,
		Logger:         r.cfg.Logger.With(log.String("actor", actorID.String()), log.String("manifest", m.Name)),
		Metrics:        r.cfg.Metrics,
		SupervisorTx:   resultCh,
	})
	rt.Store().SetEventHook(func(ev chain.Event) { r.bus.Publish(actorID, ev) })

	rec := &actorRecord{
		id:        actorID,
		manifest:  m,
		runtime:   rt,
		cancel:    cancel,
		grants:    grants,
		parent:    req.Parent,
		hasParent: req.HasParent,
		restart:   req.RestartOnFailure || m.RestartOnFailure,
		extSuper:  req.SupervisorTx,
	}

	r.mu.Lock()
	r.actors[actorID] = rec
	r.mu.Unlock()

	if req.HasParent {
		r.supervisor.Link(req.Parent, actorID)
	}
	if req.SubscriptionTx != nil {
		r.forwardSubscription(actorID, req.SubscriptionTx)
	}

	r.cfg.Metrics.ActorsSpawned.WithLabelValues(m.Name).Inc()
	r.cfg.Metrics.ActorsLive.Inc()

	go rt.Run(actorCtx)
	go r.watch(actorID, resultCh)

	reply(cmd, Response{ActorID: actorID})
}

func (r *Runtime) resolve(ctx context.Context, raw string) ([]byte, error) {
	if r.cfg.Resolver == nil {
		return nil, fmt.Errorf("no resolver configured")
	}
	return r.cfg.Resolver.Resolve(ctx, manifest.ParseReference(raw))
}

// forwardSubscription relays ev from the runtime's own subscriber channel
// into the caller-supplied channel until the subscriber is dropped.
func (r *Runtime) forwardSubscription(actorID id.ActorId, out chan<- chain.Event) {
	_, ch := r.bus.Subscribe(actorID)
	go func() {
		for ev := range ch {
			out <- ev
		}
	}()
}

// watch waits for one actor's terminal Result and folds it back into the
// command loop as CmdActorError or CmdShuttingDown, so registry mutation and
// parent notification happen on the dispatch goroutine.
func (r *Runtime) watch(actorID id.ActorId, resultCh <-chan actor.Result) {
	result := <-resultCh

	r.mu.RLock()
	rec, ok := r.actors[actorID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if rec.extSuper != nil {
		rec.extSuper <- result
	}

	if result.Kind == actor.ResultError {
		r.Submit(Command{Kind: CmdActorError, ActorID: actorID, ChildErr: result.Err})
	}
	r.Submit(Command{Kind: CmdShuttingDown, ActorID: actorID, StopData: result.Output, ResultKind: result.Kind, ChildErr: result.Err})
}

func (r *Runtime) handleActorError(cmd Command) {
	r.mu.RLock()
	rec, ok := r.actors[cmd.ActorID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if rec.hasParent {
		r.mu.RLock()
		parent, ok := r.actors[rec.parent]
		r.mu.RUnlock()
		if ok {
			parent.runtime.Store().RecordEvent("theater:supervisor/child-error",
				[]byte(fmt.Sprintf("%s: %v", cmd.ActorID, cmd.ChildErr)), "")
		}
	}
}

func (r *Runtime) handleShuttingDown(ctx context.Context, cmd Command) {
	r.mu.Lock()
	rec, ok := r.actors[cmd.ActorID]
	if ok {
		delete(r.actors, cmd.ActorID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	rec.cancel()
	r.bus.RemoveActor(cmd.ActorID)
	r.cfg.Metrics.ActorsTerminal.WithLabelValues(terminalOutcome(cmd.ResultKind)).Inc()
	r.cfg.Metrics.ActorsLive.Dec()

	if rec.hasParent {
		r.mu.RLock()
		parent, pok := r.actors[rec.parent]
		r.mu.RUnlock()
		if pok {
			parent.runtime.Store().RecordEvent("theater:supervisor/child-stopped", cmd.StopData, "")
		}
	}
	r.maybeRestart(rec, actor.Result{Kind: cmd.ResultKind, Err: cmd.ChildErr, Output: cmd.StopData})
}

func terminalOutcome(k actor.ResultKind) string {
	switch k {
	case actor.ResultError:
		return "error"
	case actor.ResultExternalStop:
		return "stopped"
	default:
		return "success"
	}
}

func (r *Runtime) maybeRestart(rec *actorRecord, result actor.Result) {
	decision := r.supervisor.Observe(rec.id, rec.restart, result)
	if !decision.Restart {
		return
	}
	r.cfg.Metrics.RestartsTotal.Inc()
	go func() {
		if decision.Wait > 0 {
			time.Sleep(decision.Wait)
		}
		replyCh := make(chan Response, 1)
		r.Submit(Command{
			Kind: CmdSpawnActor,
			Spawn: SpawnRequest{
				Manifest:         rec.manifest,
				Parent:           rec.parent,
				HasParent:        rec.hasParent,
				RestartOnFailure: rec.restart,
				SupervisorTx:     rec.extSuper,
			},
			Reply: replyCh,
		})
		resp := <-replyCh
		if resp.Err == nil {
			r.supervisor.LinkRestart(rec.id, resp.ActorID)
		} else {
			r.cfg.Logger.Warn("theater: restart failed", log.String("actor", rec.id.String()), log.Err(resp.Err))
		}
	}()
}

func (r *Runtime) handleStop(cmd Command) {
	r.mu.RLock()
	rec, ok := r.actors[cmd.ActorID]
	r.mu.RUnlock()
	if !ok {
		reply(cmd, Response{Err: fmt.Errorf("theater: unknown actor %s", cmd.ActorID)})
		return
	}
	go func() {
		replyCh := make(chan error, 1)
		rec.runtime.ControlChan() <- actor.ControlRequest{Kind: actor.ControlShutdown, Reply: replyCh}
		err := <-replyCh
		reply(cmd, Response{Err: err})
	}()
}

// handleSendMessage enqueues off the dispatch goroutine: a full operation
// channel (e.g. a paused actor at its bound) blocks the sender, never the
// runtime's own command loop. The command's Reply fires only after the
// enqueue, so one caller's successive sends still arrive in call order.
func (r *Runtime) handleSendMessage(cmd Command) {
	r.mu.RLock()
	rec, ok := r.actors[cmd.ActorID]
	r.mu.RUnlock()
	if !ok {
		reply(cmd, Response{Err: fmt.Errorf("theater: unknown actor %s", cmd.ActorID)})
		return
	}
	go func() {
		rec.runtime.OperationChan() <- actor.Operation{Data: cmd.Message.Data, ReplyTo: cmd.Message.ReplyTo}
		reply(cmd, Response{})
	}()
}

func (r *Runtime) handleGetActors(cmd Command) {
	r.mu.RLock()
	out := make([]id.ActorId, 0, len(r.actors))
	for aid := range r.actors {
		out = append(out, aid)
	}
	r.mu.RUnlock()
	reply(cmd, Response{ActorIDs: out})
}

func (r *Runtime) handleInfo(cmd Command, kind actor.InfoKind) {
	r.mu.RLock()
	rec, ok := r.actors[cmd.ActorID]
	r.mu.RUnlock()
	if !ok {
		reply(cmd, Response{Err: fmt.Errorf("theater: unknown actor %s", cmd.ActorID)})
		return
	}
	go func() {
		replyCh := make(chan actor.InfoResponse, 1)
		rec.runtime.InfoChan() <- actor.InfoRequest{Kind: kind, Reply: replyCh}
		info := <-replyCh
		reply(cmd, Response{Info: info, Err: info.Err})
	}()
}

// --- convenience, blocking wrappers used by callers that don't want to
// build Command/Response values themselves (e.g. internal/controlplane). ---

// SpawnActor submits a CmdSpawnActor and waits for the result.
func (r *Runtime) SpawnActor(req SpawnRequest) (id.ActorId, error) {
	replyCh := make(chan Response, 1)
	r.Submit(Command{Kind: CmdSpawnActor, Spawn: req, Reply: replyCh})
	resp := <-replyCh
	return resp.ActorID, resp.Err
}

// StopActor submits a CmdStopActor and waits for the target to confirm
// shutdown.
func (r *Runtime) StopActor(actorID id.ActorId) error {
	replyCh := make(chan Response, 1)
	r.Submit(Command{Kind: CmdStopActor, ActorID: actorID, Reply: replyCh})
	return (<-replyCh).Err
}

// SendMessage delivers a one-way message to actorID's operation channel.
func (r *Runtime) SendMessage(actorID id.ActorId, data []byte) error {
	replyCh := make(chan Response, 1)
	r.Submit(Command{Kind: CmdSendMessage, ActorID: actorID, Message: MessageRequest{Data: data}, Reply: replyCh})
	return (<-replyCh).Err
}

// RequestMessage delivers data to actorID and waits for its reply.
func (r *Runtime) RequestMessage(actorID id.ActorId, data []byte) ([]byte, error) {
	out := make(chan []byte, 1)
	replyCh := make(chan Response, 1)
	r.Submit(Command{Kind: CmdSendMessage, ActorID: actorID, Message: MessageRequest{Data: data, ReplyTo: out}, Reply: replyCh})
	if resp := <-replyCh; resp.Err != nil {
		return nil, resp.Err
	}
	return <-out, nil
}

// GetActors lists every currently registered ActorId.
func (r *Runtime) GetActors() []id.ActorId {
	replyCh := make(chan Response, 1)
	r.Submit(Command{Kind: CmdGetActors, Reply: replyCh})
	return (<-replyCh).ActorIDs
}

// GetActorStatus, GetActorState, GetActorEvents and GetActorMetrics forward
// to actorID's info channel and wait for the answer.
func (r *Runtime) GetActorStatus(actorID id.ActorId) (actor.InfoResponse, error) {
	return r.info(actorID, CmdGetActorStatus)
}
func (r *Runtime) GetActorState(actorID id.ActorId) (actor.InfoResponse, error) {
	return r.info(actorID, CmdGetActorState)
}
func (r *Runtime) GetActorEvents(actorID id.ActorId) (actor.InfoResponse, error) {
	return r.info(actorID, CmdGetActorEvents)
}
func (r *Runtime) GetActorMetrics(actorID id.ActorId) (actor.InfoResponse, error) {
	return r.info(actorID, CmdGetActorMetrics)
}

func (r *Runtime) info(actorID id.ActorId, kind CommandKind) (actor.InfoResponse, error) {
	replyCh := make(chan Response, 1)
	r.Submit(Command{Kind: kind, ActorID: actorID, Reply: replyCh})
	resp := <-replyCh
	return resp.Info, resp.Err
}

// Subscribe registers a subscriber for actorID's event stream.
func (r *Runtime) Subscribe(actorID id.ActorId) (id.SubscriptionId, <-chan chain.Event) {
	return r.bus.Subscribe(actorID)
}

// Unsubscribe removes a previously registered subscriber.
func (r *Runtime) Unsubscribe(actorID id.ActorId, subID id.SubscriptionId) error {
	return r.bus.Unsubscribe(actorID, subID)
}
