package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/weisyn/theater/internal/blobstore"
	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/embedder"
	"github.com/weisyn/theater/internal/handler"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/log"
	"github.com/weisyn/theater/internal/manifest"
	"github.com/weisyn/theater/internal/metrics"
	"github.com/weisyn/theater/internal/permission"
	"github.com/weisyn/theater/internal/store"
)

const defaultChannelBound = 32

// Deps are the actor's dependencies, resolved by the caller (the Theater
// Runtime) before the actor's task starts: manifest already parsed,
// effective permissions already computed, handler instances already created
// from their per-kind templates.
type Deps struct {
	ActorID        id.ActorId
	Manifest       *manifest.Manifest
	ComponentBytes []byte
	InitBytes      []byte
	Grants         permission.Set
	Handlers       []handler.Handler // manifest order; determines satisfied-set winners
	Embedder       embedder.Embedder
	Blobstore      blobstore.Store // optional; required only if Manifest.SaveChain
	Logger         log.Logger
	Metrics        *metrics.Registry // optional; defaults to a discarded registry
	SupervisorTx   chan<- Result     // optional
	ChannelBound   int               // default defaultChannelBound
}

// Runtime owns exactly one actor across its entire life.
type Runtime struct {
	deps  Deps
	store *store.ActorStore

	infoCh    chan InfoRequest
	controlCh chan ControlRequest
	opCh      chan Operation

	startedAt time.Time
	instance  handler.Instance

	shutdownRequested bool
	shutdownReply     chan<- error
}

// New constructs a Runtime ready to Run. It does not start the startup
// pipeline; call Run to do that.
func New(d Deps) *Runtime {
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	if d.ChannelBound <= 0 {
		d.ChannelBound = defaultChannelBound
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop()
	}
	return &Runtime{
		deps:      d,
		store:     store.New(d.ActorID, d.Grants, d.Logger, d.Metrics),
		infoCh:    make(chan InfoRequest, d.ChannelBound),
		controlCh: make(chan ControlRequest, d.ChannelBound),
		opCh:      make(chan Operation, d.ChannelBound),
	}
}

// Store exposes the actor's store, e.g. for the Theater Runtime's direct
// event-subscription wiring.
func (r *Runtime) Store() *store.ActorStore { return r.store }

// Submit channels, used by the Theater Runtime to route commands to this
// actor without reaching into its internals.
func (r *Runtime) InfoChan() chan<- InfoRequest       { return r.infoCh }
func (r *Runtime) ControlChan() chan<- ControlRequest { return r.controlCh }
func (r *Runtime) OperationChan() chan<- Operation    { return r.opCh }

// Run drives the actor's entire lifecycle. It returns once a terminal state
// is reached; the terminal Result has already been sent to SupervisorTx (if
// set) by the time Run returns.
func (r *Runtime) Run(ctx context.Context) {
	r.startedAt = time.Now()

	startupDone := make(chan error, 1)
	shutdownSignal := make(chan struct{})
	handlerCtx, cancelHandlers := context.WithCancel(ctx)
	defer cancelHandlers()

	go func() { startupDone <- r.runStartup(handlerCtx, shutdownSignal) }()

	var result Result
	state := Starting

	for {
		var opCh chan Operation
		if state == Running {
			opCh = r.opCh // omitted from the select while Paused: the channel
			// itself buffers anything sent meanwhile, up to its bound, so
			// operations are neither lost nor served until Resume.
		}

		select {
		case req := <-r.infoCh:
			r.answerInfo(req, state)

		case req := <-r.controlCh:
			switch req.Kind {
			case ControlShutdown:
				if state == Starting {
					r.shutdownRequested = true
					r.shutdownReply = req.Reply
					continue
				}
				close(shutdownSignal)
				cancelHandlers()
				state = ExternallyStopped
				result = Result{Kind: ResultExternalStop, Reason: "shutdown requested"}
				req.Reply <- nil
				r.finish(ctx, state, result)
				return

			case ControlPause:
				if state != Running {
					req.Reply <- fmt.Errorf("actor: cannot pause from state %s", state)
					continue
				}
				state = Paused
				req.Reply <- nil

			case ControlResume:
				if state != Paused {
					req.Reply <- fmt.Errorf("actor: cannot resume from state %s", state)
					continue
				}
				state = Running
				req.Reply <- nil
			}

		case err := <-startupDone:
			if r.shutdownRequested {
				close(shutdownSignal)
				cancelHandlers()
				if err != nil {
					state = Failed
					result = Result{Kind: ResultError, Err: err}
				} else {
					state = ExternallyStopped
					result = Result{Kind: ResultExternalStop, Reason: "shutdown requested during startup"}
				}
				if r.shutdownReply != nil {
					r.shutdownReply <- err
				}
				r.finish(ctx, state, result)
				return
			}
			if err != nil {
				state = Failed
				result = Result{Kind: ResultError, Err: err}
				r.finish(ctx, state, result)
				return
			}
			state = Running

		case op, ok := <-opCh:
			if !ok {
				continue
			}
			r.handleOperation(ctx, op)

		case <-ctx.Done():
			close(shutdownSignal)
			cancelHandlers()
			state = ExternallyStopped
			result = Result{Kind: ResultExternalStop, Reason: "context cancelled"}
			r.finish(ctx, state, result)
			return
		}
	}
}

// answerInfo services a pure query at any point in the lifecycle. During
// Starting, state/chain queries return a well-defined not-ready error;
// status queries always succeed.
func (r *Runtime) answerInfo(req InfoRequest, state State) {
	resp := InfoResponse{Status: state, StateInfo: state.String()}
	notReady := fmt.Errorf("actor: not ready: state is %s", state)

	switch req.Kind {
	case InfoGetStatus:
		// always answerable

	case InfoGetState, InfoGetChain:
		if state == Starting {
			resp.Err = notReady
			break
		}
		if req.Kind == InfoGetChain {
			resp.Chain = r.store.Chain().Snapshot()
		}

	case InfoGetMetrics:
		resp.Metrics = Metrics{
			State:        state,
			EventCount:   r.store.Chain().Len(),
			UptimeMillis: uint64(time.Since(r.startedAt).Milliseconds()),
		}
		if recent := r.store.Chain().Recent(1); len(recent) == 1 {
			resp.Metrics.LastEventUnix = recent[0].Timestamp
		}

	case InfoSaveChain:
		ref, err := r.saveChain(context.Background())
		if err != nil {
			resp.Err = err
		} else {
			resp.SavedRef = ref.String()
		}
	}

	req.Reply <- resp
}

func (r *Runtime) handleOperation(ctx context.Context, op Operation) {
	if r.instance == nil || !r.instance.HasExport("handle") {
		if op.ReplyTo != nil {
			op.ReplyTo <- nil
		}
		return
	}
	ev := chain.HostFunctionCall{Interface: "theater:actor", Function: "handle", Input: op.Data}
	r.store.RecordEvent("theater:actor/handle", encodeCall(ev), "")

	out, err := r.instance.Call(ctx, "handle", op.Data)
	if err != nil {
		r.store.RecordEvent("theater:actor/handle-error", []byte(err.Error()), "")
		if op.ReplyTo != nil {
			op.ReplyTo <- nil
		}
		return
	}
	ev.Output = out
	r.store.RecordEvent("theater:actor/handle-return", encodeCall(ev), "")
	if op.ReplyTo != nil {
		op.ReplyTo <- out
	}
}

// runStartup performs manifest-driven component instantiation: it binds
// every handler's host functions into a fresh linker, instantiates the
// guest, wires handler exports, starts each handler's steady-state task,
// and invokes the guest's init export. Info/Control are already being
// served by Run's select loop while this runs in its own goroutine.
func (r *Runtime) runStartup(ctx context.Context, shutdownSignal <-chan struct{}) error {
	hctx := handler.NewContext(r.store)
	linker := r.deps.Embedder.NewLinker()

	for _, h := range r.deps.Handlers {
		if err := h.SetupHostFunctions(hctx, linker); err != nil {
			return fmt.Errorf("startup: %s: setup host functions: %w", h.Name(), err)
		}
	}

	instance, err := r.deps.Embedder.Instantiate(ctx, r.deps.ComponentBytes, linker)
	if err != nil {
		return fmt.Errorf("startup: instantiate component: %w", err)
	}
	r.instance = instance

	for _, h := range r.deps.Handlers {
		if err := h.AddExportFunctions(hctx, instance); err != nil {
			return fmt.Errorf("startup: %s: add export functions: %w", h.Name(), err)
		}
	}

	for _, h := range r.deps.Handlers {
		h := h
		go func() {
			if err := h.Start(ctx, r.store, instance, shutdownSignal); err != nil {
				r.deps.Logger.Warn("handler exited with error", log.String("handler", h.Name()), log.Err(err))
			}
		}()
	}

	if instance.HasExport("init") {
		call := chain.HostFunctionCall{Interface: "theater:actor", Function: "init", Input: r.deps.InitBytes}
		r.store.RecordEvent("theater:actor/init", encodeCall(call), "")
		out, err := instance.Call(ctx, "init", r.deps.InitBytes)
		if err != nil {
			return fmt.Errorf("startup: guest init: %w", err)
		}
		call.Output = out
		r.store.RecordEvent("theater:actor/init-return", encodeCall(call), "")
	}
	return nil
}

func (r *Runtime) finish(ctx context.Context, state State, result Result) {
	if r.deps.Manifest.SaveChain {
		if _, err := r.saveChain(ctx); err != nil {
			r.store.RecordEvent("theater:actor/save-chain-failed", []byte(err.Error()), "")
		}
	}
	if r.deps.SupervisorTx != nil {
		r.deps.SupervisorTx <- result
	}
}

func (r *Runtime) saveChain(ctx context.Context) (id.ContentRef, error) {
	if r.deps.Blobstore == nil {
		return id.ContentRef{}, fmt.Errorf("actor: no blobstore configured")
	}
	data := chain.EncodeSequence(r.store.Chain().Snapshot())
	return r.deps.Blobstore.Put(ctx, data)
}

func encodeCall(c chain.HostFunctionCall) []byte {
	return chain.EncodeHostFunctionCall(c)
}
