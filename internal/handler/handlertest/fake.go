// Package handlertest provides an in-process stand-in for a guest component
// and its handlers, so internal/actor, internal/theater, internal/replay and
// internal/messaging can be exercised without a real wazero module, the
// same role net/http/httptest plays for the http package.
package handlertest

import (
	"context"
	"sync"

	"github.com/weisyn/theater/internal/embedder"
	"github.com/weisyn/theater/internal/handler"
)

// Export is one guest export function an Instance answers. host lets
// the export invoke host functions a handler bound, simulating a guest that
// calls out to the host during init/handle.
type Export func(ctx context.Context, args []byte, host HostFuncs) ([]byte, error)

// HostFuncs looks up a host function bound under (interfaceName,
// functionName) by some handler's SetupHostFunctions.
type HostFuncs interface {
	Call(ctx context.Context, interfaceName, functionName string, args []byte) ([]byte, error)
}

// Handler is a configurable handler.Handler: it binds whatever host
// functions Host describes and answers guest exports via the embedder's
// Instance once instantiated.
type Handler struct {
	HandlerName string
	Imports     []string
	Exports     []string
	// Host maps interface -> function -> implementation, bound into the
	// linker during SetupHostFunctions.
	Host map[string]map[string]handler.HostFunc

	mu      sync.Mutex
	started bool
}

func (h *Handler) Name() string                 { return h.HandlerName }
func (h *Handler) ImportedInterfaces() []string { return h.Imports }
func (h *Handler) ExportedInterfaces() []string { return h.Exports }

func (h *Handler) SetupHostFunctions(hctx *handler.Context, linker handler.Linker) error {
	for iface, fns := range h.Host {
		if !hctx.MarkSatisfied(iface) {
			continue
		}
		for fn, impl := range fns {
			if err := linker.DefineFunction(iface, fn, impl); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) AddExportFunctions(hctx *handler.Context, instance handler.Instance) error {
	return nil
}

func (h *Handler) Start(ctx context.Context, handle handler.ActorHandle, instance handler.Instance, shutdown <-chan struct{}) error {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	<-shutdown
	return nil
}

func (h *Handler) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *Handler) CreateInstance() handler.Handler {
	return &Handler{HandlerName: h.HandlerName, Imports: h.Imports, Exports: h.Exports, Host: h.Host}
}

var _ handler.Handler = (*Handler)(nil)

// Linker records every DefineFunction call so an Instance's exports can
// invoke the bound host functions, simulating a guest importing and calling
// them.
type Linker struct {
	mu    sync.Mutex
	funcs map[string]map[string]handler.HostFunc
}

func NewLinker() *Linker {
	return &Linker{funcs: make(map[string]map[string]handler.HostFunc)}
}

func (l *Linker) DefineFunction(interfaceName, functionName string, fn handler.HostFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.funcs[interfaceName] == nil {
		l.funcs[interfaceName] = make(map[string]handler.HostFunc)
	}
	if _, exists := l.funcs[interfaceName][functionName]; exists {
		return nil // idempotent, per handler.Linker's contract
	}
	l.funcs[interfaceName][functionName] = fn
	return nil
}

func (l *Linker) Call(ctx context.Context, interfaceName, functionName string, args []byte) ([]byte, error) {
	l.mu.Lock()
	fn, ok := l.funcs[interfaceName][functionName]
	l.mu.Unlock()
	if !ok {
		return nil, errNoSuchFunc{interfaceName, functionName}
	}
	return fn(ctx, args)
}

type errNoSuchFunc struct{ iface, fn string }

func (e errNoSuchFunc) Error() string {
	return "handlertest: no such host function " + e.iface + "/" + e.fn
}

// Instance is a fake guest: its exports are Go closures supplied by the
// test, with access to whatever host functions the handlers under test
// bound via Linker.
type Instance struct {
	exports map[string]Export
	host    HostFuncs
}

func (i *Instance) Call(ctx context.Context, export string, args []byte) ([]byte, error) {
	fn, ok := i.exports[export]
	if !ok {
		return nil, errNoSuchFunc{"export", export}
	}
	return fn(ctx, args, i.host)
}

func (i *Instance) HasExport(export string) bool {
	_, ok := i.exports[export]
	return ok
}

var _ handler.Instance = (*Instance)(nil)

// Embedder is a fake embedder.Embedder: NewLinker returns a Linker that
// records host-function bindings, and Instantiate builds an Instance whose
// exports are whatever the test registered via Exports.
type Embedder struct {
	// Exports is consulted once per Instantiate call to build that actor's
	// Instance; tests may close over shared state to observe call order
	// across Init/Handle invocations of the same actor.
	Exports map[string]Export
}

func (e *Embedder) NewLinker() handler.Linker { return NewLinker() }

func (e *Embedder) Instantiate(ctx context.Context, componentBytes []byte, l handler.Linker) (handler.Instance, error) {
	fl, ok := l.(*Linker)
	if !ok {
		return nil, errNoSuchFunc{"linker", "not created by handlertest.Embedder"}
	}
	return &Instance{exports: e.Exports, host: fl}, nil
}

func (e *Embedder) Close(ctx context.Context) error { return nil }

var _ embedder.Embedder = (*Embedder)(nil)
