// Package handler defines the contract a capability module (filesystem,
// http-client, timing, ...) implements. Concrete handler implementations are
// pluggable collaborators; this package only fixes the interface they satisfy
// and the shared-interface negotiation (the satisfied-set).
package handler

import (
	"context"

	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/log"
	"github.com/weisyn/theater/internal/permission"
)

// Linker is the subset of the embedder's component linker a handler needs to
// bind host functions the guest can call. The concrete shape of a bound
// function is embedder-specific; the core only requires that binding one
// interface name is representable and idempotent.
type Linker interface {
	// DefineFunction binds fn under (interfaceName, functionName) so the
	// guest can call it. Implementations MUST make a second bind of the same
	// (interfaceName, functionName) pair a no-op rather than an error, since
	// SetupHostFunctions is required to be idempotent.
	DefineFunction(interfaceName, functionName string, fn HostFunc) error
}

// HostFunc is a host function bound into the guest's import table. args and
// the returned bytes are opaque to the core; handlers agree on their own
// encoding with the guest.
type HostFunc func(ctx context.Context, args []byte) ([]byte, error)

// Instance is the live guest embodiment a handler can invoke exports on.
type Instance interface {
	// Call invokes a guest export by name.
	Call(ctx context.Context, export string, args []byte) ([]byte, error)
	// HasExport reports whether the guest declares export.
	HasExport(export string) bool
}

// ActorHandle is the slice of actor state a handler needs: it records
// events into the actor's chain and consults its permission checker. It
// deliberately does not expose the whole ActorStore so handlers cannot
// bypass the chain or the resource table.
type ActorHandle interface {
	RecordEvent(eventType string, data []byte, description string) chain.Event
	Permissions() *permission.Checker
	Logger() log.Logger
}

// Context is shared across every handler registered for one actor. It
// carries the satisfied-set (when two handlers both implement an interface,
// e.g. a timing handler and an I/O handler both touching wasi:io/poll, the
// first to call MarkSatisfied wins and later callers are no-ops;
// registration order therefore becomes part of a manifest's semantics, so
// handler entries should be processed in manifest order), and the actor's
// Handle. A handler's bound host functions may be invoked as
// soon as the guest's init export runs, which happens before Start's
// goroutine is guaranteed to have scheduled; SetupHostFunctions, not Start,
// is where a handler should capture Handle if its host functions need to
// record events.
type Context struct {
	satisfied map[string]bool
	Handle    ActorHandle
}

// NewContext returns a satisfied-set carrying handle for the handlers about
// to be bound into one actor.
func NewContext(handle ActorHandle) *Context {
	return &Context{satisfied: make(map[string]bool), Handle: handle}
}

// MarkSatisfied claims interfaceName for the caller. It returns true the
// first time any handler claims a given interface, and false on every
// subsequent call for the same interface; callers use the return value to
// decide whether to actually perform the binding.
func (c *Context) MarkSatisfied(interfaceName string) bool {
	if c.satisfied[interfaceName] {
		return false
	}
	c.satisfied[interfaceName] = true
	return true
}

// IsSatisfied reports whether interfaceName has already been claimed.
func (c *Context) IsSatisfied(interfaceName string) bool { return c.satisfied[interfaceName] }

// Handler is the capability module contract.
type Handler interface {
	// Name identifies the handler kind, e.g. "filesystem", "timing".
	Name() string
	// ImportedInterfaces lists the interfaces this handler implements for
	// the guest to import.
	ImportedInterfaces() []string
	// ExportedInterfaces lists interfaces this handler invokes ON the
	// guest (used to register callable exports such as "init").
	ExportedInterfaces() []string
	// SetupHostFunctions binds this handler's functions into linker. It
	// MUST consult hctx.MarkSatisfied for each interface it owns and skip
	// binding any interface another handler already claimed.
	SetupHostFunctions(hctx *Context, linker Linker) error
	// AddExportFunctions teaches instance how to call each export this
	// handler expects to invoke (e.g. "init", "handle-request").
	AddExportFunctions(hctx *Context, instance Instance) error
	// Start runs the handler's steady-state work (listener loops,
	// background tasks) until shutdown is closed, then returns promptly.
	Start(ctx context.Context, handle ActorHandle, instance Instance, shutdown <-chan struct{}) error
	// CreateInstance returns a fresh handler of the same kind, ready to be
	// wired into a new actor. Handlers are stateful per-actor, so the
	// registry holds one template per kind and clones it at spawn time.
	CreateInstance() Handler
}
