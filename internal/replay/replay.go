// Package replay re-runs a recorded actor deterministically by substituting
// every real handler with one that intercepts host-function calls and
// answers them from the recording instead of performing the real side
// effect, then compares the freshly produced chain against the recording
// hash-for-hash.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weisyn/theater/internal/actor"
	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/embedder"
	"github.com/weisyn/theater/internal/handler"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/log"
	"github.com/weisyn/theater/internal/manifest"
	"github.com/weisyn/theater/internal/metrics"
	"github.com/weisyn/theater/internal/permission"
)

const defaultTimeBudget = 30 * time.Second

// Result is the structured outcome of a replay comparison. Passed holds iff
// the chains have the same length and no hash mismatched.
type Result struct {
	Passed        bool
	MismatchCount int
	SameLength    bool
	FirstMismatch int // -1 when the chains match; the shorter length when one is a strict prefix of the other
}

// Compare walks recorded and fresh in lockstep and counts hash mismatches.
// It never recomputes hashes itself (that is chain.VerifySequence's job);
// this only compares two already-computed sequences against each other.
func Compare(recorded, fresh []chain.Event) Result {
	sameLength := len(recorded) == len(fresh)
	n := len(recorded)
	if len(fresh) < n {
		n = len(fresh)
	}
	mismatches := 0
	first := -1
	for i := 0; i < n; i++ {
		if !bytes.Equal(recorded[i].Hash, fresh[i].Hash) {
			mismatches++
			if first == -1 {
				first = i
			}
		}
	}
	if !sameLength {
		diff := len(recorded) - len(fresh)
		if diff < 0 {
			diff = -diff
		}
		mismatches += diff
		if first == -1 {
			first = n
		}
	}
	return Result{Passed: sameLength && mismatches == 0, MismatchCount: mismatches, SameLength: sameLength, FirstMismatch: first}
}

// Engine re-runs recorded actors against a substitute handler set.
type Engine struct {
	Handlers *handler.Registry
	Embedder embedder.Embedder
	Logger   log.Logger
	Metrics  *metrics.Registry
}

// Run replays one actor: componentBytes/initBytes/grants mirror the original
// spawn, recorded is the chain to replay against, and timeBudget bounds how
// long the replay actor is given to reach a terminal state; 0 selects
// defaultTimeBudget.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest, componentBytes, initBytes []byte, grants permission.Set, recorded []chain.Event, timeBudget time.Duration) (Result, error) {
	if e.Logger == nil {
		e.Logger = log.Nop()
	}
	if e.Metrics == nil {
		e.Metrics = metrics.Nop()
	}
	if timeBudget <= 0 {
		timeBudget = defaultTimeBudget
	}

	originals := make([]handler.Handler, 0, len(m.Handlers))
	for _, he := range m.Handlers {
		tmpl, ok := e.Handlers.Lookup(he.Type)
		if !ok {
			return Result{}, fmt.Errorf("replay: unregistered handler type %q", he.Type)
		}
		originals = append(originals, tmpl)
	}
	sub := newSubstitute(originals, recorded)

	resultCh := make(chan actor.Result, 1)
	rt := actor.New(actor.Deps{
		ActorID:        id.NewActorId(),
		Manifest:       m,
		ComponentBytes: componentBytes,
		InitBytes:      initBytes,
		Grants:         grants,
		Handlers:       []handler.Handler{sub},
		Embedder:       e.Embedder,
		Logger:         e.Logger,
		Metrics:        e.Metrics,
		SupervisorTx:   resultCh,
	})

	actorCtx, cancel := context.WithTimeout(ctx, timeBudget)
	defer cancel()

	go rt.Run(actorCtx)
	go replayOperations(actorCtx, rt, recorded)

	select {
	case <-resultCh:
	case <-actorCtx.Done():
	}

	fresh := rt.Store().Chain().Snapshot()
	result := Compare(recorded, fresh)
	outcome := "fail"
	if result.Passed {
		outcome = "pass"
	}
	e.Metrics.ReplayRuns.WithLabelValues(outcome).Inc()
	return result, nil
}

// replayOperations resends every recorded "theater:actor/handle" call to the
// replay actor's operation channel, in recorded order, once the actor is
// past Starting. Operations originate outside the actor, so they are not
// reproducible from host-call interception alone and must be re-driven from
// the recording.
func replayOperations(ctx context.Context, rt *actor.Runtime, recorded []chain.Event) {
	if !waitRunning(ctx, rt) {
		return
	}
	for _, ev := range recorded {
		if ev.EventType != "theater:actor/handle" {
			continue
		}
		call, err := chain.DecodeHostFunctionCall(ev.Data)
		if err != nil {
			continue
		}
		select {
		case rt.OperationChan() <- actor.Operation{Data: call.Input}:
		case <-ctx.Done():
			return
		}
	}
}

func waitRunning(ctx context.Context, rt *actor.Runtime) bool {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			reply := make(chan actor.InfoResponse, 1)
			select {
			case rt.InfoChan() <- actor.InfoRequest{Kind: actor.InfoGetStatus, Reply: reply}:
			case <-ctx.Done():
				return false
			}
			resp := <-reply
			if resp.Status == actor.Running {
				return true
			}
			if resp.Status.IsTerminal() {
				return false
			}
		}
	}
}

// pair identifies one host function a substitute handler intercepts.
type pair struct {
	Interface string
	Function  string
}

func (p pair) eventType() string { return p.Interface + "/" + p.Function }

// cursor tracks the replay position into a recorded chain: each intercepted
// call consumes the next recorded event whose event type matches its
// interface/function.
type cursor struct {
	mu       sync.Mutex
	idx      int
	recorded []chain.Event
}

func (c *cursor) next(eventType string) (chain.HostFunctionCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.idx < len(c.recorded) {
		ev := c.recorded[c.idx]
		c.idx++
		if ev.EventType != eventType {
			continue
		}
		call, err := chain.DecodeHostFunctionCall(ev.Data)
		if err != nil {
			continue
		}
		return call, true
	}
	return chain.HostFunctionCall{}, false
}

// substitute is the single handler.Handler that stands in for every real
// handler a manifest names during replay. It declares the union of their
// imported/exported interfaces (so the guest's import table resolves
// identically) but answers every call from the recording instead of
// performing the real operation.
type substitute struct {
	imports []string
	exports []string
	pairs   map[string][]pair // interface -> functions recorded against it
	cursor  *cursor

	handle handler.ActorHandle
}

func newSubstitute(originals []handler.Handler, recorded []chain.Event) *substitute {
	importSet := map[string]struct{}{}
	exportSet := map[string]struct{}{}
	for _, h := range originals {
		for _, i := range h.ImportedInterfaces() {
			importSet[i] = struct{}{}
		}
		for _, x := range h.ExportedInterfaces() {
			exportSet[x] = struct{}{}
		}
	}

	byInterface := map[string][]pair{}
	for _, ev := range recorded {
		iface, fn, ok := splitEventType(ev.EventType)
		if !ok {
			continue
		}
		if _, known := importSet[iface]; !known {
			continue
		}
		p := pair{Interface: iface, Function: fn}
		if !containsPair(byInterface[iface], p) {
			byInterface[iface] = append(byInterface[iface], p)
		}
	}

	return &substitute{
		imports: setKeys(importSet),
		exports: setKeys(exportSet),
		pairs:   byInterface,
		cursor:  &cursor{recorded: recorded},
	}
}

func splitEventType(eventType string) (iface, fn string, ok bool) {
	idx := lastSlash(eventType)
	if idx < 0 {
		return "", "", false
	}
	return eventType[:idx], eventType[idx+1:], true
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func containsPair(ps []pair, p pair) bool {
	for _, x := range ps {
		if x == p {
			return true
		}
	}
	return false
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (s *substitute) Name() string                { return "replay" }
func (s *substitute) ImportedInterfaces() []string { return s.imports }
func (s *substitute) ExportedInterfaces() []string { return s.exports }

func (s *substitute) CreateInstance() handler.Handler {
	return &substitute{imports: s.imports, exports: s.exports, pairs: s.pairs, cursor: s.cursor}
}

func (s *substitute) SetupHostFunctions(hctx *handler.Context, linker handler.Linker) error {
	s.handle = hctx.Handle
	for iface, fns := range s.pairs {
		if !hctx.MarkSatisfied(iface) {
			continue
		}
		for _, p := range fns {
			if err := linker.DefineFunction(p.Interface, p.Function, s.makeHostFunc(p)); err != nil {
				return fmt.Errorf("replay: bind %s/%s: %w", p.Interface, p.Function, err)
			}
		}
	}
	return nil
}

func (s *substitute) AddExportFunctions(hctx *handler.Context, instance handler.Instance) error {
	return nil
}

func (s *substitute) Start(ctx context.Context, handle handler.ActorHandle, instance handler.Instance, shutdown <-chan struct{}) error {
	s.handle = handle
	<-shutdown
	return nil
}

func (s *substitute) makeHostFunc(p pair) handler.HostFunc {
	eventType := p.eventType()
	return func(ctx context.Context, args []byte) ([]byte, error) {
		call, ok := s.cursor.next(eventType)
		if !ok {
			return nil, fmt.Errorf("replay: no recorded event for %s", eventType)
		}
		s.handle.RecordEvent(eventType, chain.EncodeHostFunctionCall(chain.HostFunctionCall{
			Interface: p.Interface,
			Function:  p.Function,
			Input:     args,
			Output:    call.Output,
		}), "")
		return call.Output, nil
	}
}

var _ handler.Handler = (*substitute)(nil)
