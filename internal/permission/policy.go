package permission

import (
	"errors"
	"fmt"
	"time"
)

// ErrRequestExceedsParent is returned when a Restrict policy names an
// element (a path prefix, a host, a method, ...) that is not present in the
// parent's grant: a manifest is never allowed to request capability beyond
// what its parent holds.
var ErrRequestExceedsParent = errors.New("permission: requested capability exceeds parent grant")

// Kind selects how one handler kind's effective grant is derived.
type Kind int

const (
	// KindInherit takes the parent's grant verbatim.
	KindInherit Kind = iota
	// KindNone grants nothing for this handler kind.
	KindNone
	// KindRestrict intersects the parent's grant with a requested subset.
	KindRestrict
)

// Policy is attached to a manifest and describes, per handler kind, how the
// child's grant is derived from its parent's.
type Policy struct {
	Filesystem  Directive
	HTTPClient  Directive
	Environment Directive
	Process     Directive
	Random      Directive
	Timing      Directive
	Runtime     Directive
}

// Directive is one handler kind's policy: a Kind plus, for KindRestrict, the
// requested subset encoded in the same shape as the grant itself.
type Directive struct {
	Kind      Kind
	Requested *Set // only the field matching this directive's handler kind is read
}

// Effective computes a child's permission Set from its parent's Set and a
// Policy:
//   - Inherit: child = parent's grant verbatim.
//   - None: child = nil (fully denied).
//   - Restrict(R): child = intersection of parent and R; a parent grant of
//     nil (handler kind fully denied) yields nil regardless of policy, so a
//     child can never widen an absent parent grant.
//
// Returns ErrRequestExceedsParent if a Restrict directive names an allow-list
// element the parent does not grant; such a spawn must be rejected.
func Effective(parent Set, policy Policy) (Set, error) {
	out := Set{}

	fs, err := effectiveFilesystem(parent.Filesystem, policy.Filesystem)
	if err != nil {
		return Set{}, fmt.Errorf("permission: filesystem: %w", err)
	}
	out.Filesystem = fs

	http, err := effectiveHTTPClient(parent.HTTPClient, policy.HTTPClient)
	if err != nil {
		return Set{}, fmt.Errorf("permission: http-client: %w", err)
	}
	out.HTTPClient = http

	env, err := effectiveEnvironment(parent.Environment, policy.Environment)
	if err != nil {
		return Set{}, fmt.Errorf("permission: environment: %w", err)
	}
	out.Environment = env

	proc, err := effectiveProcess(parent.Process, policy.Process)
	if err != nil {
		return Set{}, fmt.Errorf("permission: process: %w", err)
	}
	out.Process = proc

	out.Random = effectiveSimple(parent.Random, policy.Random, func(r *Random) *Random {
		if r == nil {
			return nil
		}
		v := *r
		return &v
	})
	out.Timing = effectiveSimple(parent.Timing, policy.Timing, func(t *Timing) *Timing {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	})
	out.Runtime = effectiveSimple(parent.Runtime, policy.Runtime, func(r *Runtime) *Runtime {
		if r == nil {
			return nil
		}
		v := *r
		return &v
	})

	return out, nil
}

// effectiveSimple handles handler kinds with no allow-list to intersect
// (Random, Timing, Runtime): Restrict behaves like Inherit for these kinds
// unless the parent grant is absent, since there is no list to narrow.
func effectiveSimple[T any](parent *T, d Directive, clone func(*T) *T) *T {
	if parent == nil {
		return nil
	}
	switch d.Kind {
	case KindNone:
		return nil
	default:
		return clone(parent)
	}
}

func effectiveFilesystem(parent *Filesystem, d Directive) (*Filesystem, error) {
	if parent == nil {
		return nil, nil
	}
	if d.Kind == KindNone {
		return nil, nil
	}
	if d.Kind == KindInherit || d.Requested == nil || d.Requested.Filesystem == nil {
		v := *parent
		v.PathPrefixes = append(parent.PathPrefixes[:0:0], parent.PathPrefixes...)
		v.AllowedCommands = append(parent.AllowedCommands[:0:0], parent.AllowedCommands...)
		return &v, nil
	}
	req := d.Requested.Filesystem
	if err := requireSubset(parent.PathPrefixes, req.PathPrefixes); err != nil {
		return nil, err
	}
	if err := requireSubset(parent.AllowedCommands, req.AllowedCommands); err != nil {
		return nil, err
	}
	return &Filesystem{
		Read:             parent.Read && req.Read,
		Write:            parent.Write && req.Write,
		Execute:          parent.Execute && req.Execute,
		PathPrefixes:     intersect(parent.PathPrefixes, req.PathPrefixes),
		AllowedCommands:  intersect(parent.AllowedCommands, req.AllowedCommands),
		CreateWorkingDir: parent.CreateWorkingDir && req.CreateWorkingDir,
	}, nil
}

func effectiveHTTPClient(parent *HTTPClient, d Directive) (*HTTPClient, error) {
	if parent == nil {
		return nil, nil
	}
	if d.Kind == KindNone {
		return nil, nil
	}
	if d.Kind == KindInherit || d.Requested == nil || d.Requested.HTTPClient == nil {
		v := *parent
		v.Methods = append(parent.Methods[:0:0], parent.Methods...)
		v.Hosts = append(parent.Hosts[:0:0], parent.Hosts...)
		return &v, nil
	}
	req := d.Requested.HTTPClient
	if err := requireSubset(parent.Methods, req.Methods); err != nil {
		return nil, err
	}
	if err := requireSubset(parent.Hosts, req.Hosts); err != nil {
		return nil, err
	}
	out := &HTTPClient{
		Methods: intersect(parent.Methods, req.Methods),
		Hosts:   intersect(parent.Hosts, req.Hosts),
	}
	out.MaxRedirects = tighterInt(parent.MaxRedirects, req.MaxRedirects)
	out.Timeout = tighterDuration(parent.Timeout, req.Timeout)
	return out, nil
}

func effectiveEnvironment(parent *Environment, d Directive) (*Environment, error) {
	if parent == nil {
		return nil, nil
	}
	if d.Kind == KindNone {
		return nil, nil
	}
	if d.Kind == KindInherit || d.Requested == nil || d.Requested.Environment == nil {
		v := *parent
		v.Allow = append(parent.Allow[:0:0], parent.Allow...)
		v.Deny = append(parent.Deny[:0:0], parent.Deny...)
		v.Prefixes = append(parent.Prefixes[:0:0], parent.Prefixes...)
		return &v, nil
	}
	req := d.Requested.Environment
	if err := requireSubset(parent.Allow, req.Allow); err != nil {
		return nil, err
	}
	if err := requireSubset(parent.Prefixes, req.Prefixes); err != nil {
		return nil, err
	}
	return &Environment{
		Allow:    intersect(parent.Allow, req.Allow),
		Deny:     append(append(StringSet(nil), parent.Deny...), req.Deny...),
		Prefixes: intersect(parent.Prefixes, req.Prefixes),
		AllowAll: parent.AllowAll && req.AllowAll,
	}, nil
}

func effectiveProcess(parent *Process, d Directive) (*Process, error) {
	if parent == nil {
		return nil, nil
	}
	if d.Kind == KindNone {
		return nil, nil
	}
	if d.Kind == KindInherit || d.Requested == nil || d.Requested.Process == nil {
		v := *parent
		v.AllowedPrograms = append(parent.AllowedPrograms[:0:0], parent.AllowedPrograms...)
		v.AllowedWorkdirPrefixes = append(parent.AllowedWorkdirPrefixes[:0:0], parent.AllowedWorkdirPrefixes...)
		return &v, nil
	}
	req := d.Requested.Process
	if err := requireSubset(parent.AllowedPrograms, req.AllowedPrograms); err != nil {
		return nil, err
	}
	if err := requireSubset(parent.AllowedWorkdirPrefixes, req.AllowedWorkdirPrefixes); err != nil {
		return nil, err
	}
	return &Process{
		AllowedPrograms:        intersect(parent.AllowedPrograms, req.AllowedPrograms),
		MaxConcurrent:          minInt(parent.MaxConcurrent, req.MaxConcurrent),
		MaxOutputBufferBytes:   minInt(parent.MaxOutputBufferBytes, req.MaxOutputBufferBytes),
		AllowedWorkdirPrefixes: intersect(parent.AllowedWorkdirPrefixes, req.AllowedWorkdirPrefixes),
	}, nil
}

// requireSubset rejects a request for list elements the parent does not
// grant, when the parent has expressed a closed list. A nil parent list is
// open and imposes no constraint.
func requireSubset(parent, requested StringSet) error {
	if parent == nil || requested == nil {
		return nil
	}
	for _, v := range requested {
		if !parent.contains(v) {
			return fmt.Errorf("%w: %q", ErrRequestExceedsParent, v)
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func tighterInt(a, b *int) *int {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a < *b {
		return a
	}
	return b
}

func tighterDuration(a, b *time.Duration) *time.Duration {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a < *b {
		return a
	}
	return b
}
