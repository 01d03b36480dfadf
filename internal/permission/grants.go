// Package permission implements the capability grant model: one optional
// grant struct per handler kind, an inheritance policy that derives a child's
// effective grants from its parent's, and a single checker that every handler
// operation must consult before touching the outside world.
package permission

import "time"

// StringSet is an allow-list of strings. A nil StringSet means "open" (no
// restriction expressed); a non-nil, possibly empty StringSet is a closed
// list. An empty allow-list denies everything of that kind, it never falls
// back to "empty means all".
type StringSet []string

func (s StringSet) contains(v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// intersect returns the elements common to two non-nil sets, preserving the
// order of the parent set. A nil*nil intersection is nil (open stays open);
// a nil*non-nil intersection takes the non-nil side verbatim: when the parent
// is open, the child's restriction is authoritative.
func intersect(parent, child StringSet) StringSet {
	if parent == nil && child == nil {
		return nil
	}
	if parent == nil {
		return append(child[:0:0], child...)
	}
	if child == nil {
		return append(parent[:0:0], parent...)
	}
	out := StringSet{}
	for _, v := range parent {
		if child.contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// Filesystem is the grant for the filesystem handler kind.
type Filesystem struct {
	Read             bool
	Write            bool
	Execute          bool
	PathPrefixes     StringSet // nil = any path; non-nil closed list
	AllowedCommands  StringSet
	CreateWorkingDir bool
}

// HTTPClient is the grant for the http-client handler kind.
type HTTPClient struct {
	Methods      StringSet
	Hosts        StringSet
	MaxRedirects *int
	Timeout      *time.Duration
}

// Environment is the grant for the environment handler kind.
type Environment struct {
	Allow    StringSet
	Deny     StringSet
	Prefixes StringSet
	AllowAll bool
}

// Process is the grant for the process handler kind.
type Process struct {
	AllowedPrograms        StringSet
	MaxConcurrent          int
	MaxOutputBufferBytes   int
	AllowedWorkdirPrefixes StringSet
}

// Random is the grant for the random handler kind.
type Random struct {
	MaxBytesPerCall int
	MaxIntBound     uint64
	AllowSecure     bool
}

// Timing is the grant for the timing handler kind.
type Timing struct {
	MaxSleep time.Duration
}

// Runtime is always trivially granted: logging and shutdown requests never
// need a permission decision, but the type exists so the Set shape is
// uniform across handler kinds.
type Runtime struct{}

// Set is the full permission state for one actor: one optional grant per
// handler kind. A nil pointer means the kind is fully denied.
type Set struct {
	Filesystem  *Filesystem
	HTTPClient  *HTTPClient
	Environment *Environment
	Process     *Process
	Random      *Random
	Timing      *Timing
	Runtime     *Runtime
}

// FullGrant returns a Set granting every handler kind with no allow-list
// restriction, used as the root of a permission tree: a manifest spawned with
// no parent derives its grants from this Set, with the runtime itself acting
// as the ultimate grantor.
func FullGrant() Set {
	return Set{
		Filesystem:  &Filesystem{Read: true, Write: true, Execute: true, CreateWorkingDir: true},
		HTTPClient:  &HTTPClient{},
		Environment: &Environment{AllowAll: true},
		Process:     &Process{},
		Random:      &Random{AllowSecure: true},
		Timing:      &Timing{},
		Runtime:     &Runtime{},
	}
}

// clone deep-copies a Set so mutating a child's effective grants never
// aliases the parent's.
func (s Set) clone() Set {
	out := Set{}
	if s.Filesystem != nil {
		v := *s.Filesystem
		v.PathPrefixes = append(v.PathPrefixes[:0:0], v.PathPrefixes...)
		v.AllowedCommands = append(v.AllowedCommands[:0:0], v.AllowedCommands...)
		out.Filesystem = &v
	}
	if s.HTTPClient != nil {
		v := *s.HTTPClient
		v.Methods = append(v.Methods[:0:0], v.Methods...)
		v.Hosts = append(v.Hosts[:0:0], v.Hosts...)
		out.HTTPClient = &v
	}
	if s.Environment != nil {
		v := *s.Environment
		v.Allow = append(v.Allow[:0:0], v.Allow...)
		v.Deny = append(v.Deny[:0:0], v.Deny...)
		v.Prefixes = append(v.Prefixes[:0:0], v.Prefixes...)
		out.Environment = &v
	}
	if s.Process != nil {
		v := *s.Process
		v.AllowedPrograms = append(v.AllowedPrograms[:0:0], v.AllowedPrograms...)
		v.AllowedWorkdirPrefixes = append(v.AllowedWorkdirPrefixes[:0:0], v.AllowedWorkdirPrefixes...)
		out.Process = &v
	}
	if s.Random != nil {
		v := *s.Random
		out.Random = &v
	}
	if s.Timing != nil {
		v := *s.Timing
		out.Timing = &v
	}
	if s.Runtime != nil {
		v := *s.Runtime
		out.Runtime = &v
	}
	return out
}
