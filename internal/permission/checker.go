package permission

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDenied is wrapped by every rejection the Checker produces.
var ErrDenied = errors.New("permission: denied")

// Checker exposes one predicate per handler kind. Handlers must call the
// matching predicate with the full operation parameters before doing any
// I/O; a non-nil error means the operation must not proceed and the handler
// must surface that error to the guest.
type Checker struct {
	grants Set
}

// NewChecker wraps an actor's effective permission Set.
func NewChecker(grants Set) *Checker { return &Checker{grants: grants} }

func deniedf(kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrDenied, kind, fmt.Sprintf(format, args...))
}

// CheckFilesystem validates a filesystem operation (read/write/execute) on
// path against the grant.
func (c *Checker) CheckFilesystem(path string, read, write, execute bool) error {
	g := c.grants.Filesystem
	if g == nil {
		return deniedf("filesystem", "no grant")
	}
	if read && !g.Read {
		return deniedf("filesystem", "read not granted")
	}
	if write && !g.Write {
		return deniedf("filesystem", "write not granted")
	}
	if execute && !g.Execute {
		return deniedf("filesystem", "execute not granted")
	}
	if g.PathPrefixes != nil && !hasPrefixAny(path, g.PathPrefixes) {
		return deniedf("filesystem", "path %q not in allowed prefixes", path)
	}
	return nil
}

// CheckFilesystemCommand validates a shell/process command name requested
// through the filesystem handler's execute capability.
func (c *Checker) CheckFilesystemCommand(command string) error {
	g := c.grants.Filesystem
	if g == nil || !g.Execute {
		return deniedf("filesystem", "execute not granted")
	}
	if g.AllowedCommands != nil && !g.AllowedCommands.contains(command) {
		return deniedf("filesystem", "command %q not allowed", command)
	}
	return nil
}

// CheckHTTPClient validates an outbound HTTP request.
func (c *Checker) CheckHTTPClient(method, host string) error {
	g := c.grants.HTTPClient
	if g == nil {
		return deniedf("http-client", "no grant")
	}
	if g.Methods != nil && !g.Methods.contains(method) {
		return deniedf("http-client", "method %q not allowed", method)
	}
	if g.Hosts != nil && !g.Hosts.contains(host) {
		return deniedf("http-client", "host %q not allowed", host)
	}
	return nil
}

// CheckEnvironmentGet validates reading one environment variable.
func (c *Checker) CheckEnvironmentGet(name string) error {
	g := c.grants.Environment
	if g == nil {
		return deniedf("environment", "no grant")
	}
	if g.Deny != nil && g.Deny.contains(name) {
		return deniedf("environment", "variable %q denied", name)
	}
	if g.Allow != nil && g.Allow.contains(name) {
		return nil
	}
	if g.Prefixes != nil && hasPrefixAny(name, g.Prefixes) {
		return nil
	}
	if g.Allow == nil && g.Prefixes == nil {
		return nil
	}
	return deniedf("environment", "variable %q not allowed", name)
}

// CheckEnvironmentList validates a request to list all environment
// variables.
func (c *Checker) CheckEnvironmentList() error {
	g := c.grants.Environment
	if g == nil || !g.AllowAll {
		return deniedf("environment", "list-all not granted")
	}
	return nil
}

// CheckProcess validates spawning a subprocess.
func (c *Checker) CheckProcess(program, workdir string, currentConcurrent int) error {
	g := c.grants.Process
	if g == nil {
		return deniedf("process", "no grant")
	}
	if g.AllowedPrograms != nil && !g.AllowedPrograms.contains(program) {
		return deniedf("process", "program %q not allowed", program)
	}
	if g.MaxConcurrent > 0 && currentConcurrent >= g.MaxConcurrent {
		return deniedf("process", "max concurrent processes reached")
	}
	if g.AllowedWorkdirPrefixes != nil && workdir != "" && !hasPrefixAny(workdir, g.AllowedWorkdirPrefixes) {
		return deniedf("process", "workdir %q not allowed", workdir)
	}
	return nil
}

// CheckRandom validates a request for random bytes or a bounded integer.
func (c *Checker) CheckRandom(bytesRequested int, intBound uint64, secure bool) error {
	g := c.grants.Random
	if g == nil {
		return deniedf("random", "no grant")
	}
	if bytesRequested > 0 && g.MaxBytesPerCall > 0 && bytesRequested > g.MaxBytesPerCall {
		return deniedf("random", "requested %d bytes exceeds limit %d", bytesRequested, g.MaxBytesPerCall)
	}
	if intBound > 0 && g.MaxIntBound > 0 && intBound > g.MaxIntBound {
		return deniedf("random", "requested bound %d exceeds limit %d", intBound, g.MaxIntBound)
	}
	if secure && !g.AllowSecure {
		return deniedf("random", "secure source not granted")
	}
	return nil
}

// CheckTiming validates a requested sleep duration.
func (c *Checker) CheckTiming(d time.Duration) error {
	g := c.grants.Timing
	if g == nil {
		return deniedf("timing", "no grant")
	}
	if g.MaxSleep > 0 && d > g.MaxSleep {
		return deniedf("timing", "sleep %s exceeds limit %s", d, g.MaxSleep)
	}
	return nil
}

// CheckRuntime is always satisfied when the runtime kind has any grant at
// all (logging and shutdown requests are never meaningfully restricted).
func (c *Checker) CheckRuntime() error {
	if c.grants.Runtime == nil {
		return deniedf("runtime", "no grant")
	}
	return nil
}

func hasPrefixAny(v string, prefixes StringSet) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}

// DeniedEventType derives the dotted event-type used when recording a
// permission-denied event for an operation on the given interface.
func DeniedEventType(interfaceName string) string {
	return interfaceName + "/permission-denied"
}
