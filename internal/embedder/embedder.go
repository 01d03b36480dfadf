// Package embedder is the boundary collaborator that can instantiate a
// guest component and invoke its exports. The guest-component binary format
// and its linker are pluggable; this package fixes only the interface the
// actor runtime programs against, plus one concrete implementation backed
// by wazero.
package embedder

import (
	"context"

	"github.com/weisyn/theater/internal/handler"
)

// Embedder instantiates one guest binary into a running Instance, wiring in
// whatever host functions handlers have bound through Linker.
type Embedder interface {
	// Instantiate compiles (or reuses a cached compilation of) componentBytes
	// and instantiates it with the given linker bindings already applied.
	Instantiate(ctx context.Context, componentBytes []byte, linker handler.Linker) (handler.Instance, error)
	// NewLinker returns a fresh Linker this embedder can later Instantiate
	// against.
	NewLinker() handler.Linker
	// Close releases embedder-wide resources (compilation caches, etc).
	Close(ctx context.Context) error
}
