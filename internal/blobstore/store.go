// Package blobstore is the content-addressed blob store: saved event chains
// are canonically serialized and written here as a single blob, keyed by the
// digest of their own contents. The storage engine is a pluggable boundary;
// BadgerStore is one concrete implementation, not a mandated design.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/weisyn/theater/internal/id"
)

// ErrNotFound is returned when a ContentRef names no blob in the store.
var ErrNotFound = errors.New("blobstore: not found")

// Store puts and retrieves opaque blobs by content address. Put is
// idempotent: writing the same bytes twice yields the same ContentRef and
// does not error.
type Store interface {
	Put(ctx context.Context, data []byte) (id.ContentRef, error)
	Get(ctx context.Context, ref id.ContentRef) ([]byte, error)
	Close() error
}

// DigestRef computes the ContentRef that Put would assign to data, without
// writing it. Every Store implementation in this package must key blobs by
// this exact digest so a ContentRef is portable across Store instances.
func DigestRef(data []byte) id.ContentRef {
	sum := sha256.Sum256(data)
	return id.NewContentRef(hex.EncodeToString(sum[:]))
}
