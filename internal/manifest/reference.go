package manifest

import (
	"context"
	"fmt"
	"strings"

	"github.com/weisyn/theater/internal/blobstore"
	"github.com/weisyn/theater/internal/id"
)

// ReferenceKind classifies a resolvable reference string.
type ReferenceKind int

const (
	ReferenceFile ReferenceKind = iota
	ReferenceURL
	ReferenceContentAddress
)

// Reference is a parsed resolvable reference: a file path, an http(s) URL,
// or an opaque content address "hash:<digest>".
type Reference struct {
	Kind ReferenceKind
	Raw  string
}

// ParseReference classifies s without resolving it.
func ParseReference(s string) Reference {
	switch {
	case strings.HasPrefix(s, "hash:"):
		return Reference{Kind: ReferenceContentAddress, Raw: s}
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return Reference{Kind: ReferenceURL, Raw: s}
	default:
		return Reference{Kind: ReferenceFile, Raw: s}
	}
}

// Resolver resolves a Reference to bytes. File and URL resolution are
// boundary concerns (disk/network access) the core does not implement;
// Resolver lets a caller plug those in while the core handles the
// content-address case directly against a blobstore.Store.
type Resolver interface {
	Resolve(ctx context.Context, ref Reference) ([]byte, error)
}

// BlobstoreResolver resolves "hash:<digest>" references against a
// blobstore.Store and delegates everything else to a Fallback resolver
// (nil-safe: if Fallback is nil, non-content-address references fail).
type BlobstoreResolver struct {
	Store    blobstore.Store
	Fallback Resolver
}

func (r BlobstoreResolver) Resolve(ctx context.Context, ref Reference) ([]byte, error) {
	if ref.Kind != ReferenceContentAddress {
		if r.Fallback == nil {
			return nil, fmt.Errorf("manifest: no resolver configured for %q", ref.Raw)
		}
		return r.Fallback.Resolve(ctx, ref)
	}
	digest := strings.TrimPrefix(ref.Raw, "hash:")
	return r.Store.Get(ctx, id.NewContentRef(digest))
}
