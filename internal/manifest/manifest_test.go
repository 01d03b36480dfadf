package manifest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/theater/internal/blobstore"
	"github.com/weisyn/theater/internal/manifest"
	"github.com/weisyn/theater/internal/permission"
)

const sampleManifest = `
name: echo-actor
version: "1.0"
component: hash:abc123
save_chain: true
init_state: hash:def456
permission_policy:
  filesystem:
    kind: restrict
    value:
      filesystem:
        read: true
        pathprefixes: ["/tmp"]
  random:
    kind: none
handler:
  - type: message-server
  - type: runtime
`

func TestParseDecodesRecognizedKeys(t *testing.T) {
	m, err := manifest.Parse([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "echo-actor", m.Name)
	assert.Equal(t, "hash:abc123", m.Component)
	assert.True(t, m.SaveChain)
	assert.Equal(t, "hash:def456", m.InitState)
	require.Len(t, m.Handlers, 2)
	assert.Equal(t, "message-server", m.Handlers[0].Type)
	assert.Equal(t, "runtime", m.Handlers[1].Type)
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := manifest.Parse([]byte("component: hash:abc\n"))
	assert.Error(t, err)
}

func TestParseRejectsMissingComponent(t *testing.T) {
	_, err := manifest.Parse([]byte("name: foo\n"))
	assert.Error(t, err)
}

func TestParseRejectsHandlerWithoutType(t *testing.T) {
	_, err := manifest.Parse([]byte("name: foo\ncomponent: hash:abc\nhandler:\n  - description: nope\n"))
	assert.Error(t, err)
}

func TestToPolicyTranslatesDirectiveKinds(t *testing.T) {
	m, err := manifest.Parse([]byte(sampleManifest))
	require.NoError(t, err)

	policy := m.PermissionPolicy.ToPolicy()
	assert.Equal(t, permission.KindRestrict, policy.Filesystem.Kind)
	require.NotNil(t, policy.Filesystem.Requested)
	require.NotNil(t, policy.Filesystem.Requested.Filesystem)
	assert.True(t, policy.Filesystem.Requested.Filesystem.Read)

	assert.Equal(t, permission.KindNone, policy.Random.Kind)
	assert.Equal(t, permission.KindInherit, policy.HTTPClient.Kind, "unspecified handler kinds default to inherit")
}

func TestParseReferenceClassifiesKinds(t *testing.T) {
	assert.Equal(t, manifest.ReferenceContentAddress, manifest.ParseReference("hash:abc123").Kind)
	assert.Equal(t, manifest.ReferenceURL, manifest.ParseReference("https://example.com/c.wasm").Kind)
	assert.Equal(t, manifest.ReferenceURL, manifest.ParseReference("http://example.com/c.wasm").Kind)
	assert.Equal(t, manifest.ReferenceFile, manifest.ParseReference("/var/lib/actors/c.wasm").Kind)
}

func TestBlobstoreResolverResolvesContentAddress(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ref, err := store.Put(context.Background(), []byte("component bytes"))
	require.NoError(t, err)

	resolver := manifest.BlobstoreResolver{Store: store}
	out, err := resolver.Resolve(context.Background(), manifest.ParseReference("hash:"+ref.String()))
	require.NoError(t, err)
	assert.Equal(t, []byte("component bytes"), out)
}

func TestBlobstoreResolverFallsBackForNonContentAddress(t *testing.T) {
	resolver := manifest.BlobstoreResolver{Store: blobstore.NewMemoryStore()}
	_, err := resolver.Resolve(context.Background(), manifest.ParseReference("/etc/passwd"))
	assert.Error(t, err, "without a Fallback, non-content-address references must fail rather than silently succeed")
}
