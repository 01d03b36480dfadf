package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendLinksParentHash(t *testing.T) {
	c := New()
	c.Append("a/one", []byte("1"), "")
	c.Append("a/two", []byte("2"), "")
	c.Append("a/three", []byte("3"), "")

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	for i := 1; i < len(snap); i++ {
		assert.Equal(t, snap[i-1].Hash, snap[i].ParentHash, "event %d parent_hash must equal event %d hash", i, i-1)
	}
	assert.Empty(t, snap[0].ParentHash)
}

func TestVerifyPassesOnUntamperedChain(t *testing.T) {
	c := New()
	c.Append("a/one", []byte("1"), "")
	c.Append("a/two", []byte("2"), "")

	result := c.Verify()
	assert.True(t, result.Passed)
	assert.Equal(t, -1, result.FirstMismatch)
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	c := New()
	c.Append("a/one", []byte("1"), "")
	c.Append("a/two", []byte("2"), "")
	c.Append("a/three", []byte("3"), "")

	snap := c.Snapshot()
	snap[1].Data = []byte("tampered")

	result := VerifySequence(snap)
	assert.False(t, result.Passed)
	assert.Equal(t, 1, result.FirstMismatch)
}

func TestEncodeDecodeSequenceRoundTrips(t *testing.T) {
	c := New()
	c.Append("a/one", []byte("1"), "first")
	c.Append("a/two", []byte("2"), "")

	original := c.Snapshot()
	wire := EncodeSequence(original)

	loaded, err := DecodeSequence(wire)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
	assert.True(t, VerifySequence(loaded).Passed)
}

func TestByTypeFiltersByPrefix(t *testing.T) {
	c := New()
	c.Append("theater:actor/init", nil, "")
	c.Append("theater:simple/timing/now", nil, "")
	c.Append("theater:actor/handle", nil, "")

	out := c.ByType("theater:actor/")
	require.Len(t, out, 2)
	assert.Equal(t, "theater:actor/init", out[0].EventType)
	assert.Equal(t, "theater:actor/handle", out[1].EventType)
}

func TestHostFunctionCallCodecRoundTrips(t *testing.T) {
	call := HostFunctionCall{Interface: "theater:simple/timing", Function: "now", Input: []byte("x"), Output: []byte("y")}
	data := EncodeHostFunctionCall(call)

	decoded, err := DecodeHostFunctionCall(data)
	require.NoError(t, err)
	assert.Equal(t, call, decoded)
}
