package chain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/theater/internal/chain"
)

// TestHashIndependentOfTimestamp: two events with identical parent hash,
// event type and data but different timestamps must hash identically,
// otherwise a replayed chain could never match its recording.
func TestHashIndependentOfTimestamp(t *testing.T) {
	c := chain.New()
	ev := c.Append("theater:simple/timing/now", []byte("payload"), "")

	perturbed := ev
	perturbed.Timestamp = ev.Timestamp + 999999

	result := chain.VerifySequence([]chain.Event{perturbed})
	assert.True(t, result.Passed, "recomputed hash must not depend on timestamp")
}

func TestRecentReturnsMostRecentFirst(t *testing.T) {
	c := chain.New()
	c.Append("a/one", nil, "")
	c.Append("a/two", nil, "")
	c.Append("a/three", nil, "")

	recent := c.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "a/three", recent[0].EventType)
	assert.Equal(t, "a/two", recent[1].EventType)
}

func TestRecentClampsToChainLength(t *testing.T) {
	c := chain.New()
	c.Append("a/one", nil, "")

	assert.Len(t, c.Recent(10), 1)
	assert.Nil(t, c.Recent(0))
}

func TestSinceReturnsStrictlyAfterTimestamp(t *testing.T) {
	c := chain.New()
	first := c.Append("a/one", nil, "")
	c.Append("a/two", nil, "")

	out := c.Since(first.Timestamp)
	for _, ev := range out {
		assert.Greater(t, ev.Timestamp, first.Timestamp)
	}
}
