package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/permission"
)

func TestRecordDeniedAppendsExactlyOneEventAndReturnsError(t *testing.T) {
	s := New(id.NewActorId(), permission.Set{}, nil, nil)

	err := s.RecordDenied("filesystem", []byte("write /tmp/x"), errors.New("write not granted"))
	require.Error(t, err, "a denied operation must surface an error to the guest")

	events := s.Chain().Snapshot()
	require.Len(t, events, 1, "exactly one chain event must describe the denial")
	assert.Equal(t, "filesystem/permission-denied", events[0].EventType)
	assert.Equal(t, []byte("write /tmp/x"), events[0].Data)
}

func TestSetEventHookFiresOnRecordEvent(t *testing.T) {
	s := New(id.NewActorId(), permission.Set{}, nil, nil)

	var seen []chain.Event
	s.SetEventHook(func(ev chain.Event) { seen = append(seen, ev) })

	s.RecordEvent("a/one", []byte("x"), "")
	s.RecordEvent("a/two", []byte("y"), "")

	require.Len(t, seen, 2)
	assert.Equal(t, "a/one", seen[0].EventType)
	assert.Equal(t, "a/two", seen[1].EventType)
}

func TestResourceHandlesRoundTrip(t *testing.T) {
	s := New(id.NewActorId(), permission.Set{}, nil, nil)

	h := s.PutResource("a-socket")
	v, ok := s.GetResource(h)
	require.True(t, ok)
	assert.Equal(t, "a-socket", v)

	s.DropResource(h)
	_, ok = s.GetResource(h)
	assert.False(t, ok)
}
