package theater_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/handler"
	"github.com/weisyn/theater/internal/handler/handlertest"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/manifest"
	"github.com/weisyn/theater/internal/supervisor"
	"github.com/weisyn/theater/internal/theater"
)

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, ref manifest.Reference) ([]byte, error) {
	return []byte("component-bytes"), nil
}

func newRuntime(t *testing.T, exports map[string]handlertest.Export, restart supervisor.RestartPolicy) (*theater.Runtime, context.CancelFunc) {
	t.Helper()
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register(&handlertest.Handler{HandlerName: "message-server"}))
	require.NoError(t, reg.Register(&handlertest.Handler{HandlerName: "runtime"}))

	rt := theater.New(theater.Config{
		Handlers:      reg,
		Embedder:      &handlertest.Embedder{Exports: exports},
		Resolver:      fakeResolver{},
		RestartPolicy: restart,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)
	return rt, cancel
}

func echoManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Name:      "echo",
		Component: "hash:abc",
		Handlers:  []manifest.HandlerEntry{{Type: "message-server"}},
	}
}

func echoExports() map[string]handlertest.Export {
	return map[string]handlertest.Export{
		"init": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			return nil, nil
		},
		"handle": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			return args, nil
		},
	}
}

// TestSpawnSendRequestEcho exercises the echo request/reply path through the
// full Theater Runtime command layer instead of directly against one actor.
func TestSpawnSendRequestEcho(t *testing.T) {
	rt, cancel := newRuntime(t, echoExports(), supervisor.RestartPolicy{})
	defer cancel()

	actorID, err := rt.SpawnActor(theater.SpawnRequest{Manifest: echoManifest()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := rt.GetActorStatus(actorID)
		return err == nil && resp.Status.String() == "running"
	}, time.Second, 5*time.Millisecond)

	out, err := rt.RequestMessage(actorID, []byte{0xDE, 0xAD})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, out)

	resp, err := rt.GetActorEvents(actorID)
	require.NoError(t, err)
	assert.True(t, chain.VerifySequence(resp.Chain).Passed)
}

func TestGetActorsListsLiveActors(t *testing.T) {
	rt, cancel := newRuntime(t, echoExports(), supervisor.RestartPolicy{})
	defer cancel()

	id1, err := rt.SpawnActor(theater.SpawnRequest{Manifest: echoManifest()})
	require.NoError(t, err)
	id2, err := rt.SpawnActor(theater.SpawnRequest{Manifest: echoManifest()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rt.GetActors()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.ElementsMatch(t, []string{id1.String(), id2.String()}, actorIDStrings(rt.GetActors()))
}

func actorIDStrings(ids []id.ActorId) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

func TestStopActorRemovesItFromRegistry(t *testing.T) {
	rt, cancel := newRuntime(t, echoExports(), supervisor.RestartPolicy{})
	defer cancel()

	actorID, err := rt.SpawnActor(theater.SpawnRequest{Manifest: echoManifest()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := rt.GetActorStatus(actorID)
		return err == nil && resp.Status.String() == "running"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, rt.StopActor(actorID))

	require.Eventually(t, func() bool {
		return len(rt.GetActors()) == 0
	}, time.Second, 5*time.Millisecond)
}

// TestSupervisedRestartOnFailure: a child marked restart_on_failure whose
// first instance traps during init is re-spawned, and the second instance's
// init is invoked.
func TestSupervisedRestartOnFailure(t *testing.T) {
	var attempt atomic.Int32
	exports := map[string]handlertest.Export{
		"init": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			if attempt.Add(1) == 1 {
				return nil, errors.New("boom")
			}
			return nil, nil
		},
	}
	rt, cancel := newRuntime(t, exports, supervisor.RestartPolicy{MinBackoff: time.Second})
	defer cancel()

	m := echoManifest()
	m.RestartOnFailure = true

	_, err := rt.SpawnActor(theater.SpawnRequest{Manifest: m, RestartOnFailure: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return attempt.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond, "the failed actor must be restarted")
}
