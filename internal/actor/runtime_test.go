package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/theater/internal/actor"
	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/handler/handlertest"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/manifest"
)

func echoDeps(exports map[string]handlertest.Export) actor.Deps {
	return actor.Deps{
		ActorID:  id.NewActorId(),
		Manifest: &manifest.Manifest{Name: "echo"},
		Embedder: &handlertest.Embedder{Exports: exports},
	}
}

// TestEchoRequestReply spawns an actor whose "handle" export echoes its
// input, sends a request, and expects the payload back, with at least the 4
// chain events (init-call, init-return, handle-call, handle-return) and a
// verifying chain.
func TestEchoRequestReply(t *testing.T) {
	deps := echoDeps(map[string]handlertest.Export{
		"init": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			return []byte("ready"), nil
		},
		"handle": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			return args, nil
		},
	})
	rt := actor.New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	waitRunning(t, rt)

	reply := make(chan []byte, 1)
	rt.OperationChan() <- actor.Operation{Data: []byte{0xDE, 0xAD}, ReplyTo: reply}
	select {
	case out := <-reply:
		assert.Equal(t, []byte{0xDE, 0xAD}, out)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echo reply")
	}

	info := getChain(t, rt)
	require.GreaterOrEqual(t, len(info.Chain), 4)
	assert.True(t, chain.VerifySequence(info.Chain).Passed)
}

// TestShutdownDuringStartingNeverReachesRunning: a Shutdown issued while
// the startup pipeline is still running must terminate the actor without it
// ever serving operations, and the terminal result must be an external stop.
func TestShutdownDuringStartingNeverReachesRunning(t *testing.T) {
	startupBlocked := make(chan struct{})
	deps := echoDeps(map[string]handlertest.Export{
		"init": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			<-startupBlocked
			return nil, nil
		},
	})
	supervisor := make(chan actor.Result, 1)
	deps.SupervisorTx = supervisor
	rt := actor.New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	// Confirm it's actually Starting before we shut it down.
	status := make(chan actor.InfoResponse, 1)
	rt.InfoChan() <- actor.InfoRequest{Kind: actor.InfoGetStatus, Reply: status}
	require.Equal(t, actor.Starting, (<-status).Status)

	shutdownReply := make(chan error, 1)
	rt.ControlChan() <- actor.ControlRequest{Kind: actor.ControlShutdown, Reply: shutdownReply}

	close(startupBlocked)

	select {
	case err := <-shutdownReply:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown during startup never completed")
	}

	select {
	case result := <-supervisor:
		assert.Equal(t, actor.ResultExternalStop, result.Kind, "actor must terminate as externally stopped, never reaching Running")
	case <-time.After(time.Second):
		t.Fatal("terminal result never delivered to supervisor")
	}
}

// TestPauseResumeLosesNoOperation: an operation sent while Paused stays
// buffered and is served after Resume, never dropped.
func TestPauseResumeLosesNoOperation(t *testing.T) {
	deps := echoDeps(map[string]handlertest.Export{
		"handle": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			return args, nil
		},
	})
	rt := actor.New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)
	waitRunning(t, rt)

	pauseReply := make(chan error, 1)
	rt.ControlChan() <- actor.ControlRequest{Kind: actor.ControlPause, Reply: pauseReply}
	require.NoError(t, <-pauseReply)

	reply := make(chan []byte, 1)
	rt.OperationChan() <- actor.Operation{Data: []byte("buffered"), ReplyTo: reply}

	select {
	case <-reply:
		t.Fatal("operation must not be served while Paused")
	case <-time.After(50 * time.Millisecond):
	}

	resumeReply := make(chan error, 1)
	rt.ControlChan() <- actor.ControlRequest{Kind: actor.ControlResume, Reply: resumeReply}
	require.NoError(t, <-resumeReply)

	select {
	case out := <-reply:
		assert.Equal(t, []byte("buffered"), out)
	case <-time.After(time.Second):
		t.Fatal("buffered operation was never served after Resume")
	}
}

// TestStateInfoDuringStartingReturnsNotReady: chain and state queries
// issued while the actor is still Starting get a not-ready error rather
// than a partial answer.
func TestStateInfoDuringStartingReturnsNotReady(t *testing.T) {
	startupBlocked := make(chan struct{})
	deps := echoDeps(map[string]handlertest.Export{
		"init": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			<-startupBlocked
			return nil, nil
		},
	})
	rt := actor.New(deps)
	defer close(startupBlocked)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	reply := make(chan actor.InfoResponse, 1)
	rt.InfoChan() <- actor.InfoRequest{Kind: actor.InfoGetChain, Reply: reply}
	resp := <-reply
	assert.Error(t, resp.Err)

	rt.InfoChan() <- actor.InfoRequest{Kind: actor.InfoGetState, Reply: reply}
	resp = <-reply
	assert.Error(t, resp.Err)
}

func waitRunning(t *testing.T, rt *actor.Runtime) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reply := make(chan actor.InfoResponse, 1)
		rt.InfoChan() <- actor.InfoRequest{Kind: actor.InfoGetStatus, Reply: reply}
		if (<-reply).Status == actor.Running {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("actor never reached Running")
}

func getChain(t *testing.T, rt *actor.Runtime) actor.InfoResponse {
	t.Helper()
	reply := make(chan actor.InfoResponse, 1)
	rt.InfoChan() <- actor.InfoRequest{Kind: actor.InfoGetChain, Reply: reply}
	return <-reply
}
