package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/theater/internal/handler"
	"github.com/weisyn/theater/internal/handler/handlertest"
	"github.com/weisyn/theater/internal/id"
	"github.com/weisyn/theater/internal/manifest"
	"github.com/weisyn/theater/internal/messaging"
	"github.com/weisyn/theater/internal/supervisor"
	"github.com/weisyn/theater/internal/theater"
)

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, ref manifest.Reference) ([]byte, error) {
	return []byte("component-bytes"), nil
}

type envelopeView struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload,omitempty"`
}

// acceptingExports answers every open envelope with accept:true, forwarding
// every envelope it receives onto received for assertions.
func acceptingExports(received chan<- []byte) map[string]handlertest.Export {
	return map[string]handlertest.Export{
		"init": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			return nil, nil
		},
		"handle": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			if received != nil {
				received <- append([]byte(nil), args...)
			}
			var env envelopeView
			if err := json.Unmarshal(args, &env); err != nil {
				return nil, err
			}
			if env.Kind == "open" {
				return json.Marshal(messaging.OpenReply{Accept: true})
			}
			return nil, nil
		},
	}
}

func newRuntime(t *testing.T, exports map[string]handlertest.Export) (*theater.Runtime, context.CancelFunc) {
	t.Helper()
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register(&handlertest.Handler{HandlerName: "message-server"}))

	rt := theater.New(theater.Config{
		Handlers:      reg,
		Embedder:      &handlertest.Embedder{Exports: exports},
		Resolver:      fakeResolver{},
		RestartPolicy: supervisor.RestartPolicy{},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)
	return rt, cancel
}

func spawnPeer(t *testing.T, rt *theater.Runtime) id.ActorId {
	t.Helper()
	actorID, err := rt.SpawnActor(theater.SpawnRequest{Manifest: &manifest.Manifest{
		Name:      "peer",
		Component: "hash:abc",
		Handlers:  []manifest.HandlerEntry{{Type: "message-server"}},
	}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		resp, err := rt.GetActorStatus(actorID)
		return err == nil && resp.Status.String() == "running"
	}, time.Second, 5*time.Millisecond)
	return actorID
}

func TestOpenRegistersChannelOnAccept(t *testing.T) {
	received := make(chan []byte, 8)
	rt, cancel := newRuntime(t, acceptingExports(received))
	defer cancel()

	initiator := id.NewActorId()
	target := spawnPeer(t, rt)

	mgr := messaging.New(rt, nil)
	chID, reply, err := mgr.Open(context.Background(), initiator, target, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, reply.Accept)
	assert.NotEqual(t, id.ChannelId{}, chID)

	select {
	case got := <-received:
		var env envelopeView
		require.NoError(t, json.Unmarshal(got, &env))
		assert.Equal(t, "open", env.Kind)
		assert.Equal(t, []byte("hello"), env.Payload)
	case <-time.After(time.Second):
		t.Fatal("target never observed the open envelope")
	}
}

func TestOpenReturnsRejectionWithoutRegisteringChannel(t *testing.T) {
	exports := map[string]handlertest.Export{
		"init": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			return nil, nil
		},
		"handle": func(ctx context.Context, args []byte, host handlertest.HostFuncs) ([]byte, error) {
			return json.Marshal(messaging.OpenReply{Accept: false})
		},
	}
	rt, cancel := newRuntime(t, exports)
	defer cancel()

	initiator := id.NewActorId()
	target := spawnPeer(t, rt)

	mgr := messaging.New(rt, nil)
	chID, reply, err := mgr.Open(context.Background(), initiator, target, nil)
	require.NoError(t, err)
	assert.False(t, reply.Accept)

	assert.Error(t, mgr.SendOnChannel(chID, initiator, []byte("too late")))
}

func TestSendOnChannelDeliversToOtherEndpointInSendOrder(t *testing.T) {
	received := make(chan []byte, 8)
	rt, cancel := newRuntime(t, acceptingExports(received))
	defer cancel()

	initiator := id.NewActorId()
	target := spawnPeer(t, rt)

	mgr := messaging.New(rt, nil)
	chID, reply, err := mgr.Open(context.Background(), initiator, target, nil)
	require.NoError(t, err)
	require.True(t, reply.Accept)
	<-received // drain the open envelope

	require.NoError(t, mgr.SendOnChannel(chID, initiator, []byte("first")))
	require.NoError(t, mgr.SendOnChannel(chID, initiator, []byte("second")))

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-received:
			var env envelopeView
			require.NoError(t, json.Unmarshal(got, &env))
			assert.Equal(t, "send", env.Kind)
			assert.Equal(t, []byte(want), env.Payload)
		case <-time.After(time.Second):
			t.Fatalf("target never observed send envelope %q", want)
		}
	}
}

func TestSendOnChannelRejectsNonEndpoint(t *testing.T) {
	rt, cancel := newRuntime(t, acceptingExports(nil))
	defer cancel()

	initiator := id.NewActorId()
	target := spawnPeer(t, rt)

	mgr := messaging.New(rt, nil)
	chID, reply, err := mgr.Open(context.Background(), initiator, target, nil)
	require.NoError(t, err)
	require.True(t, reply.Accept)

	stranger := id.NewActorId()
	assert.Error(t, mgr.SendOnChannel(chID, stranger, []byte("x")))
}

func TestCloseRemovesChannelAndNotifiesOtherEndpoint(t *testing.T) {
	received := make(chan []byte, 8)
	rt, cancel := newRuntime(t, acceptingExports(received))
	defer cancel()

	initiator := id.NewActorId()
	target := spawnPeer(t, rt)

	mgr := messaging.New(rt, nil)
	chID, reply, err := mgr.Open(context.Background(), initiator, target, nil)
	require.NoError(t, err)
	require.True(t, reply.Accept)
	<-received

	require.NoError(t, mgr.Close(chID, initiator))

	select {
	case got := <-received:
		var env envelopeView
		require.NoError(t, json.Unmarshal(got, &env))
		assert.Equal(t, "close", env.Kind)
	case <-time.After(time.Second):
		t.Fatal("target never observed the close envelope")
	}

	assert.Error(t, mgr.SendOnChannel(chID, initiator, []byte("too late")))
}
