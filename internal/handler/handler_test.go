package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/theater/internal/chain"
	"github.com/weisyn/theater/internal/handler"
	"github.com/weisyn/theater/internal/handler/handlertest"
	"github.com/weisyn/theater/internal/log"
	"github.com/weisyn/theater/internal/permission"
)

func TestMarkSatisfiedIsFirstRegistrantWins(t *testing.T) {
	hctx := handler.NewContext(nil)

	assert.True(t, hctx.MarkSatisfied("wasi:io/poll"))
	assert.False(t, hctx.MarkSatisfied("wasi:io/poll"))
	assert.True(t, hctx.IsSatisfied("wasi:io/poll"))
	assert.False(t, hctx.IsSatisfied("wasi:clocks/monotonic"))
}

type fakeActorHandle struct{}

func (fakeActorHandle) RecordEvent(eventType string, data []byte, description string) chain.Event {
	return chain.Event{EventType: eventType}
}
func (fakeActorHandle) Permissions() *permission.Checker { return nil }
func (fakeActorHandle) Logger() log.Logger               { return log.Nop() }

func TestNewContextCarriesHandle(t *testing.T) {
	assert.Nil(t, handler.NewContext(nil).Handle)

	h := fakeActorHandle{}
	hctx := handler.NewContext(h)
	assert.Equal(t, h, hctx.Handle)
}

func TestRegistryRejectsDuplicateKind(t *testing.T) {
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register(&handlertest.Handler{HandlerName: "timing"}))
	err := reg.Register(&handlertest.Handler{HandlerName: "timing"})
	assert.Error(t, err)
}

func TestRegistryRejectsNilAndEmptyName(t *testing.T) {
	reg := handler.NewRegistry()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(&handlertest.Handler{HandlerName: ""}))
}

func TestRegistryLookupAndKindsPreserveRegistrationOrder(t *testing.T) {
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register(&handlertest.Handler{HandlerName: "zeta"}))
	require.NoError(t, reg.Register(&handlertest.Handler{HandlerName: "alpha"}))

	h, ok := reg.Lookup("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", h.Name())

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"zeta", "alpha"}, reg.Kinds())
	assert.Equal(t, []string{"alpha", "zeta"}, reg.SortedKinds())
}
