package cdpsocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/foxwire/pkg/bus"
)

const relayPrefix = "foxwire.socket"

type relayHarness struct {
	ctx    context.Context
	bus    *bus.MemoryBus
	root   *Server
	runner *Server
	relay  *Relay
}

func newRelayHarness(t *testing.T) *relayHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := bus.NewMemoryBus()
	root := NewServer("", Options{})
	runner := root.Of("runner")
	h := &relayHarness{ctx: ctx, bus: b, root: root, runner: runner, relay: NewRelay(b, runner, relayPrefix, nil)}
	t.Cleanup(func() {
		_ = h.relay.Stop()
		root.Detach()
		cancel()
		_ = b.Close()
	})
	return h
}

func (h *relayHarness) collect(t *testing.T, subject string) <-chan Envelope {
	t.Helper()
	out := make(chan Envelope, 8)
	_, err := h.bus.Subscribe(h.ctx, subject, func(msg *bus.Message) []byte {
		var env Envelope
		assert.NoError(t, json.Unmarshal(msg.Data, &env))
		out <- env
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestRelaySubjects(t *testing.T) {
	h := newRelayHarness(t)
	assert.Equal(t, "foxwire.socket.runner.emit", h.relay.EmitSubject())
	assert.Equal(t, "foxwire.socket.runner.automation:request", h.relay.EventSubject("automation:request"))
	assert.Equal(t, "foxwire.socket.runner.a_b", h.relay.EventSubject("a.b"))
}

func TestRelayPublishesPageEvents(t *testing.T) {
	h := newRelayHarness(t)
	client := newFakeClient("page")
	require.NoError(t, h.root.AttachClient(h.ctx, client))
	require.NoError(t, h.relay.Start(h.ctx))

	events := h.collect(t, "foxwire.socket.runner.>")
	client.call(t, "cypressSendToServer-runner", map[string]any{"event": "log", "args": []any{"hello", 1}})

	select {
	case env := <-events:
		assert.Equal(t, "log", env.Event)
		require.Len(t, env.Args, 2)
		assert.Equal(t, `"hello"`, string(env.Args[0]))
	case <-time.After(time.Second):
		t.Fatal("event not relayed")
	}
}

func TestRelayEmitsIntoPage(t *testing.T) {
	h := newRelayHarness(t)
	client := newFakeClient("page")
	require.NoError(t, h.root.AttachClient(h.ctx, client))
	require.NoError(t, h.relay.Start(h.ctx))

	data, err := json.Marshal(Envelope{Event: "run:start", Args: []json.RawMessage{json.RawMessage(`{"spec":"a.cy.js"}`)}})
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(h.ctx, h.relay.EmitSubject(), data))

	got := parseSend(t, client.nextEval(t))
	assert.Equal(t, "run:start", got.event)
	assert.Equal(t, `[{"spec":"a.cy.js"}]`, got.args)

	require.NoError(t, h.bus.Publish(h.ctx, h.relay.EmitSubject(), []byte("not json")))
	client.noEval(t)
}

func TestRelayAnswersAcksFromReplies(t *testing.T) {
	h := newRelayHarness(t)
	client := newFakeClient("page")
	require.NoError(t, h.root.AttachClient(h.ctx, client))
	require.NoError(t, h.relay.Start(h.ctx))

	_, err := h.bus.Subscribe(h.ctx, h.relay.EventSubject("backend:request"), func(msg *bus.Message) []byte {
		return []byte(`[{"response":"ok"}]`)
	})
	require.NoError(t, err)

	client.call(t, "cypressSendToServer-runner", map[string]any{
		"event":         "backend:request",
		"callbackEvent": "backend:request-3.250",
		"args":          []any{"get:fixture"},
	})

	got := parseSend(t, client.nextEval(t))
	assert.Equal(t, "backend:request-3.250", got.event)
	assert.Equal(t, `[{"response":"ok"}]`, got.args)
}

func TestRelayFollowsReattach(t *testing.T) {
	h := newRelayHarness(t)
	require.NoError(t, h.relay.Start(h.ctx))
	events := h.collect(t, h.relay.EventSubject("log"))

	first := newFakeClient("page-1")
	second := newFakeClient("page-2")
	require.NoError(t, h.root.AttachClient(h.ctx, first))
	require.NoError(t, h.root.AttachClient(h.ctx, second))

	second.call(t, "cypressSendToServer-runner", map[string]any{"event": "log", "args": []any{}})
	select {
	case env := <-events:
		assert.Equal(t, "log", env.Event)
	case <-time.After(time.Second):
		t.Fatal("event from new client not relayed")
	}
	assert.Error(t, h.relay.Start(h.ctx))
}
