package rdp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/browser/adapters/wire"
)

// fakeDebugger is an in-process remote debugging server. respond returns the packets
// to write back for each request.
type fakeDebugger struct {
	ln      net.Listener
	respond func(req map[string]any) []any

	mu       sync.Mutex
	requests []map[string]any
	conn     net.Conn
}

func newFakeDebugger(t *testing.T, respond func(req map[string]any) []any) *fakeDebugger {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeDebugger{ln: ln, respond: respond}
	go f.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.Close()
		}
		f.mu.Unlock()
	})
	return f
}

func (f *fakeDebugger) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeDebugger) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	_ = wire.WriteJSON(conn, map[string]any{"from": "root", "applicationType": "browser", "traits": map[string]any{}})
	reader := bufio.NewReader(conn)
	for {
		data, err := wire.ReadPacket(reader)
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		for _, pkt := range f.respond(req) {
			if err := wire.WriteJSON(conn, pkt); err != nil {
				return
			}
		}
	}
}

func (f *fakeDebugger) requestTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r["to"].(string)+"."+r["type"].(string))
	}
	return out
}

func (f *fakeDebugger) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

func tabsReply(tabs ...map[string]any) []any {
	list := make([]any, 0, len(tabs))
	for _, t := range tabs {
		list = append(list, t)
	}
	return []any{map[string]any{"from": "root", "tabs": list, "selected": 0}}
}

func dialFake(t *testing.T, f *fakeDebugger) *Browser {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := Dial(ctx, "127.0.0.1", f.port(), browser.RetrySchedule{MaxRetries: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestListTabs(t *testing.T) {
	f := newFakeDebugger(t, func(req map[string]any) []any {
		return tabsReply(
			map[string]any{"actor": "server1.conn0.tab1", "browsingContextID": 7, "url": "about:blank", "title": "New Tab", "memoryActor": "server1.conn0.memoryActor2"},
			map[string]any{"actor": "server1.conn0.tab3", "browsingContextID": 9, "url": "http://localhost:3000/"},
		)
	})
	b := dialFake(t, f)

	tabs, err := b.ListTabs(context.Background())
	require.NoError(t, err)
	require.Len(t, tabs, 2)

	assert.Equal(t, "7", tabs[0].ID)
	assert.Equal(t, "server1.conn0.tab1", tabs[0].Actor)
	assert.Equal(t, "New Tab", tabs[0].Title)
	require.NotNil(t, tabs[0].Memory)
	assert.False(t, tabs[0].Memory.IsAttached())

	assert.Equal(t, "9", tabs[1].ID)
	assert.Nil(t, tabs[1].Memory)
}

func TestListTabsDetachesPreviousTabs(t *testing.T) {
	f := newFakeDebugger(t, func(req map[string]any) []any {
		return tabsReply(map[string]any{"actor": "tab1", "browsingContextID": 1})
	})
	b := dialFake(t, f)

	first, err := b.ListTabs(context.Background())
	require.NoError(t, err)
	first[0].Attached = true

	second, err := b.ListTabs(context.Background())
	require.NoError(t, err)

	assert.False(t, first[0].Attached)
	assert.NotSame(t, first[0], second[0])
	assert.Equal(t, second, b.Tabs())
}

func TestListTabsSkipsTabListChanged(t *testing.T) {
	calls := 0
	f := newFakeDebugger(t, func(req map[string]any) []any {
		calls++
		if calls == 1 {
			changed := map[string]any{"from": "root", "type": "tabListChanged"}
			return append([]any{changed}, tabsReply(map[string]any{"actor": "tab1", "browsingContextID": 1})...)
		}
		return tabsReply(map[string]any{"actor": "tab2", "browsingContextID": 2})
	})
	b := dialFake(t, f)

	first, err := b.ListTabs(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "tab1", first[0].Actor)

	second, err := b.ListTabs(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "tab2", second[0].Actor)
}

func TestQueryTabsLeavesStateAlone(t *testing.T) {
	f := newFakeDebugger(t, func(req map[string]any) []any {
		return tabsReply(map[string]any{"actor": "tab1", "browsingContextID": "ctx-1"})
	})
	b := dialFake(t, f)

	tabs, err := b.ListTabs(context.Background())
	require.NoError(t, err)
	tabs[0].Attached = true

	infos, err := b.QueryTabs(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "ctx-1", infos[0].ID)
	assert.True(t, tabs[0].Attached)
	assert.Same(t, tabs[0], b.Tabs()[0])
}

func TestMemoryActorLifecycle(t *testing.T) {
	const memActor = "server1.conn0.memoryActor2"
	f := newFakeDebugger(t, func(req map[string]any) []any {
		switch req["type"] {
		case "listTabs":
			return tabsReply(map[string]any{"actor": "tab1", "browsingContextID": 1, "memoryActor": memActor})
		case "getState":
			return []any{map[string]any{"from": memActor, "state": "detached"}}
		case "attach":
			return []any{
				map[string]any{"from": memActor, "type": "attached"},
			}
		case "forceGarbageCollection":
			// the event arrives before the reply and must not consume it
			return []any{
				map[string]any{
					"from": memActor,
					"type": GarbageCollectionEvent,
					"data": map[string]any{
						"reason":               "API",
						"nonincrementalReason": "GCBytesTrigger",
						"gcCycleNumber":        12,
						"collections": []any{
							map[string]any{"startTimestamp": 10.0, "endTimestamp": 30.0},
							map[string]any{"startTimestamp": 40.0, "endTimestamp": 60.0},
						},
					},
				},
				map[string]any{"from": memActor},
			}
		case "forceCycleCollection":
			return []any{map[string]any{"from": memActor}}
		}
		return nil
	})
	b := dialFake(t, f)
	ctx := context.Background()

	tabs, err := b.ListTabs(ctx)
	require.NoError(t, err)
	mem := tabs[0].Memory
	require.NotNil(t, mem)

	state, err := mem.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "detached", state)

	events := make(chan browser.GarbageCollection, 1)
	mem.OnGarbageCollection(func(gc browser.GarbageCollection) {
		events <- gc
	})
	require.NoError(t, mem.Attach(ctx))
	assert.True(t, mem.IsAttached())

	require.NoError(t, mem.ForceGarbageCollection(ctx))
	require.NoError(t, mem.ForceCycleCollection(ctx))

	select {
	case gc := <-events:
		assert.Equal(t, "API", gc.Reason)
		assert.Equal(t, "GCBytesTrigger", gc.NonincrementalReason)
		assert.Equal(t, 12, gc.GCCycleNumber)
		require.Len(t, gc.Collections, 2)
		assert.Equal(t, 60.0, gc.Collections[1].EndTimestamp)
	case <-time.After(time.Second):
		t.Fatal("garbage-collection event not delivered")
	}

	assert.Equal(t, []string{
		"root.listTabs",
		memActor + ".getState",
		memActor + ".attach",
		memActor + ".forceGarbageCollection",
		memActor + ".forceCycleCollection",
	}, f.requestTypes())
}

func TestRequestErrorPacket(t *testing.T) {
	f := newFakeDebugger(t, func(req map[string]any) []any {
		return []any{map[string]any{"from": req["to"], "error": "noSuchActor", "message": "No such actor"}}
	})
	b := dialFake(t, f)

	_, err := b.QueryTabs(context.Background())
	var perr *browser.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "noSuchActor", perr.Code)
	assert.Equal(t, "rdp", perr.Protocol)
}

func TestConnectionDropReportsError(t *testing.T) {
	block := make(chan struct{})
	f := newFakeDebugger(t, func(req map[string]any) []any {
		<-block
		return nil
	})
	b := dialFake(t, f)

	errs := make(chan error, 1)
	b.OnError(func(err error) { errs <- err })

	result := make(chan error, 1)
	go func() {
		_, err := b.QueryTabs(context.Background())
		result <- err
	}()

	require.Eventually(t, func() bool { return len(f.requestTypes()) == 1 }, time.Second, 5*time.Millisecond)
	f.drop()
	close(block)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, browser.ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("pending request not failed")
	}
	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, browser.ErrConnectionLost) || browser.IsConnectionError(err))
	case <-time.After(time.Second):
		t.Fatal("error listener not called")
	}
}

func TestCloseDoesNotReportError(t *testing.T) {
	f := newFakeDebugger(t, func(req map[string]any) []any { return nil })
	b := dialFake(t, f)

	called := make(chan error, 1)
	b.OnError(func(err error) { called <- err })

	require.NoError(t, b.Close())
	select {
	case err := <-called:
		t.Fatalf("unexpected error callback: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	_, err := b.QueryTabs(context.Background())
	assert.ErrorIs(t, err, browser.ErrConnectionLost)
}

func TestDialExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), "127.0.0.1", port, browser.RetrySchedule{MaxRetries: 1}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrConnectionExhausted)
}
