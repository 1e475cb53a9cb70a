package cdpsocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/require"
)

type sentCommand struct {
	Method string
	Params json.RawMessage
}

// fakeClient is an in-memory CDP page client.
type fakeClient struct {
	name string

	mu        sync.Mutex
	sent      []sentCommand
	handlers  map[string]map[int]func(json.RawMessage)
	nextID    int
	closes    int
	failEval  error
	failBind  error
	evaluated chan string
}

func newFakeClient(name string) *fakeClient {
	return &fakeClient{
		name:      name,
		handlers:  make(map[string]map[int]func(json.RawMessage)),
		evaluated: make(chan string, 64),
	}
}

func (c *fakeClient) Send(_ context.Context, method string, params, _ any) error {
	raw, _ := json.Marshal(params)
	c.mu.Lock()
	c.sent = append(c.sent, sentCommand{Method: method, Params: raw})
	failEval, failBind := c.failEval, c.failBind
	c.mu.Unlock()

	switch method {
	case "Runtime.addBinding":
		return failBind
	case "Runtime.evaluate":
		var p struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(raw, &p)
		c.evaluated <- p.Expression
		return failEval
	}
	return nil
}

func (c *fakeClient) On(event string, fn func(json.RawMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]func(json.RawMessage))
	}
	c.handlers[event][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeClient) listeners(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

func (c *fakeClient) bindings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.sent {
		if s.Method != "Runtime.addBinding" {
			continue
		}
		var p struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(s.Params, &p)
		out = append(out, p.Name)
	}
	return out
}

func (c *fakeClient) methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, s := range c.sent {
		out = append(out, s.Method)
	}
	return out
}

// call simulates page script invoking a binding.
func (c *fakeClient) call(t *testing.T, binding string, payload any) {
	t.Helper()
	var text string
	switch p := payload.(type) {
	case string:
		text = p
	default:
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		text = string(raw)
	}
	params, err := json.Marshal(runtime.EventBindingCalled{Name: binding, Payload: text, ExecutionContextID: 1})
	require.NoError(t, err)

	c.mu.Lock()
	fns := make([]func(json.RawMessage), 0)
	for _, fn := range c.handlers["Runtime.bindingCalled"] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(params)
	}
}

func (c *fakeClient) nextEval(t *testing.T) string {
	t.Helper()
	select {
	case expr := <-c.evaluated:
		return expr
	case <-time.After(time.Second):
		t.Fatal("no Runtime.evaluate sent")
		return ""
	}
}

func (c *fakeClient) noEval(t *testing.T) {
	t.Helper()
	select {
	case expr := <-c.evaluated:
		t.Fatalf("unexpected Runtime.evaluate: %s", expr)
	case <-time.After(50 * time.Millisecond):
	}
}

var errEval = errors.New("Cannot find context with specified id")
