// Package bidi is a minimal WebDriver BiDi client over a WebSocket.
package bidi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/logging"
)

const protocolName = "bidi"

const (
	MethodSessionNew    = "session.new"
	MethodSessionEnd    = "session.end"
	MethodSessionStatus = "session.status"
)

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type message struct {
	Type    string          `json:"type"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type result struct {
	raw json.RawMessage
	err error
}

// SessionInfo is the result of session.new.
type SessionInfo struct {
	SessionID    string         `json:"sessionId"`
	Capabilities map[string]any `json:"capabilities"`
}

// Client correlates commands and responses by id and dispatches events by method.
type Client struct {
	conn *websocket.Conn
	log  *logging.Logger

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]chan result
	handlers map[string][]func(json.RawMessage)
	session  SessionInfo
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial opens the BiDi WebSocket at url, retrying on the schedule.
func Dial(ctx context.Context, url string, sched browser.RetrySchedule, log *logging.Logger) (*Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var conn *websocket.Conn
	err := browser.Retry(ctx, url, sched, func(ctx context.Context, attempt int) error {
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		c, _, err := websocket.Dial(dialCtx, url, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, &browser.AttachError{Protocol: protocolName, Err: err}
	}
	return NewClient(conn, log), nil
}

// NewClient starts the read loop on conn.
func NewClient(conn *websocket.Conn, log *logging.Logger) *Client {
	conn.SetReadLimit(32 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		log:      log.OrDiscard().WithProtocol(protocolName),
		pending:  make(map[int64]chan result),
		handlers: make(map[string][]func(json.RawMessage)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// NewSession runs session.new with empty capabilities. Failure is an AttachError.
func (c *Client) NewSession(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	params := map[string]any{"capabilities": map[string]any{}}
	if err := c.Send(ctx, MethodSessionNew, params, &info); err != nil {
		return SessionInfo{}, &browser.AttachError{Protocol: protocolName, Err: err}
	}
	c.mu.Lock()
	c.session = info
	c.mu.Unlock()
	c.log.Debug("bidi session created", "session_id", info.SessionID)
	return info, nil
}

// Session returns the session created by NewSession.
func (c *Client) Session() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Send issues a command and decodes its result into out, which may be nil.
func (c *Client) Send(ctx context.Context, method string, params, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if params == nil {
		params = map[string]any{}
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return browser.ErrConnectionLost
	}
	c.nextID++
	id := c.nextID
	ch := make(chan result, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, request{ID: id, Method: method, Params: params}); err != nil {
		c.forget(id)
		return fmt.Errorf("bidi %s: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if out == nil || len(r.raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.raw, out); err != nil {
			return fmt.Errorf("bidi %s: decode result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// On registers fn for events named method.
func (c *Client) On(method string, fn func(params json.RawMessage)) {
	c.mu.Lock()
	c.handlers[method] = append(c.handlers[method], fn)
	c.mu.Unlock()
}

// Close ends the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	if err := c.conn.Close(websocket.StatusNormalClosure, "client closed"); err != nil {
		c.log.Debug("bidi close handshake", "error", err)
	}
	c.cancel()
	<-c.done
	return nil
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var msg message
		if err := wsjson.Read(c.ctx, c.conn, &msg); err != nil {
			c.failPending(err)
			return
		}
		switch msg.Type {
		case "event":
			c.mu.Lock()
			fns := append([]func(json.RawMessage){}, c.handlers[msg.Method]...)
			c.mu.Unlock()
			for _, fn := range fns {
				fn(msg.Params)
			}
		case "success", "error":
			if msg.ID == nil {
				c.log.Warn("bidi response without id", "error", msg.Error, "message", msg.Message)
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[*msg.ID]
			delete(c.pending, *msg.ID)
			c.mu.Unlock()
			if !ok {
				continue
			}
			if msg.Type == "error" {
				ch <- result{err: &browser.ProtocolError{Protocol: protocolName, Code: msg.Error, Message: msg.Message}}
				continue
			}
			ch <- result{raw: msg.Result}
		default:
			c.log.Debug("ignoring bidi message", "type", msg.Type)
		}
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	closing := c.closed
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan result)
	c.mu.Unlock()
	if !closing {
		c.log.Warn("bidi connection closed", "error", err)
	}
	for _, ch := range pending {
		ch <- result{err: browser.ErrConnectionLost}
	}
}
