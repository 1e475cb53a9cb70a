// Package cdp is a Chrome DevTools Protocol client over a browser-level WebSocket
// with flattened target sessions.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/logging"
)

const protocolName = "cdp"

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 20
)

type wireMessage struct {
	ID        int64            `json:"id,omitempty"`
	SessionID target.SessionID `json:"sessionId,omitempty"`
	Method    string           `json:"method,omitempty"`
	Params    json.RawMessage  `json:"params,omitempty"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     *wireError       `json:"error,omitempty"`
}

type wireError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type outbound struct {
	ID        int64            `json:"id"`
	SessionID target.SessionID `json:"sessionId,omitempty"`
	Method    string           `json:"method"`
	Params    any              `json:"params,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

type handlerKey struct {
	session target.SessionID
	method  string
}

type handler struct {
	id int64
	fn func(json.RawMessage)
}

// Conn is one browser-level CDP WebSocket.
type Conn struct {
	ws  *websocket.Conn
	log *logging.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	nextID       int64
	nextHandler  int64
	pending      map[int64]chan response
	handlers     map[handlerKey][]handler
	onDisconnect func(error)
	closing      bool
	done         chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// DialConn opens the browser WebSocket at wsURL.
func DialConn(ctx context.Context, wsURL string, log *logging.Logger) (*Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return NewConn(ws, log), nil
}

// NewConn starts the read loop on ws.
func NewConn(ws *websocket.Conn, log *logging.Logger) *Conn {
	ws.SetReadLimit(maxMessageSize)
	c := &Conn{
		ws:       ws,
		log:      log.OrDiscard().WithProtocol(protocolName),
		pending:  make(map[int64]chan response),
		handlers: make(map[handlerKey][]handler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// OnDisconnect sets fn to run when the socket drops without Close being called.
func (c *Conn) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// Call sends method within sessionID (empty for the browser target) and decodes the
// result into out, which may be nil.
func (c *Conn) Call(ctx context.Context, sessionID target.SessionID, method string, params, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return browser.ErrConnectionLost
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	msg := outbound{ID: id, SessionID: sessionID, Method: method, Params: params}
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("cdp %s: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("cdp %s: %w", method, r.err)
		}
		if out == nil || len(r.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.result, out); err != nil {
			return fmt.Errorf("cdp %s: decode result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// Subscribe registers fn for method events within sessionID. Handlers run on the read
// goroutine; a handler that needs a round trip must not wait for it inline.
func (c *Conn) Subscribe(sessionID target.SessionID, method string, fn func(json.RawMessage)) (off func()) {
	key := handlerKey{session: sessionID, method: method}
	c.mu.Lock()
	c.nextHandler++
	id := c.nextHandler
	c.handlers[key] = append(c.handlers[key], handler{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.handlers[key]
		for i, h := range list {
			if h.id == id {
				c.handlers[key] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(c.handlers[key]) == 0 {
			delete(c.handlers, key)
		}
	}
}

// Session returns a client scoped to sessionID.
func (c *Conn) Session(sessionID target.SessionID, targetID target.ID) *SessionClient {
	return &SessionClient{conn: c, sessionID: sessionID, targetID: targetID}
}

// Done is closed when the read loop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
		<-c.done
	})
	return c.closeErr
}

func (c *Conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	var readErr error
	for {
		var msg wireMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.log.Debug("dropping malformed cdp message", "error", err)
				continue
			}
			readErr = err
			break
		}
		if msg.ID != 0 {
			c.resolve(msg)
			continue
		}
		if msg.Method == "" {
			continue
		}
		c.dispatch(msg)
	}

	c.mu.Lock()
	closing := c.closing
	c.closing = true
	pending := c.pending
	c.pending = make(map[int64]chan response)
	onDisconnect := c.onDisconnect
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- response{err: browser.ErrConnectionLost}
	}
	close(c.done)

	if closing {
		return
	}
	c.log.Warn("cdp connection lost", "error", readErr)
	if onDisconnect != nil {
		onDisconnect(fmt.Errorf("%w: %v", browser.ErrConnectionLost, readErr))
	}
}

func (c *Conn) resolve(msg wireMessage) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		ch <- response{err: &browser.ProtocolError{
			Protocol: protocolName,
			Code:     fmt.Sprint(msg.Error.Code),
			Message:  msg.Error.Message,
		}}
		return
	}
	ch <- response{result: msg.Result}
}

func (c *Conn) dispatch(msg wireMessage) {
	c.mu.Lock()
	list := c.handlers[handlerKey{session: msg.SessionID, method: msg.Method}]
	fns := make([]func(json.RawMessage), len(list))
	for i, h := range list {
		fns[i] = h.fn
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(msg.Params)
	}
}

// SessionClient is a CDP client bound to one attached target.
type SessionClient struct {
	conn      *Conn
	sessionID target.SessionID
	targetID  target.ID

	closeOnce sync.Once
	closeErr  error
}

var _ browser.CDPClient = (*SessionClient)(nil)

// SessionID returns the flattened session id.
func (s *SessionClient) SessionID() target.SessionID {
	return s.sessionID
}

// TargetID returns the attached target's id.
func (s *SessionClient) TargetID() target.ID {
	return s.targetID
}

func (s *SessionClient) Send(ctx context.Context, method string, params, result any) error {
	return s.conn.Call(ctx, s.sessionID, method, params, result)
}

func (s *SessionClient) On(event string, fn func(params json.RawMessage)) (off func()) {
	return s.conn.Subscribe(s.sessionID, event, fn)
}

// Close detaches from the target. The browser connection stays open.
func (s *SessionClient) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		params := target.DetachFromTarget().WithSessionID(s.sessionID)
		s.closeErr = s.conn.Call(ctx, "", string(cdproto.CommandTargetDetachFromTarget), params, nil)
	})
	return s.closeErr
}
