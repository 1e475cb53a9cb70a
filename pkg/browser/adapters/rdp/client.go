// Package rdp is a client for the Firefox remote debugging protocol: actor
// addressed JSON packets over a single TCP connection.
package rdp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/browser/adapters/wire"
	"github.com/odvcencio/foxwire/pkg/logging"
)

const protocolName = "rdp"

// RootActor is the well-known actor every connection starts with.
const RootActor = "root"

// notifications are packet types the server sends unprompted. They are never
// replies, even when no listener is registered for them.
var notifications = map[string]bool{
	"tabListChanged":                       true,
	"tabNavigated":                         true,
	"tabDetached":                          true,
	"addonListChanged":                     true,
	"workerListChanged":                    true,
	"serviceWorkerRegistrationListChanged": true,
	"processListChanged":                   true,
	"frameUpdate":                          true,
	"newSource":                            true,
	"forwardingCancelled":                  true,
	"garbage-collection":                   true,
	"allocations":                          true,
}

type packetHeader struct {
	From    string `json:"from"`
	Type    string `json:"type,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type reply struct {
	raw json.RawMessage
	err error
}

type listener struct {
	id int
	fn func(json.RawMessage)
}

// Client multiplexes requests and events over one connection. Replies are matched
// to requests in FIFO order per actor, which is what the protocol guarantees.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	log    *logging.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string][]chan reply
	listeners  map[string]map[string][]listener
	onError    []func(error)
	nextID     int
	closed     bool
	readErr    error
	greeting   chan json.RawMessage
	done       chan struct{}
	closeOnce  sync.Once
	closeError error
}

// NewClient starts reading from conn. The caller must not use conn afterwards.
func NewClient(conn net.Conn, log *logging.Logger) *Client {
	c := &Client{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		log:       log.OrDiscard().WithProtocol(protocolName),
		pending:   make(map[string][]chan reply),
		listeners: make(map[string]map[string][]listener),
		greeting:  make(chan json.RawMessage, 1),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// WaitGreeting blocks until the root actor's hello packet arrives.
func (c *Client) WaitGreeting(ctx context.Context) (json.RawMessage, error) {
	select {
	case raw := <-c.greeting:
		return raw, nil
	case <-c.done:
		return nil, c.lostErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Request sends a packet of the given type to actor and decodes the reply into result.
// result may be nil.
func (c *Client) Request(ctx context.Context, actor, typ string, params map[string]any, result any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	packet := make(map[string]any, len(params)+2)
	for k, v := range params {
		packet[k] = v
	}
	packet["to"] = actor
	packet["type"] = typ

	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.lostErr()
	}
	// enqueue and write under the same ordering so FIFO matching holds
	c.writeMu.Lock()
	c.pending[actor] = append(c.pending[actor], ch)
	c.mu.Unlock()
	err := wire.WriteJSON(c.conn, packet)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(actor, ch)
		return fmt.Errorf("rdp %s %s: %w", actor, typ, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(r.raw, result); err != nil {
			return fmt.Errorf("rdp %s %s: decode reply: %w", actor, typ, err)
		}
		return nil
	case <-ctx.Done():
		// the slot stays queued so the late reply is consumed in order
		return ctx.Err()
	}
}

// On registers fn for packets of type typ sent from actor. The returned func removes it.
// Handlers run on the read goroutine and must not issue requests.
func (c *Client) On(actor, typ string, fn func(json.RawMessage)) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	byType, ok := c.listeners[actor]
	if !ok {
		byType = make(map[string][]listener)
		c.listeners[actor] = byType
	}
	byType[typ] = append(byType[typ], listener{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.listeners[actor][typ]
		for i, l := range list {
			if l.id == id {
				c.listeners[actor][typ] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// OnError registers fn for channel errors: read failures and unsolicited error packets.
func (c *Client) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down and fails outstanding requests.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closeError = c.conn.Close()
		<-c.done
	})
	return c.closeError
}

func (c *Client) readLoop() {
	var err error
	for {
		var data []byte
		data, err = wire.ReadPacket(c.reader)
		if err != nil {
			break
		}
		c.dispatch(data)
	}

	c.mu.Lock()
	closing := c.closed
	c.closed = true
	c.readErr = err
	pending := c.pending
	c.pending = make(map[string][]chan reply)
	handlers := append([]func(error){}, c.onError...)
	c.mu.Unlock()

	lost := c.lostErr()
	for _, queue := range pending {
		for _, ch := range queue {
			ch <- reply{err: lost}
		}
	}
	close(c.done)
	if closing || errors.Is(err, net.ErrClosed) {
		return
	}
	if errors.Is(err, io.EOF) {
		err = browser.ErrConnectionLost
	}
	for _, fn := range handlers {
		fn(err)
	}
}

func (c *Client) dispatch(data []byte) {
	var hdr packetHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		c.log.Debug("dropping malformed packet", "error", err)
		return
	}
	raw := json.RawMessage(data)

	c.mu.Lock()
	if hdr.Type != "" {
		if list := c.listeners[hdr.From][hdr.Type]; len(list) > 0 {
			fns := make([]func(json.RawMessage), len(list))
			for i, l := range list {
				fns[i] = l.fn
			}
			c.mu.Unlock()
			for _, fn := range fns {
				fn(raw)
			}
			return
		}
		if notifications[hdr.Type] {
			c.mu.Unlock()
			c.log.Debug("dropping notification", "from", hdr.From, "type", hdr.Type)
			return
		}
	}
	if queue := c.pending[hdr.From]; len(queue) > 0 {
		ch := queue[0]
		c.pending[hdr.From] = queue[1:]
		c.mu.Unlock()
		if hdr.Error != "" {
			ch <- reply{err: &browser.ProtocolError{Protocol: protocolName, Code: hdr.Error, Message: hdr.Message}}
			return
		}
		ch <- reply{raw: raw}
		return
	}
	handlers := append([]func(error){}, c.onError...)
	c.mu.Unlock()

	if hdr.From == RootActor && hdr.Error == "" {
		select {
		case c.greeting <- raw:
		default:
		}
		return
	}
	if hdr.Error != "" {
		perr := &browser.ProtocolError{Protocol: protocolName, Code: hdr.Error, Message: hdr.Message}
		for _, fn := range handlers {
			fn(perr)
		}
		return
	}
	c.log.Debug("dropping unsolicited packet", "from", hdr.From, "type", hdr.Type)
}

func (c *Client) dropPending(actor string, ch chan reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.pending[actor]
	for i, q := range queue {
		if q == ch {
			c.pending[actor] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}

func (c *Client) lostErr() error {
	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return browser.ErrConnectionLost
	}
	return fmt.Errorf("%w: %v", browser.ErrConnectionLost, err)
}
