// Package cdpsocket implements an event socket between the server and page script
// on top of CDP: outbound events are evaluated in the page, inbound events arrive
// through a Runtime binding.
package cdpsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// Page contract defaults.
const (
	DefaultNamespace     = "default"
	DefaultBindingPrefix = "cypressSendToServer"
	DefaultGlobalPrefix  = "cypressSocket"
	DefaultQueueSize     = 256
)

// ErrQueueFull is reported to drop hooks when the outbound queue overflows.
var ErrQueueFull = errors.New("socket outbound queue full")

// AckFunc receives the page's acknowledgement of an emitted event. Pass one as the
// last argument to Emit.
type AckFunc func(args ...json.RawMessage)

// Ack answers an inbound event. Its arguments are sent back to the page.
type Ack func(args ...any)

// Handler handles one inbound event.
type Handler func(args []json.RawMessage, ack Ack)

// AnyHandler handles every inbound event that is not an acknowledgement. ack is nil
// when the page did not ask for one.
type AnyHandler func(event string, args []json.RawMessage, ack Ack)

// Options configure sockets.
type Options struct {
	BindingPrefix string
	GlobalPrefix  string
	QueueSize     int
	Logger        *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.BindingPrefix == "" {
		o.BindingPrefix = DefaultBindingPrefix
	}
	if o.GlobalPrefix == "" {
		o.GlobalPrefix = DefaultGlobalPrefix
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

type inboundPayload struct {
	Event         string            `json:"event"`
	CallbackEvent string            `json:"callbackEvent"`
	Args          []json.RawMessage `json:"args"`
}

type handlerEntry struct {
	id int
	fn Handler
}

type outboundEval struct {
	event         string
	callbackEvent string
	expression    string
}

// Socket is one namespace bound to one CDP client.
type Socket struct {
	client    browser.CDPClient
	namespace string
	binding   string
	global    string
	log       *logging.Logger
	start     time.Time

	outbound chan outboundEval
	inbound  chan inboundPayload
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	off      func()

	mu          sync.Mutex
	nextID      int
	lastStamp   int64
	handlers    map[string][]handlerEntry
	anyHandlers []handlerEntryAny
	pending     map[string]AckFunc
	onDrop      []func(event string, err error)
	closed      bool

	dropped atomic.Uint64
}

type handlerEntryAny struct {
	id int
	fn AnyHandler
}

// Init enables the Runtime domain, installs the namespace binding and starts
// listening for calls to it.
func Init(ctx context.Context, client browser.CDPClient, namespace string, opts Options) (*Socket, error) {
	opts = opts.withDefaults()
	if namespace == "" {
		namespace = DefaultNamespace
	}
	binding := opts.BindingPrefix + "-" + namespace

	if err := client.Send(ctx, string(cdproto.CommandRuntimeEnable), runtime.Enable(), nil); err != nil {
		return nil, fmt.Errorf("socket %s: enable runtime: %w", namespace, err)
	}
	if err := client.Send(ctx, string(cdproto.CommandRuntimeAddBinding), runtime.AddBinding(binding), nil); err != nil {
		return nil, fmt.Errorf("socket %s: add binding: %w", namespace, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		client:    client,
		namespace: namespace,
		binding:   binding,
		global:    opts.GlobalPrefix + "-" + namespace,
		log:       opts.Logger.OrDiscard().WithNamespace(namespace),
		start:     time.Now(),
		outbound:  make(chan outboundEval, opts.QueueSize),
		inbound:   make(chan inboundPayload, opts.QueueSize),
		ctx:       sctx,
		cancel:    cancel,
		handlers:  make(map[string][]handlerEntry),
		pending:   make(map[string]AckFunc),
	}
	s.off = client.On(string(cdproto.EventRuntimeBindingCalled), s.onBindingCalled)

	s.wg.Add(2)
	go s.writeLoop()
	go s.readLoop()
	return s, nil
}

// Namespace returns the socket's namespace.
func (s *Socket) Namespace() string {
	return s.namespace
}

// Join is accepted for API compatibility; rooms are not supported.
func (s *Socket) Join(room string) {}

// Emit sends event to the page. When the last argument is an AckFunc it is called
// once with the page's acknowledgement. Delivery is best effort: Emit never blocks,
// and failures are counted by Dropped.
func (s *Socket) Emit(event string, args ...any) bool {
	var ack AckFunc
	if n := len(args); n > 0 {
		switch fn := args[n-1].(type) {
		case AckFunc:
			ack, args = fn, args[:n-1]
		case func(...json.RawMessage):
			ack, args = fn, args[:n-1]
		}
	}
	if args == nil {
		args = []any{}
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		s.drop(event, "", fmt.Errorf("encode arguments: %w", err))
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.drop(event, "", browser.ErrSessionClosed)
		return false
	}
	callbackEvent := s.callbackEventLocked(event)
	if ack != nil {
		s.pending[callbackEvent] = ack
	}
	s.mu.Unlock()

	msg := outboundEval{
		event:         event,
		callbackEvent: callbackEvent,
		expression:    s.expression(event, callbackEvent, string(encoded)),
	}
	select {
	case s.outbound <- msg:
		browser.CountSocketEmit(s.namespace)
		return true
	default:
		s.drop(event, callbackEvent, ErrQueueFull)
		return false
	}
}

// On registers fn for event. The returned func removes it.
func (s *Socket) On(event string, fn Handler) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.handlers[event] = append(s.handlers[event], handlerEntry{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.handlers[event]
		for i, h := range list {
			if h.id == id {
				s.handlers[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// OnAny registers fn for every inbound event.
func (s *Socket) OnAny(fn AnyHandler) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.anyHandlers = append(s.anyHandlers, handlerEntryAny{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, h := range s.anyHandlers {
			if h.id == id {
				s.anyHandlers = append(s.anyHandlers[:i:i], s.anyHandlers[i+1:]...)
				return
			}
		}
	}
}

// OnDrop registers fn for events that could not be delivered.
func (s *Socket) OnDrop(fn func(event string, err error)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onDrop = append(s.onDrop, fn)
	s.mu.Unlock()
}

// Dropped returns how many emits were not delivered.
func (s *Socket) Dropped() uint64 {
	return s.dropped.Load()
}

// Pending returns how many acknowledgements are outstanding.
func (s *Socket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops the socket. Queued emits are discarded; the CDP client stays open.
// It must not be called from a handler.
func (s *Socket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = make(map[string]AckFunc)
	s.mu.Unlock()

	if s.off != nil {
		s.off()
	}
	s.cancel()
	s.wg.Wait()
}

// callbackEventLocked returns "<event>-<ms since start>" with microsecond precision.
// Stamps strictly increase within a socket. s.mu must be held.
func (s *Socket) callbackEventLocked(event string) string {
	stamp := time.Since(s.start).Microseconds()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return fmt.Sprintf("%s-%d.%03d", event, stamp/1000, stamp%1000)
}

func (s *Socket) expression(event, callbackEvent, args string) string {
	target := "window['" + escapeJS(s.global) + "']"
	var b strings.Builder
	b.WriteString("if (")
	b.WriteString(target)
	b.WriteString(" && ")
	b.WriteString(target)
	b.WriteString(".send) {\n  ")
	b.WriteString(target)
	b.WriteString(".send('")
	b.WriteString(escapeJS(event))
	b.WriteString("','")
	b.WriteString(escapeJS(callbackEvent))
	b.WriteString("','")
	b.WriteString(escapeJS(args))
	b.WriteString("')\n}")
	return b.String()
}

var jsEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
)

// escapeJS makes s safe inside a single-quoted JavaScript string literal.
func escapeJS(s string) string {
	return jsEscaper.Replace(s)
}

func (s *Socket) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.outbound:
			err := s.client.Send(s.ctx, string(cdproto.CommandRuntimeEvaluate), runtime.Evaluate(msg.expression), nil)
			if err != nil && s.ctx.Err() == nil {
				s.drop(msg.event, msg.callbackEvent, err)
			}
		}
	}
}

func (s *Socket) onBindingCalled(params json.RawMessage) {
	var ev runtime.EventBindingCalled
	if err := json.Unmarshal(params, &ev); err != nil {
		s.log.Debug("dropping malformed binding event", "error", err)
		return
	}
	if ev.Name != s.binding {
		return
	}
	var payload inboundPayload
	if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
		s.log.Debug("dropping malformed socket payload", "error", err)
		return
	}
	if payload.Event == "" {
		return
	}
	select {
	case s.inbound <- payload:
	case <-s.ctx.Done():
	default:
		s.log.Warn("inbound socket queue full, dropping event", "event", payload.Event)
	}
}

// readLoop runs handlers off the CDP read goroutine so they may emit freely.
func (s *Socket) readLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case payload := <-s.inbound:
			s.dispatch(payload)
		}
	}
}

func (s *Socket) dispatch(payload inboundPayload) {
	s.mu.Lock()
	ack, isAck := s.pending[payload.Event]
	if isAck {
		delete(s.pending, payload.Event)
	}
	var fns []Handler
	var anyFns []AnyHandler
	if !isAck {
		for _, h := range s.handlers[payload.Event] {
			fns = append(fns, h.fn)
		}
		for _, h := range s.anyHandlers {
			anyFns = append(anyFns, h.fn)
		}
	}
	s.mu.Unlock()

	if isAck {
		ack(payload.Args...)
		return
	}

	reply := s.replyFor(payload.CallbackEvent)
	handlerReply := reply
	if handlerReply == nil {
		handlerReply = func(...any) {}
	}
	for _, fn := range fns {
		fn(payload.Args, handlerReply)
	}
	for _, fn := range anyFns {
		fn(payload.Event, payload.Args, reply)
	}
	if len(fns) == 0 && len(anyFns) == 0 {
		s.log.Debug("no handler for socket event", "event", payload.Event)
	}
}

// replyFor returns an Ack that emits callbackEvent once, or nil when the page did not
// ask for one.
func (s *Socket) replyFor(callbackEvent string) Ack {
	if callbackEvent == "" {
		return nil
	}
	var once sync.Once
	return func(args ...any) {
		once.Do(func() {
			s.Emit(callbackEvent, args...)
		})
	}
}

func (s *Socket) drop(event, callbackEvent string, err error) {
	s.dropped.Add(1)
	browser.CountSocketDrop(s.namespace)

	s.mu.Lock()
	if callbackEvent != "" {
		delete(s.pending, callbackEvent)
	}
	hooks := append([]func(string, error){}, s.onDrop...)
	s.mu.Unlock()

	s.log.Debug("socket event dropped", "event", event, "error", err)
	for _, fn := range hooks {
		fn(event, err)
	}
}

// String implements fmt.Stringer.
func (s *Socket) String() string {
	return "cdpsocket(" + s.namespace + ", " + strconv.Quote(s.binding) + ")"
}
