package cdpsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/foxwire/pkg/bus"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// EmitToken is the last subject token the relay listens on for outbound events.
const EmitToken = "emit"

// DefaultAckTimeout bounds how long an inbound event waits for a bus reply.
const DefaultAckTimeout = 10 * time.Second

// Envelope is the bus encoding of a socket event.
type Envelope struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
}

// Relay bridges one namespace to a message bus. Page events are published to
// <prefix>.<namespace>.<event>; envelopes received on <prefix>.<namespace>.emit are
// emitted into the page. Page events that expect an acknowledgement are sent as
// requests and the reply, a JSON array, is passed back as the ack arguments.
type Relay struct {
	bus        bus.MessageBus
	server     *Server
	prefix     string
	ackTimeout time.Duration
	log        *logging.Logger

	mu      sync.Mutex
	ctx     context.Context
	sub     bus.Subscription
	offConn func()
	offAny  func()
}

// NewRelay creates a relay for server's namespace.
func NewRelay(b bus.MessageBus, server *Server, prefix string, log *logging.Logger) *Relay {
	return &Relay{
		bus:        b,
		server:     server,
		prefix:     prefix,
		ackTimeout: DefaultAckTimeout,
		log:        log.OrDiscard().WithNamespace(server.Namespace()),
	}
}

// SetAckTimeout changes how long acknowledgements wait for a reply.
func (r *Relay) SetAckTimeout(d time.Duration) {
	if d > 0 {
		r.ackTimeout = d
	}
}

// EmitSubject is where envelopes for the page are expected.
func (r *Relay) EmitSubject() string {
	return bus.Subject(r.prefix, r.server.Namespace(), EmitToken)
}

// EventSubject is where page events named event are published.
func (r *Relay) EventSubject(event string) string {
	return bus.Subject(r.prefix, r.server.Namespace(), event)
}

// Start subscribes to the emit subject and forwards page events from the current
// and every future socket.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return errors.New("relay already started")
	}
	sub, err := r.bus.Subscribe(ctx, r.EmitSubject(), r.handleEmit)
	if err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.ctx = ctx
	r.sub = sub
	r.offConn = r.server.OnConnection(r.watch)
	if socket := r.server.Socket(); socket != nil {
		r.offAny = socket.OnAny(r.forward)
	}
	return nil
}

// Stop removes the subscription and the socket hooks.
func (r *Relay) Stop() error {
	r.mu.Lock()
	sub, offConn, offAny := r.sub, r.offConn, r.offAny
	r.sub, r.offConn, r.offAny = nil, nil, nil
	r.mu.Unlock()

	if offConn != nil {
		offConn()
	}
	if offAny != nil {
		offAny()
	}
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (r *Relay) watch(socket *Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offAny != nil {
		r.offAny()
	}
	r.offAny = socket.OnAny(r.forward)
}

func (r *Relay) handleEmit(msg *bus.Message) []byte {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.Event == "" {
		r.log.Debug("dropping malformed relay envelope", "subject", msg.Subject)
		return nil
	}
	args := make([]any, 0, len(env.Args))
	for _, a := range env.Args {
		args = append(args, a)
	}
	r.server.Emit(env.Event, args...)
	return nil
}

func (r *Relay) forward(event string, args []json.RawMessage, ack Ack) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if args == nil {
		args = []json.RawMessage{}
	}
	data, err := json.Marshal(Envelope{Event: event, Args: args})
	if err != nil {
		r.log.Debug("encode relay envelope failed", "event", event, "error", err)
		return
	}
	subject := r.EventSubject(event)

	if ack == nil {
		if err := r.bus.Publish(ctx, subject, data); err != nil {
			r.log.Warn("relay publish failed", "subject", subject, "error", err)
		}
		return
	}
	go func() {
		reply, err := r.bus.Request(ctx, subject, data, r.ackTimeout)
		if errors.Is(err, bus.ErrNoResponders) {
			return
		}
		if err != nil {
			r.log.Warn("relay request failed", "subject", subject, "error", err)
			return
		}
		var replyArgs []json.RawMessage
		if err := json.Unmarshal(reply, &replyArgs); err != nil {
			replyArgs = []json.RawMessage{json.RawMessage(reply)}
		}
		out := make([]any, 0, len(replyArgs))
		for _, a := range replyArgs {
			out = append(out, a)
		}
		ack(out...)
	}()
}
