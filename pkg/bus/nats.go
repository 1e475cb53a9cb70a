package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus implements MessageBus on a NATS connection.
type NATSBus struct {
	conn   *nats.Conn
	config Config
	closed atomic.Bool
}

// NewNATSBus connects to cfg.URL. Reconnects are unlimited.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	defaults := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBus{conn: conn, config: cfg}, nil
}

// NewNATSBusFromConn wraps an existing connection.
func NewNATSBusFromConn(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn, config: DefaultConfig()}
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		reply := handler(&Message{
			Subject: msg.Subject,
			Data:    msg.Data,
			ReplyTo: msg.Reply,
		})
		if reply != nil && msg.Reply != "" {
			_ = msg.Respond(reply)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := b.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, ErrNoResponders
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, ErrTimeout
		}
		return nil, err
	}
	return msg.Data, nil
}

func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	return nil
}

// Conn returns the underlying connection.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Subject() string {
	return s.sub.Subject
}
