// Package bus carries socket events between a browser session and other processes.
// NATSBus is the networked implementation; MemoryBus serves single-process runs and
// tests.
package bus

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when no subscribers are available to handle a request.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is safe for concurrent use.
type MessageBus interface {
	// Publish sends data to every subscriber of subject without waiting for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers handler for subject. "*" matches one token and ">" matches
	// the remaining tokens.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request publishes data and waits for the first reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	Close() error
}

// MessageHandler processes a message. Returned data is sent to msg.ReplyTo when set.
type MessageHandler func(msg *Message) []byte

// Message is an incoming message.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config holds connection settings for NewNATSBus.
type Config struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string
	// Token authenticates against servers started with --auth.
	Token string
	// Name identifies the client in server monitoring.
	Name string
	// Timeout bounds connection and request waits.
	Timeout time.Duration
}

// DefaultConfig returns a Config for a local server.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://127.0.0.1:4222",
		Name:    "foxwire",
		Timeout: 10 * time.Second,
	}
}

// Subject appends tokens to prefix. The prefix is used as is; each token is
// sanitized.
func Subject(prefix string, tokens ...string) string {
	clean := make([]string, 0, len(tokens)+1)
	if prefix != "" {
		clean = append(clean, prefix)
	}
	for _, tok := range tokens {
		clean = append(clean, SanitizeToken(tok))
	}
	return strings.Join(clean, ".")
}

// SanitizeToken replaces characters that are not valid inside a subject token.
func SanitizeToken(tok string) string {
	if tok == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, tok)
}
