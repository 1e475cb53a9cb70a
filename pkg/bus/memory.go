package bus

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// subscriptionBuffer bounds each subscriber's backlog; overflow is dropped.
const subscriptionBuffer = 256

// MemoryBus is an in-process MessageBus.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySubscription
	closed        atomic.Bool
	subCounter    atomic.Uint64
	dropped       atomic.Uint64
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[string][]*memorySubscription),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.deliver(&Message{Subject: subject, Data: data})
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		id:       "sub-" + strconv.FormatUint(b.subCounter.Add(1), 10),
		subject:  subject,
		messages: make(chan *Message, subscriptionBuffer),
		handler:  handler,
		bus:      b,
	}

	b.mu.Lock()
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	inbox := "_INBOX." + ulid.Make().String()
	replies := make(chan []byte, 1)
	sub, err := b.Subscribe(ctx, inbox, func(msg *Message) []byte {
		select {
		case replies <- msg.Data:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if b.deliver(&Message{Subject: subject, Data: data, ReplyTo: inbox}) == 0 {
		return nil, ErrNoResponders
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns how many deliveries were discarded because a subscriber was full.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.messages)
			}
		}
	}
	b.subscriptions = make(map[string][]*memorySubscription)
	return nil
}

// deliver hands msg to every matching live subscriber and returns how many matched.
func (b *MemoryBus) deliver(msg *Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := 0
	for pattern, subs := range b.subscriptions {
		if !matchSubject(pattern, msg.Subject) {
			continue
		}
		for _, sub := range subs {
			if sub.closed.Load() {
				continue
			}
			matched++
			select {
			case sub.messages <- msg:
			default:
				b.dropped.Add(1)
			}
		}
	}
	return matched
}

type memorySubscription struct {
	id       string
	subject  string
	messages chan *Message
	handler  MessageHandler
	bus      *MemoryBus
	closed   atomic.Bool
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}

	subs := s.bus.subscriptions[s.subject]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subscriptions[s.subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(s.bus.subscriptions[s.subject]) == 0 {
		delete(s.bus.subscriptions, s.subject)
	}
	close(s.messages)
	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.messages:
			if !ok {
				return
			}
			reply := s.handler(msg)
			if reply != nil && msg.ReplyTo != "" {
				_ = s.bus.Publish(ctx, msg.ReplyTo, reply)
			}
		case <-ctx.Done():
			return
		}
	}
}

// matchSubject reports whether subject matches pattern. "*" matches exactly one
// token and a trailing ">" matches one or more.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")
	for i, part := range patternParts {
		if part == ">" {
			return i == len(patternParts)-1 && len(subjectParts) > i
		}
		if i >= len(subjectParts) {
			return false
		}
		if part != "*" && part != subjectParts[i] {
			return false
		}
	}
	return len(patternParts) == len(subjectParts)
}
