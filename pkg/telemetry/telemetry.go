package telemetry

import (
	"sync"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventSetupPhaseCompleted EventType = "setup.phase_completed"
	EventSetupPhaseFailed    EventType = "setup.phase_failed"
	EventSetupCompleted      EventType = "setup.completed"
	EventNavigate            EventType = "browser.navigate"
	EventSpecConnected       EventType = "browser.spec_connected"
	EventForcedCollection    EventType = "memory.forced_collection"
	EventDiagnostic          EventType = "diagnostic.record"
)

// Event describes session telemetry that in-process consumers can subscribe to.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fan-outs telemetry events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if buffer full.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, 64)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}

// HubSink publishes diagnostic records onto a hub as EventDiagnostic events.
type HubSink struct {
	Hub       *Hub
	SessionID string
}

// Record implements browser.DiagnosticSink.
func (s HubSink) Record(key string, payload any) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(Event{
		Type:      EventDiagnostic,
		SessionID: s.SessionID,
		Data: map[string]any{
			"key":     key,
			"payload": payload,
		},
	})
}
