package browser

import (
	"context"
	"encoding/json"
)

// CDPClient is a CDP connection scoped to one target session.
type CDPClient interface {
	Send(ctx context.Context, method string, params, result any) error
	// On registers handler for event and returns a func that removes it.
	On(event string, handler func(params json.RawMessage)) (off func())
	Close() error
}

// Automation receives browser lifecycle events. It is owned by the test runner and
// passed through untouched.
type Automation interface {
	OnServiceWorkerClientEvent(event ServiceWorkerEvent)
	OnAsynchronousError(err error)
}

// DiagnosticSink accepts structured diagnostic records keyed by a namespaced string.
type DiagnosticSink interface {
	Record(key string, payload any)
}

// NopAutomation ignores every event.
type NopAutomation struct{}

func (NopAutomation) OnServiceWorkerClientEvent(ServiceWorkerEvent) {}
func (NopAutomation) OnAsynchronousError(error)                     {}

// NopSink drops every record.
type NopSink struct{}

func (NopSink) Record(string, any) {}
