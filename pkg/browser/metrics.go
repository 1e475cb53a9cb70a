package browser

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/foxwire/pkg/telemetry"
)

var (
	connectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foxwire",
			Subsystem: "connect",
			Name:      "attempts_total",
			Help:      "Total number of protocol endpoint connection attempts",
		},
		[]string{"host"},
	)

	connectExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foxwire",
			Subsystem: "connect",
			Name:      "exhausted_total",
			Help:      "Total number of endpoints abandoned after the retry budget ran out",
		},
		[]string{"host"},
	)

	setupPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "foxwire",
			Subsystem: "setup",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each browser setup phase in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"phase", "result"},
	)

	forcedCollectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "foxwire",
			Subsystem: "memory",
			Name:      "forced_collection_seconds",
			Help:      "Wall clock duration of forced garbage and cycle collections",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"kind"},
	)

	socketEmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foxwire",
			Subsystem: "socket",
			Name:      "emits_total",
			Help:      "Total number of events emitted into the page",
		},
		[]string{"namespace"},
	)

	socketDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foxwire",
			Subsystem: "socket",
			Name:      "dropped_total",
			Help:      "Total number of emitted events that could not be delivered",
		},
		[]string{"namespace"},
	)
)

// ObserveForcedCollection records the duration of a forced collection ("gc" or "cc").
func ObserveForcedCollection(kind string, d time.Duration) {
	forcedCollectionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// CountSocketEmit increments the emit counter for a namespace.
func CountSocketEmit(namespace string) {
	socketEmits.WithLabelValues(namespace).Inc()
}

// CountSocketDrop increments the drop counter for a namespace.
func CountSocketDrop(namespace string) {
	socketDrops.WithLabelValues(namespace).Inc()
}

// Metrics tracks per-session counters and mirrors them onto a telemetry hub.
type Metrics struct {
	PhasesCompleted   atomic.Int64
	PhasesFailed      atomic.Int64
	NavigateCount     atomic.Int64
	ForcedCollections atomic.Int64
	SpecsConnected    atomic.Int64

	mu        sync.RWMutex
	hub       *telemetry.Hub
	sessionID string
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// EnableTelemetry wires the metrics collector to a telemetry hub.
func (m *Metrics) EnableTelemetry(hub *telemetry.Hub, sessionID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.hub = hub
	m.sessionID = sessionID
	m.mu.Unlock()
}

// RecordPhase records the outcome of a setup phase.
func (m *Metrics) RecordPhase(phase string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	eventType := telemetry.EventSetupPhaseCompleted
	if err != nil {
		result = "error"
		eventType = telemetry.EventSetupPhaseFailed
		m.PhasesFailed.Add(1)
	} else {
		m.PhasesCompleted.Add(1)
	}
	setupPhaseDuration.WithLabelValues(phase, result).Observe(latency.Seconds())
	data := map[string]any{
		"phase":      phase,
		"latency_ms": latency.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	m.publishEvent(eventType, data)
}

// RecordNavigate increments the navigation counter.
func (m *Metrics) RecordNavigate(url string, latency time.Duration) {
	if m == nil {
		return
	}
	m.NavigateCount.Add(1)
	m.publishEvent(telemetry.EventNavigate, map[string]any{
		"url":        url,
		"latency_ms": latency.Milliseconds(),
	})
}

// RecordSpecConnected counts a browser reuse for a new spec file.
func (m *Metrics) RecordSpecConnected(url string) {
	if m == nil {
		return
	}
	m.SpecsConnected.Add(1)
	m.publishEvent(telemetry.EventSpecConnected, map[string]any{"url": url})
}

// RecordForcedCollection counts a completed gc+cc pass.
func (m *Metrics) RecordForcedCollection(gc, cc time.Duration) {
	if m == nil {
		return
	}
	m.ForcedCollections.Add(1)
	m.publishEvent(telemetry.EventForcedCollection, map[string]any{
		"gc_ms": gc.Milliseconds(),
		"cc_ms": cc.Milliseconds(),
	})
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		PhasesCompleted:   m.PhasesCompleted.Load(),
		PhasesFailed:      m.PhasesFailed.Load(),
		NavigateCount:     m.NavigateCount.Load(),
		ForcedCollections: m.ForcedCollections.Load(),
		SpecsConnected:    m.SpecsConnected.Load(),
	}
}

func (m *Metrics) publishEvent(eventType telemetry.EventType, data map[string]any) {
	m.mu.RLock()
	hub := m.hub
	sessionID := m.sessionID
	m.mu.RUnlock()
	if hub == nil {
		return
	}
	hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      data,
	})
}

// MetricsSnapshot is a point-in-time copy of session metrics.
type MetricsSnapshot struct {
	PhasesCompleted   int64
	PhasesFailed      int64
	NavigateCount     int64
	ForcedCollections int64
	SpecsConnected    int64
}

// PublishSetupCompleted announces a finished setup on the telemetry hub.
func (m *Metrics) PublishSetupCompleted(state string) {
	if m == nil {
		return
	}
	m.publishEvent(telemetry.EventSetupCompleted, map[string]any{"state": state})
}
