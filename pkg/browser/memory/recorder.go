package memory

//go:generate mockgen -package=memory -destination=mock_memory_actor_test.go github.com/odvcencio/foxwire/pkg/browser MemoryActor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// StateAttached is the memory actor state reported once instrumentation is live.
const StateAttached = "attached"

// Recorder attaches to tab memory actors and records forced collections into an
// Accumulator.
type Recorder struct {
	acc *Accumulator
	log *logging.Logger
	now func() time.Time

	mu         sync.Mutex
	subscribed map[browser.MemoryActor]struct{}
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces the wall clock used to time forced collections.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a Recorder with an empty Accumulator.
func NewRecorder(log *logging.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		acc:        NewAccumulator(),
		log:        log.OrDiscard(),
		now:        time.Now,
		subscribed: make(map[browser.MemoryActor]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Accumulator exposes the underlying sample store.
func (r *Recorder) Accumulator() *Accumulator {
	return r.acc
}

// Attach turns on memory instrumentation for tab. It does nothing when the tab has no
// memory actor or the actor is already attached.
func (r *Recorder) Attach(ctx context.Context, tab *browser.Tab) error {
	if tab == nil || tab.Memory == nil {
		return nil
	}
	mem := tab.Memory
	if mem.IsAttached() {
		return nil
	}
	state, err := mem.GetState(ctx)
	if err != nil {
		return fmt.Errorf("memory state for tab %s: %w", tab.ID, err)
	}
	if state == StateAttached {
		return nil
	}

	r.mu.Lock()
	_, seen := r.subscribed[mem]
	r.subscribed[mem] = struct{}{}
	r.mu.Unlock()
	if !seen {
		mem.OnGarbageCollection(func(gc browser.GarbageCollection) {
			gc = r.acc.AddCollection(gc)
			r.log.Debug("garbage collection observed", "num", gc.Num, "reason", gc.Reason)
		})
	}

	if err := mem.Attach(ctx); err != nil {
		return fmt.Errorf("attach memory actor for tab %s: %w", tab.ID, err)
	}
	return nil
}

// ForceCollect runs a forced garbage collection followed by a forced cycle collection
// and records how long each took. Tabs without a memory actor are skipped.
func (r *Recorder) ForceCollect(ctx context.Context, tab *browser.Tab) (gc, cc time.Duration, err error) {
	if tab == nil || tab.Memory == nil {
		return 0, 0, nil
	}
	mem := tab.Memory

	start := r.now()
	if err := mem.ForceGarbageCollection(ctx); err != nil {
		return 0, 0, fmt.Errorf("force garbage collection: %w", err)
	}
	gc = r.now().Sub(start)
	r.acc.AddGC(gc)
	browser.ObserveForcedCollection("gc", gc)

	start = r.now()
	if err := mem.ForceCycleCollection(ctx); err != nil {
		return gc, 0, fmt.Errorf("force cycle collection: %w", err)
	}
	cc = r.now().Sub(start)
	r.acc.AddCC(cc)
	browser.ObserveForcedCollection("cc", cc)

	r.log.Debug("forced collection", "gc_ms", gc.Milliseconds(), "cc_ms", cc.Milliseconds())
	return gc, cc, nil
}

// Summarize reports and clears everything recorded so far.
func (r *Recorder) Summarize() Report {
	return r.acc.Summarize()
}

// Reset clears recorded samples and forgets subscriptions.
func (r *Recorder) Reset() {
	r.acc.Reset()
	r.mu.Lock()
	r.subscribed = make(map[browser.MemoryActor]struct{})
	r.mu.Unlock()
}
