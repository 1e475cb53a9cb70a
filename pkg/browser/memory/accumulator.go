// Package memory records forced garbage collection timings and the collections the
// browser reports, and reduces them into summary reports.
package memory

import (
	"sync"
	"time"

	"github.com/odvcencio/foxwire/pkg/browser"
)

// Accumulator holds the raw sequences between reports. Safe for concurrent use.
type Accumulator struct {
	mu          sync.Mutex
	gc          []float64
	cc          []float64
	collections []browser.GarbageCollection
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// AddGC records a forced garbage collection duration.
func (a *Accumulator) AddGC(d time.Duration) {
	a.mu.Lock()
	a.gc = append(a.gc, milliseconds(d))
	a.mu.Unlock()
}

// AddCC records a forced cycle collection duration.
func (a *Accumulator) AddCC(d time.Duration) {
	a.mu.Lock()
	a.cc = append(a.cc, milliseconds(d))
	a.mu.Unlock()
}

// AddCollection ingests a collection event and assigns its ordinal.
func (a *Accumulator) AddCollection(gc browser.GarbageCollection) browser.GarbageCollection {
	a.mu.Lock()
	defer a.mu.Unlock()
	gc.Num = len(a.collections) + 1
	gc.Collections = append([]browser.CollectionSpan(nil), gc.Collections...)
	a.collections = append(a.collections, gc)
	return gc
}

// Len returns the number of gc, cc and collection entries currently held.
func (a *Accumulator) Len() (gc, cc, collections int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.gc), len(a.cc), len(a.collections)
}

// Summarize reduces the sequences into a Report and clears them in the same critical
// section, so no sample is counted twice or lost between reports.
func (a *Accumulator) Summarize() Report {
	a.mu.Lock()
	gc, cc, collections := a.gc, a.cc, a.collections
	a.gc, a.cc, a.collections = nil, nil, nil
	a.mu.Unlock()
	return buildReport(gc, cc, collections)
}

// Reset drops everything without reporting.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.gc, a.cc, a.collections = nil, nil, nil
	a.mu.Unlock()
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
