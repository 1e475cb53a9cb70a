package browser

import (
	"context"
	"encoding/json"
)

// TabInfo is the side-effect-free view of a tab as reported by the RDP root actor.
type TabInfo struct {
	// ID is the browsingContextID; it may be empty for very old descriptors.
	ID    string `json:"id"`
	Actor string `json:"actor"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Tab is a discovered tab. Memory is nil when the browser did not expose a memory
// actor for it.
type Tab struct {
	TabInfo
	Attached bool
	Memory   MemoryActor
}

// CollectionSpan is one sub-collection inside a garbage collection event. Timestamps
// are high resolution milliseconds as reported by the browser.
type CollectionSpan struct {
	StartTimestamp float64 `json:"startTimestamp"`
	EndTimestamp   float64 `json:"endTimestamp"`
}

// GarbageCollection is a collection observed through the memory actor. Num is assigned
// when the event is ingested, not when the browser ran the collection.
type GarbageCollection struct {
	Num                  int              `json:"num"`
	Reason               string           `json:"reason,omitempty"`
	NonincrementalReason string           `json:"nonincrementalReason,omitempty"`
	GCCycleNumber        int              `json:"gcCycleNumber,omitempty"`
	Collections          []CollectionSpan `json:"collections"`
}

// MemoryActor is the memory instrumentation surface of a tab.
type MemoryActor interface {
	IsAttached() bool
	GetState(ctx context.Context) (string, error)
	Attach(ctx context.Context) error
	OnGarbageCollection(fn func(GarbageCollection))
	ForceGarbageCollection(ctx context.Context) error
	ForceCycleCollection(ctx context.Context) error
}

// ServiceWorkerEvent is a raw ServiceWorker domain event forwarded to automation.
type ServiceWorkerEvent struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}
