package rdp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/odvcencio/foxwire/pkg/browser"
)

// GarbageCollectionEvent is the packet type the memory actor pushes after each GC.
const GarbageCollectionEvent = "garbage-collection"

// State reported by getState once the memory actor is attached.
const StateAttached = "attached"

type gcPacket struct {
	From string                    `json:"from"`
	Type string                    `json:"type"`
	Data browser.GarbageCollection `json:"data"`
}

type memoryActor struct {
	client *Client
	actor  string

	mu       sync.Mutex
	attached bool
}

var _ browser.MemoryActor = (*memoryActor)(nil)

func newMemoryActor(client *Client, actor string) *memoryActor {
	return &memoryActor{client: client, actor: actor}
}

func (m *memoryActor) IsAttached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached
}

func (m *memoryActor) GetState(ctx context.Context) (string, error) {
	var resp struct {
		State string `json:"state"`
	}
	if err := m.client.Request(ctx, m.actor, "getState", nil, &resp); err != nil {
		return "", err
	}
	if resp.State == StateAttached {
		m.mu.Lock()
		m.attached = true
		m.mu.Unlock()
	}
	return resp.State, nil
}

func (m *memoryActor) Attach(ctx context.Context) error {
	if err := m.client.Request(ctx, m.actor, "attach", nil, nil); err != nil {
		return err
	}
	m.mu.Lock()
	m.attached = true
	m.mu.Unlock()
	return nil
}

func (m *memoryActor) OnGarbageCollection(fn func(browser.GarbageCollection)) {
	m.client.On(m.actor, GarbageCollectionEvent, func(raw json.RawMessage) {
		var pkt gcPacket
		if err := json.Unmarshal(raw, &pkt); err != nil {
			m.client.log.Debug("dropping malformed garbage-collection event", "error", err)
			return
		}
		fn(pkt.Data)
	})
}

func (m *memoryActor) ForceGarbageCollection(ctx context.Context) error {
	return m.client.Request(ctx, m.actor, "forceGarbageCollection", nil, nil)
}

func (m *memoryActor) ForceCycleCollection(ctx context.Context) error {
	return m.client.Request(ctx, m.actor, "forceCycleCollection", nil, nil)
}
