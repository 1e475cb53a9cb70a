package rdp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// DefaultHost is where Firefox binds its debugger listener.
const DefaultHost = "127.0.0.1"

type tabDescriptor struct {
	Actor             string          `json:"actor"`
	BrowsingContextID json.RawMessage `json:"browsingContextID,omitempty"`
	URL               string          `json:"url,omitempty"`
	Title             string          `json:"title,omitempty"`
	MemoryActor       string          `json:"memoryActor,omitempty"`
}

type listTabsReply struct {
	Tabs     []tabDescriptor `json:"tabs"`
	Selected int             `json:"selected,omitempty"`
}

func (d tabDescriptor) info() browser.TabInfo {
	return browser.TabInfo{
		ID:    contextID(d.BrowsingContextID),
		Actor: d.Actor,
		URL:   d.URL,
		Title: d.Title,
	}
}

// contextID normalizes browsingContextID, which Firefox sends as a number.
func contextID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

// Browser is the root actor of a remote debugging connection.
type Browser struct {
	client *Client

	mu   sync.Mutex
	tabs []*browser.Tab
}

// Dial connects to the debugger listener on host:port using the retry schedule and
// waits for the root greeting.
func Dial(ctx context.Context, host string, port int, sched browser.RetrySchedule, log *logging.Logger) (*Browser, error) {
	if host == "" {
		host = DefaultHost
	}
	conn, err := browser.Connect(ctx, host, port, sched)
	if err != nil {
		return nil, err
	}
	client := NewClient(conn, log)
	if _, err := client.WaitGreeting(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rdp greeting from %s: %w", conn.RemoteAddr(), err)
	}
	return &Browser{client: client}, nil
}

// NewBrowser wraps an established client.
func NewBrowser(client *Client) *Browser {
	return &Browser{client: client}
}

// ListTabs runs full discovery. Tabs returned by earlier calls are marked detached and
// replaced; memory actors start detached.
func (b *Browser) ListTabs(ctx context.Context) ([]*browser.Tab, error) {
	var resp listTabsReply
	if err := b.client.Request(ctx, RootActor, "listTabs", nil, &resp); err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}

	tabs := make([]*browser.Tab, 0, len(resp.Tabs))
	for _, d := range resp.Tabs {
		tab := &browser.Tab{TabInfo: d.info()}
		if d.MemoryActor != "" {
			tab.Memory = newMemoryActor(b.client, d.MemoryActor)
		}
		tabs = append(tabs, tab)
	}

	b.mu.Lock()
	for _, old := range b.tabs {
		old.Attached = false
	}
	b.tabs = tabs
	b.mu.Unlock()

	return tabs, nil
}

// QueryTabs issues a raw listTabs request without touching discovered tab state.
func (b *Browser) QueryTabs(ctx context.Context) ([]browser.TabInfo, error) {
	var resp listTabsReply
	if err := b.client.Request(ctx, RootActor, "listTabs", nil, &resp); err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}
	infos := make([]browser.TabInfo, 0, len(resp.Tabs))
	for _, d := range resp.Tabs {
		infos = append(infos, d.info())
	}
	return infos, nil
}

// Tabs returns the tabs found by the last ListTabs call.
func (b *Browser) Tabs() []*browser.Tab {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*browser.Tab(nil), b.tabs...)
}

// OnError registers a listener for connection errors.
func (b *Browser) OnError(fn func(error)) {
	b.client.OnError(fn)
}

// Close closes the connection.
func (b *Browser) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
