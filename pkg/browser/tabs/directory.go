// Package tabs tracks the primary tab of a remote debugging connection.
package tabs

import (
	"context"
	"sync"

	"github.com/odvcencio/foxwire/pkg/browser"
)

//go:generate mockgen -package=tabs -destination=mock_lister_test.go github.com/odvcencio/foxwire/pkg/browser/tabs Lister

// Lister discovers tabs. ListTabs is stateful and may mark earlier tabs detached;
// QueryTabs only reads.
type Lister interface {
	ListTabs(ctx context.Context) ([]*browser.Tab, error)
	QueryTabs(ctx context.Context) ([]browser.TabInfo, error)
}

// Directory remembers the primary tab and rediscovers it when the browser reports a
// different first tab.
type Directory struct {
	lister Lister

	mu      sync.Mutex
	primary *browser.Tab
}

// NewDirectory creates a Directory over lister.
func NewDirectory(lister Lister) *Directory {
	return &Directory{lister: lister}
}

// Primary returns the primary tab. Only the first reported tab's id is compared; a
// change there triggers full rediscovery.
func (d *Directory) Primary(ctx context.Context) (*browser.Tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.primary == nil {
		return d.discover(ctx)
	}

	infos, err := d.lister.QueryTabs(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 || infos[0].ID != d.primary.ID {
		return d.discover(ctx)
	}
	return d.primary, nil
}

// Current returns the recorded primary tab without contacting the browser.
func (d *Directory) Current() *browser.Tab {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.primary
}

// Reset forgets the primary tab.
func (d *Directory) Reset() {
	d.mu.Lock()
	d.primary = nil
	d.mu.Unlock()
}

func (d *Directory) discover(ctx context.Context) (*browser.Tab, error) {
	tabs, err := d.lister.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	if len(tabs) == 0 {
		d.primary = nil
		return nil, browser.ErrNoTabsAvailable
	}
	d.primary = tabs[0]
	return d.primary, nil
}
