package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/serviceworker"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// ResetFunc replaces the browser's page targets with a single blank page.
type ResetFunc func(ctx context.Context) error

var serviceWorkerEvents = []cdproto.MethodType{
	cdproto.EventServiceWorkerWorkerRegistrationUpdated,
	cdproto.EventServiceWorkerWorkerVersionUpdated,
	cdproto.EventServiceWorkerWorkerErrorReported,
}

// Automation bridges a page CDP client to the test runner's automation hooks.
type Automation struct {
	client     browser.CDPClient
	automation browser.Automation
	reset      ResetFunc
	log        *logging.Logger

	mu   sync.Mutex
	offs []func()
}

// NewAutomation enables the domains the runner depends on and starts forwarding
// ServiceWorker events. Domains the browser does not implement are skipped.
func NewAutomation(ctx context.Context, client browser.CDPClient, reset ResetFunc, automation browser.Automation, log *logging.Logger) (*Automation, error) {
	if automation == nil {
		automation = browser.NopAutomation{}
	}
	a := &Automation{
		client:     client,
		automation: automation,
		reset:      reset,
		log:        log.OrDiscard().WithProtocol(protocolName),
	}

	for _, method := range serviceWorkerEvents {
		name := string(method)
		off := client.On(name, func(params json.RawMessage) {
			a.automation.OnServiceWorkerClientEvent(browser.ServiceWorkerEvent{Method: name, Params: params})
		})
		a.offs = append(a.offs, off)
	}

	if err := client.Send(ctx, string(cdproto.CommandServiceWorkerEnable), serviceworker.Enable(), nil); err != nil {
		var perr *browser.ProtocolError
		if !errors.As(err, &perr) {
			a.Close()
			return nil, err
		}
		a.log.Debug("service worker domain unavailable", "error", err)
	}
	return a, nil
}

// ResetTargets delegates to the browser client's reset.
func (a *Automation) ResetTargets(ctx context.Context) error {
	if a.reset == nil {
		return browser.ErrNotImplemented
	}
	return a.reset(ctx)
}

// Client returns the page client the bridge is bound to.
func (a *Automation) Client() browser.CDPClient {
	return a.client
}

// Close stops forwarding events.
func (a *Automation) Close() {
	a.mu.Lock()
	offs := a.offs
	a.offs = nil
	a.mu.Unlock()
	for _, off := range offs {
		off()
	}
}
