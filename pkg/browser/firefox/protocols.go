package firefox

//go:generate mockgen -package=firefox -destination=mock_marionette_test.go github.com/odvcencio/foxwire/pkg/browser/firefox MarionetteDriver

import (
	"context"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/browser/adapters/bidi"
	"github.com/odvcencio/foxwire/pkg/browser/adapters/cdp"
	"github.com/odvcencio/foxwire/pkg/browser/adapters/marionette"
	"github.com/odvcencio/foxwire/pkg/browser/adapters/rdp"
	"github.com/odvcencio/foxwire/pkg/browser/tabs"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// BiDiSession is the WebDriver BiDi surface used during setup.
type BiDiSession interface {
	NewSession(ctx context.Context) (bidi.SessionInfo, error)
	Close() error
}

// TabSource is the remote debugging surface: tab discovery plus channel errors.
type TabSource interface {
	tabs.Lister
	OnError(fn func(error))
	Close() error
}

// MarionetteDriver is the Marionette command surface.
type MarionetteDriver interface {
	NewSession(ctx context.Context, capabilities map[string]any) error
	InstallAddon(ctx context.Context, path string) (string, error)
	WindowHandles(ctx context.Context) ([]string, error)
	SwitchToWindow(ctx context.Context, handle string) error
	Navigate(ctx context.Context, url string) error
	Close() error
}

// CDPBrowser is the browser-level CDP connection.
type CDPBrowser interface {
	AttachToTargetURL(ctx context.Context, url string) (browser.CDPClient, error)
	CloseCurrentTarget() error
	ResetTargets(ctx context.Context) error
	Close() error
}

// AutomationBridge binds a page client to the runner's automation hooks.
type AutomationBridge interface {
	Client() browser.CDPClient
	ResetTargets(ctx context.Context) error
	Close()
}

// CDPDialOptions are passed to Protocols.DialCDP.
type CDPDialOptions struct {
	Port       int
	Hosts      []string
	Automation browser.Automation
	OnError    func(error)
}

// Protocols builds the protocol clients a Session drives. Tests replace individual
// entries.
type Protocols struct {
	DialBiDi       func(ctx context.Context, url string) (BiDiSession, error)
	DialRDP        func(ctx context.Context, port int) (TabSource, error)
	DialMarionette func(ctx context.Context, port int) (MarionetteDriver, error)
	DialCDP        func(ctx context.Context, opts CDPDialOptions) (CDPBrowser, error)
	NewAutomation  func(ctx context.Context, client browser.CDPClient, reset cdp.ResetFunc, automation browser.Automation) (AutomationBridge, error)
}

// DefaultProtocols connects to a local browser with the real protocol clients.
func DefaultProtocols(sched browser.RetrySchedule, log *logging.Logger) Protocols {
	return Protocols{
		DialBiDi: func(ctx context.Context, url string) (BiDiSession, error) {
			client, err := bidi.Dial(ctx, url, sched, log)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		DialRDP: func(ctx context.Context, port int) (TabSource, error) {
			b, err := rdp.Dial(ctx, rdp.DefaultHost, port, sched, log)
			if err != nil {
				return nil, err
			}
			return b, nil
		},
		DialMarionette: func(ctx context.Context, port int) (MarionetteDriver, error) {
			d, err := marionette.Dial(ctx, marionette.DefaultHost, port, sched, log)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		DialCDP: func(ctx context.Context, opts CDPDialOptions) (CDPBrowser, error) {
			client, err := cdp.Create(ctx, cdp.Options{
				Hosts:               opts.Hosts,
				Port:                opts.Port,
				Schedule:            sched,
				OnAsynchronousError: asyncErrorHandler(opts),
				Logger:              log,
			})
			if err != nil {
				return nil, err
			}
			return cdpBrowser{client}, nil
		},
		NewAutomation: func(ctx context.Context, client browser.CDPClient, reset cdp.ResetFunc, automation browser.Automation) (AutomationBridge, error) {
			a, err := cdp.NewAutomation(ctx, client, reset, automation, log)
			if err != nil {
				return nil, err
			}
			return a, nil
		},
	}
}

// cdpBrowser narrows the attach result to the client interface.
type cdpBrowser struct {
	*cdp.BrowserClient
}

func (b cdpBrowser) AttachToTargetURL(ctx context.Context, url string) (browser.CDPClient, error) {
	client, err := b.BrowserClient.AttachToTargetURL(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// asyncErrorHandler picks the single callback for connection drops: OnError when
// set, otherwise the automation hook.
func asyncErrorHandler(opts CDPDialOptions) func(error) {
	if opts.OnError != nil {
		return opts.OnError
	}
	if opts.Automation != nil {
		return opts.Automation.OnAsynchronousError
	}
	return browser.NopAutomation{}.OnAsynchronousError
}
