// Package firefox orchestrates one Firefox process across BiDi, the remote debugging
// protocol, Marionette and CDP.
package firefox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/browser/adapters/cdp"
	"github.com/odvcencio/foxwire/pkg/browser/memory"
	"github.com/odvcencio/foxwire/pkg/browser/tabs"
	"github.com/odvcencio/foxwire/pkg/logging"
	"github.com/odvcencio/foxwire/pkg/telemetry"
)

// Setup phases, used in PhaseError, logs, spans and metrics.
const (
	PhaseBiDi       = "bidi"
	PhaseRDP        = "foxdriver"
	PhaseMarionette = "marionette"
	PhaseCDP        = "cdp"
	PhaseNavigate   = "navigate"
	PhaseNewSpec    = "connect_new_spec"
)

// ErrNoBrowserClient is returned by ConnectToNewSpec when setup did not attach CDP.
var ErrNoBrowserClient = errors.New("no cdp browser client")

// SetupOptions configure Setup.
type SetupOptions struct {
	Automation browser.Automation
	Extensions []string
	// OnError receives asynchronous errors from the CDP connection. When nil they
	// go to Automation.OnAsynchronousError.
	OnError func(error)

	URL              string
	MarionettePort   int
	BiDiWebSocketURL string
	FoxdriverPort    int
	RemotePort       int
	CDPHosts         []string
}

// NewSpecOptions configure ConnectToNewSpec.
type NewSpecOptions struct {
	URL                       string
	OnInitializeNewBrowserTab func(ctx context.Context) error
}

// Options configure a Session.
type Options struct {
	ID        string
	Protocols Protocols
	Logger    *logging.Logger
	Metrics   *browser.Metrics
	Sink      browser.DiagnosticSink
	Recorder  *memory.Recorder
}

// Session holds every protocol client attached to one browser process.
type Session struct {
	id        string
	protocols Protocols
	log       *logging.Logger
	metrics   *browser.Metrics
	sink      browser.DiagnosticSink
	recorder  *memory.Recorder

	mu         sync.Mutex
	state      State
	bidi       BiDiSession
	rdp        TabSource
	directory  *tabs.Directory
	marionette MarionetteDriver
	cdp        CDPBrowser
	automation AutomationBridge
	closed     bool

	// serializes CollectGarbage
	gcMu sync.Mutex
}

var _ browser.Session = (*Session)(nil)

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	log := opts.Logger.OrDiscard().WithSession(id)
	protocols := opts.Protocols
	if protocols.DialBiDi == nil && protocols.DialRDP == nil && protocols.DialMarionette == nil && protocols.DialCDP == nil {
		protocols = DefaultProtocols(browser.RetryScheduleFromEnv(), log)
	}
	sink := opts.Sink
	if sink == nil {
		sink = log
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = memory.NewRecorder(log)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = browser.NewMetrics()
	}
	return &Session{
		id:        id,
		protocols: protocols,
		log:       log,
		metrics:   metrics,
		sink:      sink,
		recorder:  recorder,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics returns the session's counters.
func (s *Session) Metrics() *browser.Metrics {
	return s.metrics
}

// Automation returns the current CDP automation bridge, or nil.
func (s *Session) Automation() AutomationBridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.automation
}

// PageClient returns the CDP client for the attached page, or nil.
func (s *Session) PageClient() browser.CDPClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.automation == nil {
		return nil
	}
	return s.automation.Client()
}

func (s *Session) advance(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.canAdvance(next) {
		s.state = next
	}
}

// Setup attaches every protocol and navigates to opts.URL. BiDi, the remote debugging
// protocol and CDP are brought up concurrently; Marionette follows BiDi. A failing
// remote debugging phase is logged and leaves the session without memory
// instrumentation.
func (s *Session) Setup(ctx context.Context, opts SetupOptions) error {
	if s.isClosed() {
		return browser.ErrSessionClosed
	}
	if opts.Automation == nil {
		opts.Automation = browser.NopAutomation{}
	}
	ctx, span := telemetry.StartSpan(ctx, "firefox.setup", attribute.String("session_id", s.id))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.runPhase(gctx, PhaseBiDi, func(ctx context.Context) error {
			return s.setupBiDi(ctx, opts)
		}); err != nil {
			return err
		}
		return s.runPhase(gctx, PhaseMarionette, func(ctx context.Context) error {
			return s.setupMarionette(ctx, opts)
		})
	})
	g.Go(func() error {
		if err := s.runPhase(gctx, PhaseRDP, func(ctx context.Context) error {
			return s.setupRDP(ctx, opts)
		}); err != nil {
			s.log.Warn("continuing without memory instrumentation", "error", err)
		}
		return nil
	})
	if opts.RemotePort > 0 {
		g.Go(func() error {
			return s.runPhase(gctx, PhaseCDP, func(ctx context.Context) error {
				return s.setupCDP(ctx, opts)
			})
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.EndSpan(span, err)
		return err
	}

	err := s.runPhase(ctx, PhaseNavigate, func(ctx context.Context) error {
		if opts.URL == "" {
			return nil
		}
		return s.navigate(ctx, opts.URL)
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		return err
	}
	s.metrics.PublishSetupCompleted(s.State().String())
	return nil
}

func (s *Session) runPhase(ctx context.Context, phase string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "firefox.setup."+phase,
		attribute.String("session_id", s.id),
		attribute.String("phase", phase),
	)
	s.log.PhaseStarted(phase)
	start := time.Now()
	err := fn(ctx)
	latency := time.Since(start)
	s.log.PhaseCompleted(phase, latency, err)
	s.metrics.RecordPhase(phase, latency, err)
	telemetry.EndSpan(span, err)
	if err != nil {
		return &browser.PhaseError{Phase: phase, Err: err}
	}
	return nil
}

func (s *Session) setupBiDi(ctx context.Context, opts SetupOptions) error {
	if opts.BiDiWebSocketURL == "" {
		s.log.Debug("no bidi websocket url, skipping")
		return nil
	}
	client, err := s.protocols.DialBiDi(ctx, opts.BiDiWebSocketURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bidi = client
	s.mu.Unlock()

	info, err := client.NewSession(ctx)
	if err != nil {
		return err
	}
	s.log.Debug("bidi session created", "bidi_session_id", info.SessionID)
	s.advance(StateBiDiReady)
	return nil
}

func (s *Session) setupRDP(ctx context.Context, opts SetupOptions) error {
	if opts.FoxdriverPort <= 0 {
		s.log.Debug("no foxdriver port, skipping")
		return nil
	}
	source, err := s.protocols.DialRDP(ctx, opts.FoxdriverPort)
	if err != nil {
		return err
	}
	source.OnError(func(err error) {
		s.log.ProtocolError(PhaseRDP, err)
	})
	directory := tabs.NewDirectory(source)
	s.mu.Lock()
	s.rdp = source
	s.directory = directory
	s.mu.Unlock()

	tab, err := directory.Primary(ctx)
	if err != nil {
		return err
	}
	if err := s.recorder.Attach(ctx, tab); err != nil {
		return err
	}
	s.advance(StateRDPReady)
	return nil
}

func (s *Session) setupMarionette(ctx context.Context, opts SetupOptions) error {
	if opts.MarionettePort <= 0 {
		return browser.NewMarionetteError(browser.OriginConnection, errors.New("marionette port is required"))
	}
	driver, err := s.protocols.DialMarionette(ctx, opts.MarionettePort)
	if err != nil {
		return browser.NewMarionetteError(browser.OriginConnection, err)
	}
	s.mu.Lock()
	s.marionette = driver
	s.mu.Unlock()

	if err := driver.NewSession(ctx, map[string]any{"acceptInsecureCerts": true}); err != nil {
		return browser.NewMarionetteError(browser.OriginSession, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range opts.Extensions {
		path := path
		g.Go(func() error {
			id, err := driver.InstallAddon(gctx, path)
			if err != nil {
				return browser.NewMarionetteError(browser.OriginCommands, fmt.Errorf("install extension %s: %w", path, err))
			}
			s.log.Debug("extension installed", "path", path, "addon_id", id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.advance(StateMarionetteReady)
	return nil
}

func (s *Session) setupCDP(ctx context.Context, opts SetupOptions) error {
	client, err := s.protocols.DialCDP(ctx, CDPDialOptions{
		Port:       opts.RemotePort,
		Hosts:      opts.CDPHosts,
		Automation: opts.Automation,
		OnError:    opts.OnError,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cdp = client
	s.mu.Unlock()

	if err := s.attachBlankTarget(ctx, client, opts.Automation); err != nil {
		return err
	}
	s.advance(StateCDPAttached)
	return nil
}

// attachBlankTarget attaches to the about:blank page and rebuilds the automation
// bridge on it.
func (s *Session) attachBlankTarget(ctx context.Context, client CDPBrowser, automation browser.Automation) error {
	page, err := client.AttachToTargetURL(ctx, cdp.BlankURL)
	if err != nil {
		return err
	}
	bridge, err := s.protocols.NewAutomation(ctx, page, client.ResetTargets, automation)
	if err != nil {
		_ = page.Close()
		return err
	}
	s.mu.Lock()
	s.automation = bridge
	s.mu.Unlock()
	return nil
}

// ConnectToNewSpec reuses the browser for another spec file: the first window is
// reset to about:blank, CDP is reattached to it, onInitializeNewBrowserTab runs, and
// the window is navigated to opts.URL.
func (s *Session) ConnectToNewSpec(ctx context.Context, opts NewSpecOptions, automation browser.Automation) (err error) {
	if s.isClosed() {
		return browser.ErrSessionClosed
	}
	if automation == nil {
		automation = browser.NopAutomation{}
	}
	s.mu.Lock()
	driver := s.marionette
	client := s.cdp
	previous := s.automation
	s.mu.Unlock()
	if client == nil {
		return &browser.PhaseError{Phase: PhaseNewSpec, Err: ErrNoBrowserClient}
	}
	if driver == nil {
		return &browser.PhaseError{Phase: PhaseNewSpec, Err: browser.NewMarionetteError(browser.OriginConnection, browser.ErrSessionClosed)}
	}

	ctx, span := telemetry.StartSpan(ctx, "firefox.connect_new_spec",
		attribute.String("session_id", s.id),
		attribute.String("url", opts.URL),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	s.advance(StateNavigatingNewSpec)
	wrap := func(err error) error {
		return &browser.PhaseError{Phase: PhaseNewSpec, Err: err}
	}

	handles, err := driver.WindowHandles(ctx)
	if err != nil {
		return wrap(browser.NewMarionetteError(browser.OriginCommands, err))
	}
	if len(handles) == 0 {
		return wrap(browser.NewMarionetteError(browser.OriginCommands, browser.ErrNoTabsAvailable))
	}
	if err := driver.SwitchToWindow(ctx, handles[0]); err != nil {
		return wrap(browser.NewMarionetteError(browser.OriginCommands, err))
	}
	if err := driver.Navigate(ctx, cdp.BlankURL); err != nil {
		return wrap(browser.NewMarionetteError(browser.OriginCommands, err))
	}

	if previous != nil {
		s.mu.Lock()
		if s.automation == previous {
			s.automation = nil
		}
		s.mu.Unlock()
		previous.Close()
	}
	if err := client.CloseCurrentTarget(); err != nil {
		s.log.Debug("closing previous target failed, continuing", "error", err)
	}

	if err := s.attachBlankTarget(ctx, client, automation); err != nil {
		return wrap(err)
	}
	if opts.OnInitializeNewBrowserTab != nil {
		if err := opts.OnInitializeNewBrowserTab(ctx); err != nil {
			return wrap(fmt.Errorf("initialize new browser tab: %w", err))
		}
	}
	if opts.URL != "" {
		if err := s.navigate(ctx, opts.URL); err != nil {
			return wrap(err)
		}
	}
	s.advance(StateCDPAttached)
	s.metrics.RecordSpecConnected(opts.URL)
	return nil
}

// NavigateToURL navigates the current window through Marionette.
func (s *Session) NavigateToURL(ctx context.Context, url string) error {
	if s.isClosed() {
		return browser.ErrSessionClosed
	}
	return s.navigate(ctx, url)
}

func (s *Session) navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	driver := s.marionette
	s.mu.Unlock()
	if driver == nil {
		return browser.NewMarionetteError(browser.OriginConnection, browser.ErrSessionClosed)
	}
	start := time.Now()
	if err := driver.Navigate(ctx, url); err != nil {
		return browser.NewMarionetteError(browser.OriginCommands, err)
	}
	s.metrics.RecordNavigate(url, time.Since(start))
	return nil
}

// CollectGarbage forces a garbage and cycle collection in the primary tab. It does
// nothing when the remote debugging protocol is unavailable.
func (s *Session) CollectGarbage(ctx context.Context) error {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()

	s.mu.Lock()
	directory := s.directory
	s.mu.Unlock()
	if directory == nil {
		return nil
	}

	tab, err := directory.Primary(ctx)
	if err != nil {
		return err
	}
	if err := s.recorder.Attach(ctx, tab); err != nil {
		return err
	}
	gc, cc, err := s.recorder.ForceCollect(ctx, tab)
	if err != nil {
		return err
	}
	if tab.Memory != nil {
		s.metrics.RecordForcedCollection(gc, cc)
	}
	return nil
}

// LogDiagnostics writes the collection report to the diagnostic sink and clears it.
func (s *Session) LogDiagnostics() memory.Report {
	report := s.recorder.Summarize()
	report.Emit(s.sink)
	return report
}

// Close closes every protocol client. The session cannot be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	automation := s.automation
	cdpClient := s.cdp
	driver := s.marionette
	source := s.rdp
	bidiClient := s.bidi
	s.automation, s.cdp, s.marionette, s.rdp, s.bidi, s.directory = nil, nil, nil, nil, nil, nil
	s.state = StateIdle
	s.mu.Unlock()

	s.recorder.Reset()

	var errs []error
	if automation != nil {
		automation.Close()
	}
	if cdpClient != nil {
		if err := cdpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cdp: %w", err))
		}
	}
	if driver != nil {
		if err := driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close marionette: %w", err))
		}
	}
	if source != nil {
		if err := source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close foxdriver: %w", err))
		}
	}
	if bidiClient != nil {
		if err := bidiClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bidi: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
