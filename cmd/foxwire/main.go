package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/browser/firefox"
	"github.com/odvcencio/foxwire/pkg/bus"
	"github.com/odvcencio/foxwire/pkg/cdpsocket"
	"github.com/odvcencio/foxwire/pkg/config"
	"github.com/odvcencio/foxwire/pkg/logging"
	"github.com/odvcencio/foxwire/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stderr)
	stop()
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeForError(err))
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseStartupOptions(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return withExitCode(err, exitUsage)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return withExitCode(err, exitUsage)
	}

	log := logging.NewLoggerTo(stderr, "foxwire", logging.ParseLevel(cfg.Log.Level))
	for _, warning := range cfg.ValidationWarnings() {
		log.Warn("config warning", "warning", warning)
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(cfg.Tracing.ServiceName, stderr)
		if err != nil {
			return err
		}
		defer func() {
			_ = tp.Shutdown(context.Background())
		}()
	}

	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	go logEvents(events, log)

	id := uuid.NewString()
	metrics := browser.NewMetrics()
	metrics.EnableTelemetry(hub, id)
	sched := browser.RetrySchedule{MaxRetries: cfg.Retry.MaxRetries, DialTimeout: cfg.Browser.DialTimeout}
	session := firefox.NewSession(firefox.Options{
		ID:        id,
		Protocols: firefox.DefaultProtocols(sched, log),
		Logger:    log,
		Metrics:   metrics,
		Sink:      multiSink{log.WithSession(id), telemetry.HubSink{Hub: hub, SessionID: id}},
	})

	manager := browser.NewManager()
	if err := manager.Register(session); err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			log.Warn("closing sessions", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.Metrics.Addr, newRouter(session), log)
		})
	}

	automation := logAutomation{log: log}
	err = session.Setup(ctx, firefox.SetupOptions{
		Automation:       automation,
		Extensions:       cfg.Browser.Extensions,
		URL:              cfg.Browser.URL,
		MarionettePort:   cfg.Browser.MarionettePort,
		BiDiWebSocketURL: cfg.Browser.BiDiWebSocketURL,
		FoxdriverPort:    cfg.Browser.FoxdriverPort,
		RemotePort:       cfg.Browser.RemotePort,
		CDPHosts:         cfg.Browser.CDPHosts,
	})
	if err != nil {
		return fmt.Errorf("browser setup: %w", err)
	}

	server := newSocketServer(cfg.Socket, log)
	defer server.Detach()
	if page := session.PageClient(); page != nil {
		if err := server.AttachClient(ctx, page); err != nil {
			return fmt.Errorf("attach socket server: %w", err)
		}
	} else {
		log.Info("no CDP page attached; socket server idle")
	}

	if cfg.Bus.Enabled {
		stopBus, err := startBus(ctx, cfg.Bus, session, server, automation, log)
		if err != nil {
			return err
		}
		defer stopBus()
	}

	log.Info("browser ready", "state", session.State().String())
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	waitErr := g.Wait()

	session.LogDiagnostics()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}

// newSocketServer builds the root namespace and one child per extra configured
// namespace.
func newSocketServer(cfg config.SocketConfig, log *logging.Logger) *cdpsocket.Server {
	opts := cdpsocket.Options{
		BindingPrefix: cfg.BindingPrefix,
		GlobalPrefix:  cfg.GlobalPrefix,
		QueueSize:     cfg.QueueSize,
		Logger:        log,
	}
	server := cdpsocket.NewServer(cdpsocket.DefaultNamespace, opts)
	for _, ns := range cfg.Namespaces {
		if ns == "" || ns == server.Namespace() {
			continue
		}
		server.Of(ns)
	}
	return server
}

// startBus connects to NATS and relays every namespace. The returned func undoes it.
func startBus(ctx context.Context, cfg config.BusConfig, session *firefox.Session, server *cdpsocket.Server, automation browser.Automation, log *logging.Logger) (func(), error) {
	busCfg := bus.DefaultConfig()
	busCfg.URL = cfg.URL
	busCfg.Token = cfg.Token
	nb, err := bus.NewNATSBus(busCfg)
	if err != nil {
		return nil, withExitCode(fmt.Errorf("connect bus: %w", err), exitConnection)
	}

	var relays []*cdpsocket.Relay
	nodes := []*cdpsocket.Server{server}
	for _, ns := range server.Namespaces() {
		nodes = append(nodes, server.Of(ns))
	}
	stop := func() {
		for _, r := range relays {
			_ = r.Stop()
		}
		_ = nb.Close()
	}
	for _, node := range nodes {
		relay := cdpsocket.NewRelay(nb, node, cfg.SubjectPrefix, log)
		if err := relay.Start(ctx); err != nil {
			stop()
			return nil, err
		}
		relays = append(relays, relay)
	}

	ctrl := newController(nb, session, server, automation, cfg.SubjectPrefix, log)
	if err := ctrl.start(ctx); err != nil {
		stop()
		return nil, err
	}
	log.Info("relaying socket events", "url", cfg.URL, "prefix", cfg.SubjectPrefix)
	return func() {
		ctrl.stop()
		stop()
	}, nil
}

func logEvents(events <-chan telemetry.Event, log *logging.Logger) {
	for ev := range events {
		log.Debug("telemetry event", "type", string(ev.Type), "data", ev.Data)
	}
}

// multiSink fans diagnostic records out to several sinks.
type multiSink []browser.DiagnosticSink

func (m multiSink) Record(key string, payload any) {
	for _, sink := range m {
		sink.Record(key, payload)
	}
}

// logAutomation stands in for a test runner: it logs what the browser reports.
type logAutomation struct {
	log *logging.Logger
}

func (a logAutomation) OnServiceWorkerClientEvent(ev browser.ServiceWorkerEvent) {
	a.log.Debug("service worker event", "method", ev.Method)
}

func (a logAutomation) OnAsynchronousError(err error) {
	a.log.Warn("asynchronous browser error", "error", err)
}
