package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/odvcencio/foxwire/pkg/config"
)

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return fmt.Errorf("empty value")
	}
	*l = append(*l, v)
	return nil
}

type startupOptions struct {
	configPath     string
	url            string
	marionettePort int
	foxdriverPort  int
	remotePort     int
	bidiURL        string
	extensions     stringList
	logLevel       string

	set map[string]bool
}

func parseStartupOptions(args []string, stderr io.Writer) (*startupOptions, error) {
	opts := &startupOptions{set: make(map[string]bool)}
	fs := flag.NewFlagSet("foxwire", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to a config file (default: ~/.foxwire/config.yaml then ./.foxwire/config.yaml)")
	fs.StringVar(&opts.url, "url", "", "URL to open once the browser is connected")
	fs.IntVar(&opts.marionettePort, "marionette-port", 0, "Marionette port")
	fs.IntVar(&opts.foxdriverPort, "foxdriver-port", 0, "Remote debugging protocol port (0 disables GC instrumentation)")
	fs.IntVar(&opts.remotePort, "remote-port", 0, "CDP remote debugging port (0 disables the page socket)")
	fs.StringVar(&opts.bidiURL, "bidi-url", "", "WebDriver BiDi WebSocket URL")
	fs.Var(&opts.extensions, "extension", "Extension to install as a temporary addon (repeatable)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})
	return opts, nil
}

// apply overrides cfg with every flag given on the command line.
func (o *startupOptions) apply(cfg *config.Config) {
	if o.set["url"] {
		cfg.Browser.URL = o.url
	}
	if o.set["marionette-port"] {
		cfg.Browser.MarionettePort = o.marionettePort
	}
	if o.set["foxdriver-port"] {
		cfg.Browser.FoxdriverPort = o.foxdriverPort
	}
	if o.set["remote-port"] {
		cfg.Browser.RemotePort = o.remotePort
	}
	if o.set["bidi-url"] {
		cfg.Browser.BiDiWebSocketURL = o.bidiURL
	}
	if o.set["extension"] {
		cfg.Browser.Extensions = config.ResolveExtensionPaths(o.extensions)
	}
	if o.set["log-level"] {
		cfg.Log.Level = o.logLevel
	}
}

func loadConfig(opts *startupOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromPath(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}
