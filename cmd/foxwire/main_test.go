package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/config"
)

func TestParseStartupOptions(t *testing.T) {
	opts, err := parseStartupOptions([]string{
		"-url", "http://localhost:8080/__/",
		"-marionette-port", "2828",
		"-remote-port", "9222",
		"-extension", "/tmp/a.xpi",
		"-extension", "/tmp/b.xpi",
	}, io.Discard)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Browser.FoxdriverPort = 6000
	opts.apply(cfg)

	assert.Equal(t, "http://localhost:8080/__/", cfg.Browser.URL)
	assert.Equal(t, 2828, cfg.Browser.MarionettePort)
	assert.Equal(t, 9222, cfg.Browser.RemotePort)
	assert.Equal(t, 6000, cfg.Browser.FoxdriverPort, "unset flags keep config values")
	assert.Equal(t, []string{"/tmp/a.xpi", "/tmp/b.xpi"}, cfg.Browser.Extensions)
}

func TestParseStartupOptionsRejectsArguments(t *testing.T) {
	_, err := parseStartupOptions([]string{"extra"}, io.Discard)
	assert.Error(t, err)

	_, err = parseStartupOptions([]string{"-extension", " "}, io.Discard)
	assert.Error(t, err)

	_, err = parseStartupOptions([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, exitCodeForError(nil))
	assert.Equal(t, exitFailure, exitCodeForError(errors.New("boom")))
	assert.Equal(t, exitUsage, exitCodeForError(withExitCode(errors.New("bad flag"), exitUsage)))

	exhausted := &browser.ConnectError{Addr: "127.0.0.1:2828", Attempts: 63, Err: errors.New("refused")}
	assert.Equal(t, exitConnection, exitCodeForError(fmt.Errorf("browser setup: %w", exhausted)))
	assert.Nil(t, withExitCode(nil, exitUsage))
}

func TestNewSocketServerNamespaces(t *testing.T) {
	cfg := config.DefaultConfig().Socket
	cfg.Namespaces = []string{"default", "runner", "", "spec"}

	server := newSocketServer(cfg, nil)
	assert.Equal(t, "default", server.Namespace())
	assert.Equal(t, []string{"runner", "spec"}, server.Namespaces())
}

type recordSink struct {
	keys []string
}

func (s *recordSink) Record(key string, _ any) {
	s.keys = append(s.keys, key)
}

func TestMultiSink(t *testing.T) {
	a, b := &recordSink{}, &recordSink{}
	multiSink{a, b}.Record("firefox:gc:totals", nil)
	assert.Equal(t, []string{"firefox:gc:totals"}, a.keys)
	assert.Equal(t, []string{"firefox:gc:totals"}, b.keys)
}
