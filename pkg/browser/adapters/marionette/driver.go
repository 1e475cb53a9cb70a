// Package marionette speaks the Marionette protocol: a handshake followed by
// [type, id, ...] command and response arrays, each framed as "<length>:<json>".
package marionette

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/browser/adapters/wire"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// DefaultHost is where Firefox binds the Marionette listener.
const DefaultHost = "127.0.0.1"

// SupportedProtocol is the handshake protocol level this driver speaks.
const SupportedProtocol = 3

const (
	commandMessage  = 0
	responseMessage = 1
)

// Command names.
const (
	CommandNewSession       = "WebDriver:NewSession"
	CommandGetWindowHandles = "WebDriver:GetWindowHandles"
	CommandSwitchToWindow   = "WebDriver:SwitchToWindow"
	CommandNavigate         = "WebDriver:Navigate"
	CommandDeleteSession    = "WebDriver:DeleteSession"
	CommandInstallAddon     = "Addon:Install"
)

// Handshake is the greeting Marionette sends on connect.
type Handshake struct {
	ApplicationType    string `json:"applicationType"`
	MarionetteProtocol int    `json:"marionetteProtocol"`
}

type commandError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

// Driver is a synchronous Marionette client. Commands are serialized.
type Driver struct {
	conn      net.Conn
	reader    *bufio.Reader
	log       *logging.Logger
	handshake Handshake

	mu        sync.Mutex
	nextID    int
	sessionID string
	closed    atomic.Bool
	lost      atomic.Bool
}

// Dial connects to Marionette on host:port using the retry schedule and reads the
// handshake. Errors carry the connection origin.
func Dial(ctx context.Context, host string, port int, sched browser.RetrySchedule, log *logging.Logger) (*Driver, error) {
	if host == "" {
		host = DefaultHost
	}
	conn, err := browser.Connect(ctx, host, port, sched)
	if err != nil {
		return nil, browser.NewMarionetteError(browser.OriginConnection, err)
	}
	d, err := NewDriver(ctx, conn, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return d, nil
}

// NewDriver reads the handshake from an established connection.
func NewDriver(ctx context.Context, conn net.Conn, log *logging.Logger) (*Driver, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d := &Driver{
		conn:   conn,
		reader: bufio.NewReader(conn),
		log:    log.OrDiscard().WithProtocol("marionette"),
	}
	if err := wire.ApplyDeadline(conn, ctx); err != nil {
		return nil, browser.NewMarionetteError(browser.OriginConnection, err)
	}
	data, err := wire.ReadPacket(d.reader)
	if err != nil {
		return nil, browser.NewMarionetteError(browser.OriginConnection, fmt.Errorf("read handshake: %w", err))
	}
	if err := json.Unmarshal(data, &d.handshake); err != nil {
		return nil, browser.NewMarionetteError(browser.OriginConnection, fmt.Errorf("decode handshake: %w", err))
	}
	if d.handshake.MarionetteProtocol != SupportedProtocol {
		return nil, browser.NewMarionetteError(browser.OriginConnection,
			fmt.Errorf("unsupported marionette protocol %d", d.handshake.MarionetteProtocol))
	}
	d.log.Debug("marionette handshake", "application", d.handshake.ApplicationType)
	return d, nil
}

// Handshake returns the greeting read on connect.
func (d *Driver) Handshake() Handshake {
	return d.handshake
}

// SessionID returns the id of the session created by NewSession.
func (d *Driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Send issues a command and decodes its result into result, which may be nil.
func (d *Driver) Send(ctx context.Context, name string, params, result any) error {
	raw, err := d.send(ctx, name, params)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", name, err)
	}
	return nil
}

func (d *Driver) send(ctx context.Context, name string, params any) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params == nil {
		params = map[string]any{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		if d.lost.Load() {
			return nil, fmt.Errorf("%s: %w", name, browser.ErrConnectionLost)
		}
		return nil, browser.ErrSessionClosed
	}

	d.nextID++
	id := d.nextID
	if err := wire.ApplyDeadline(d.conn, ctx); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = d.conn.SetDeadline(time.Now())
	})
	defer stop()
	if err := wire.WriteJSON(d.conn, []any{commandMessage, id, name, params}); err != nil {
		d.abandon(err)
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for {
		data, err := wire.ReadPacket(d.reader)
		if err != nil {
			// the reader may hold half a frame, so the stream cannot be resumed
			d.abandon(err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%s: %w", name, ctxErr)
			}
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		var msg []json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil || len(msg) != 4 {
			return nil, fmt.Errorf("%s: malformed response", name)
		}
		var msgType, msgID int
		if err := json.Unmarshal(msg[0], &msgType); err != nil || msgType != responseMessage {
			continue
		}
		if err := json.Unmarshal(msg[1], &msgID); err != nil || msgID != id {
			// a reply to a command whose caller gave up
			d.log.Debug("skipping stale response", "id", msgID, "want", id)
			continue
		}
		if !isNull(msg[2]) {
			var cerr commandError
			if err := json.Unmarshal(msg[2], &cerr); err != nil {
				return nil, fmt.Errorf("%s: malformed error", name)
			}
			return nil, &browser.ProtocolError{Protocol: "marionette", Code: cerr.Error, Message: cerr.Message}
		}
		return msg[3], nil
	}
}

// NewSession creates the WebDriver session. The session must stay open for
// acceptInsecureCerts to keep applying.
func (d *Driver) NewSession(ctx context.Context, capabilities map[string]any) error {
	if capabilities == nil {
		capabilities = map[string]any{}
	}
	var resp struct {
		SessionID    string         `json:"sessionId"`
		Capabilities map[string]any `json:"capabilities"`
	}
	if err := d.Send(ctx, CommandNewSession, capabilities, &resp); err != nil {
		return browser.NewMarionetteError(browser.OriginSession, err)
	}
	d.mu.Lock()
	d.sessionID = resp.SessionID
	d.mu.Unlock()
	return nil
}

// InstallAddon installs a temporary extension and returns its id.
func (d *Driver) InstallAddon(ctx context.Context, path string) (string, error) {
	raw, err := d.send(ctx, CommandInstallAddon, map[string]any{"path": path, "temporary": true})
	if err != nil {
		return "", browser.NewMarionetteError(browser.OriginCommands, err)
	}
	var id string
	_ = unwrapValue(raw, &id)
	return id, nil
}

// WindowHandles lists top-level browsing context handles.
func (d *Driver) WindowHandles(ctx context.Context) ([]string, error) {
	raw, err := d.send(ctx, CommandGetWindowHandles, nil)
	if err != nil {
		return nil, browser.NewMarionetteError(browser.OriginCommands, err)
	}
	var handles []string
	if err := unwrapValue(raw, &handles); err != nil {
		return nil, browser.NewMarionetteError(browser.OriginCommands, fmt.Errorf("decode window handles: %w", err))
	}
	return handles, nil
}

// SwitchToWindow focuses handle.
func (d *Driver) SwitchToWindow(ctx context.Context, handle string) error {
	if err := d.Send(ctx, CommandSwitchToWindow, map[string]any{"handle": handle}, nil); err != nil {
		return browser.NewMarionetteError(browser.OriginCommands, err)
	}
	return nil
}

// Navigate loads url in the current window and waits for the load to finish.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.Send(ctx, CommandNavigate, map[string]any{"url": url}, nil); err != nil {
		return browser.NewMarionetteError(browser.OriginCommands, err)
	}
	return nil
}

// Close closes the connection without ending the WebDriver session.
func (d *Driver) Close() error {
	if d == nil {
		return nil
	}
	if d.closed.Swap(true) {
		return nil
	}
	return d.conn.Close()
}

// abandon closes a connection whose framing is no longer trustworthy. Later
// commands fail with ErrConnectionLost.
func (d *Driver) abandon(cause error) {
	d.lost.Store(true)
	if d.closed.Swap(true) {
		return
	}
	d.log.Warn("marionette connection abandoned", "error", cause)
	_ = d.conn.Close()
}

// unwrapValue decodes either a bare result or a {"value": result} envelope.
func unwrapValue(raw json.RawMessage, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var env struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &env); err == nil && len(env.Value) > 0 {
			raw = env.Value
		}
	}
	return json.Unmarshal(raw, out)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
