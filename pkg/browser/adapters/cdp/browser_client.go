package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// BlankURL is the URL of a freshly created tab.
const BlankURL = "about:blank"

// ErrTargetNotFound is returned when no page target matches a URL.
var ErrTargetNotFound = errors.New("cdp target not found")

// Options configure BrowserClient discovery.
type Options struct {
	Hosts       []string
	Port        int
	BrowserName string
	Schedule    browser.RetrySchedule

	// OnAsynchronousError is called when the browser connection drops unexpectedly.
	OnAsynchronousError func(error)

	HTTPClient *http.Client
	Logger     *logging.Logger
}

// DefaultHosts are probed in order for the DevTools HTTP endpoint.
var DefaultHosts = []string{"127.0.0.1", "::1"}

func (o Options) withDefaults() Options {
	if len(o.Hosts) == 0 {
		o.Hosts = DefaultHosts
	}
	if o.BrowserName == "" {
		o.BrowserName = "Firefox"
	}
	// MaxRetries 0 is a valid single-attempt schedule; only an unset schedule
	// falls back to the default.
	if o.Schedule == (browser.RetrySchedule{}) {
		o.Schedule = browser.DefaultRetrySchedule()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	return o
}

// Validate checks whether the options are usable.
func (o Options) Validate() error {
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("remote port out of range: %d", o.Port)
	}
	return nil
}

// VersionInfo is the DevTools /json/version document.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// BrowserClient owns the browser-level connection and the currently attached page.
type BrowserClient struct {
	conn    *Conn
	opts    Options
	host    string
	version VersionInfo
	log     *logging.Logger

	mu      sync.Mutex
	current *SessionClient
}

// Create probes the DevTools HTTP endpoint on each host until one answers, then
// connects to its browser WebSocket. Failures are AttachErrors.
func Create(ctx context.Context, opts Options) (*BrowserClient, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, &browser.AttachError{Protocol: protocolName, Err: err}
	}
	log := opts.Logger.OrDiscard().WithProtocol(protocolName)

	var (
		host    string
		version VersionInfo
	)
	label := net.JoinHostPort(opts.Hosts[0], strconv.Itoa(opts.Port))
	err := browser.Retry(ctx, label, opts.Schedule, func(ctx context.Context, attempt int) error {
		var errs []error
		for _, h := range opts.Hosts {
			v, err := probeVersion(ctx, opts.HTTPClient, h, opts.Port)
			if err == nil {
				host, version = h, v
				return nil
			}
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	if err != nil {
		return nil, &browser.AttachError{Protocol: protocolName, Err: err}
	}

	conn, err := DialConn(ctx, version.WebSocketDebuggerURL, opts.Logger)
	if err != nil {
		return nil, &browser.AttachError{Protocol: protocolName, Err: err}
	}
	b := &BrowserClient{conn: conn, opts: opts, host: host, version: version, log: log}
	conn.OnDisconnect(b.onDisconnect)
	log.Info("connected to browser", "browser", opts.BrowserName, "host", host, "version", version.Browser)
	return b, nil
}

func probeVersion(ctx context.Context, client *http.Client, host string, port int) (VersionInfo, error) {
	endpoint := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/json/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return VersionInfo{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return VersionInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return VersionInfo{}, fmt.Errorf("%s: status %d", endpoint, resp.StatusCode)
	}
	var v VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return VersionInfo{}, fmt.Errorf("%s: %w", endpoint, err)
	}
	if v.WebSocketDebuggerURL == "" {
		return VersionInfo{}, fmt.Errorf("%s: missing webSocketDebuggerUrl", endpoint)
	}
	return v, nil
}

func (b *BrowserClient) onDisconnect(err error) {
	if b.opts.OnAsynchronousError != nil {
		b.opts.OnAsynchronousError(err)
	}
}

// Host returns the host that answered discovery.
func (b *BrowserClient) Host() string {
	return b.host
}

// Version returns the discovery document.
func (b *BrowserClient) Version() VersionInfo {
	return b.version
}

// Conn exposes the browser-level connection.
func (b *BrowserClient) Conn() *Conn {
	return b.conn
}

// Targets lists all targets.
func (b *BrowserClient) Targets(ctx context.Context) ([]*target.Info, error) {
	var resp target.GetTargetsReturns
	if err := b.conn.Call(ctx, "", string(cdproto.CommandTargetGetTargets), target.GetTargets(), &resp); err != nil {
		return nil, err
	}
	return resp.TargetInfos, nil
}

// AttachToTargetURL attaches to the first page target whose URL is url, waiting on
// the retry schedule for it to appear. The attachment becomes the current target.
func (b *BrowserClient) AttachToTargetURL(ctx context.Context, url string) (*SessionClient, error) {
	var found *target.Info
	err := browser.Retry(ctx, url, b.opts.Schedule, func(ctx context.Context, attempt int) error {
		infos, err := b.Targets(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			if info.Type == "page" && info.URL == url {
				found = info
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrTargetNotFound, url)
	})
	if err != nil {
		return nil, &browser.AttachError{Protocol: protocolName, Err: err}
	}

	var resp target.AttachToTargetReturns
	params := target.AttachToTarget(found.TargetID).WithFlatten(true)
	if err := b.conn.Call(ctx, "", string(cdproto.CommandTargetAttachToTarget), params, &resp); err != nil {
		return nil, &browser.AttachError{Protocol: protocolName, Err: err}
	}
	session := b.conn.Session(resp.SessionID, found.TargetID)

	b.mu.Lock()
	b.current = session
	b.mu.Unlock()
	b.log.Debug("attached to target", "target_id", string(found.TargetID), "url", url)
	return session, nil
}

// CurrentTarget returns the current page attachment, or nil.
func (b *BrowserClient) CurrentTarget() *SessionClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// CloseCurrentTarget detaches the current page, if any.
func (b *BrowserClient) CloseCurrentTarget() error {
	b.mu.Lock()
	current := b.current
	b.current = nil
	b.mu.Unlock()
	if current == nil {
		return nil
	}
	return current.Close()
}

// ResetTargets opens a blank page and closes every other page target.
func (b *BrowserClient) ResetTargets(ctx context.Context) error {
	var created target.CreateTargetReturns
	if err := b.conn.Call(ctx, "", string(cdproto.CommandTargetCreateTarget), target.CreateTarget(BlankURL), &created); err != nil {
		return fmt.Errorf("reset targets: %w", err)
	}
	infos, err := b.Targets(ctx)
	if err != nil {
		return fmt.Errorf("reset targets: %w", err)
	}
	var errs []error
	for _, info := range infos {
		if info.Type != "page" || info.TargetID == created.TargetID {
			continue
		}
		if err := b.conn.Call(ctx, "", string(cdproto.CommandTargetCloseTarget), target.CloseTarget(info.TargetID), nil); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reset targets: %w", err)
	}
	return nil
}

// Close closes the browser connection.
func (b *BrowserClient) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()
	return b.conn.Close()
}
