package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/browser/firefox"
	"github.com/odvcencio/foxwire/pkg/bus"
	"github.com/odvcencio/foxwire/pkg/cdpsocket"
	"github.com/odvcencio/foxwire/pkg/logging"
)

const (
	controlToken = "control"
	specToken    = "spec"
	gcToken      = "gc"
)

// errThrottled is returned when forced collections arrive faster than gcInterval.
var errThrottled = errors.New("forced collection throttled")

const gcInterval = time.Second

type specSession interface {
	ConnectToNewSpec(ctx context.Context, opts firefox.NewSpecOptions, automation browser.Automation) error
	CollectGarbage(ctx context.Context) error
	PageClient() browser.CDPClient
}

type specRequest struct {
	URL string `json:"url"`
}

type controlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// controller answers runner requests on <prefix>.control.*: switching to a new spec
// (which reattaches the socket server to the fresh page) and forcing a collection.
type controller struct {
	bus        bus.MessageBus
	session    specSession
	server     *cdpsocket.Server
	automation browser.Automation
	prefix     string
	log        *logging.Logger
	gcLimit    *rate.Limiter

	mu   sync.Mutex
	subs []bus.Subscription
}

func newController(b bus.MessageBus, session specSession, server *cdpsocket.Server, automation browser.Automation, prefix string, log *logging.Logger) *controller {
	return &controller{
		bus:        b,
		session:    session,
		server:     server,
		automation: automation,
		prefix:     prefix,
		log:        log.OrDiscard(),
		gcLimit:    rate.NewLimiter(rate.Every(gcInterval), 1),
	}
}

func (c *controller) subject(token string) string {
	return bus.Subject(c.prefix, controlToken, token)
}

func (c *controller) start(ctx context.Context) error {
	handlers := map[string]bus.MessageHandler{
		specToken: func(msg *bus.Message) []byte { return c.handleSpec(ctx, msg) },
		gcToken:   func(msg *bus.Message) []byte { return c.handleGC(ctx) },
	}
	for token, handler := range handlers {
		sub, err := c.bus.Subscribe(ctx, c.subject(token), handler)
		if err != nil {
			c.stop()
			return fmt.Errorf("subscribe %s: %w", c.subject(token), err)
		}
		c.mu.Lock()
		c.subs = append(c.subs, sub)
		c.mu.Unlock()
	}
	return nil
}

func (c *controller) stop() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

func (c *controller) handleSpec(ctx context.Context, msg *bus.Message) []byte {
	var req specRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.URL == "" {
		return encodeReply(fmt.Errorf("invalid spec request"))
	}
	err := c.session.ConnectToNewSpec(ctx, firefox.NewSpecOptions{
		URL: req.URL,
		OnInitializeNewBrowserTab: func(ctx context.Context) error {
			page := c.session.PageClient()
			if page == nil {
				return firefox.ErrNoBrowserClient
			}
			return c.server.AttachClient(ctx, page)
		},
	}, c.automation)
	if err != nil {
		c.log.Warn("connect to new spec failed", "url", req.URL, "error", err)
	}
	return encodeReply(err)
}

func (c *controller) handleGC(ctx context.Context) []byte {
	if !c.gcLimit.Allow() {
		return encodeReply(errThrottled)
	}
	err := c.session.CollectGarbage(ctx)
	if err != nil {
		c.log.Warn("forced collection failed", "error", err)
	}
	return encodeReply(err)
}

func encodeReply(err error) []byte {
	reply := controlReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	return data
}
