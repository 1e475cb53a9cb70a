package cdpsocket

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/foxwire/pkg/browser"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// Server is a namespace node. The root is created by NewServer; children come from
// Of and follow the root whenever it is attached to a new client.
type Server struct {
	namespace string
	opts      Options
	log       *logging.Logger

	mu           sync.Mutex
	client       browser.CDPClient
	socket       *Socket
	children     map[string]*Server
	nextID       int
	onConnection []connectionHandler
}

type connectionHandler struct {
	id int
	fn func(*Socket)
}

// NewServer creates the root node for namespace ("default" when empty).
func NewServer(namespace string, opts Options) *Server {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	opts = opts.withDefaults()
	return &Server{
		namespace: namespace,
		opts:      opts,
		log:       opts.Logger.OrDiscard().WithNamespace(namespace),
		children:  make(map[string]*Server),
	}
}

// Namespace returns the node's namespace.
func (s *Server) Namespace() string {
	return s.namespace
}

// Of returns the child for namespace, creating it on first use. A child created
// after attach is connected on the next AttachClient.
func (s *Server) Of(namespace string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.children[namespace]
	if !ok {
		child = NewServer(namespace, s.opts)
		s.children[namespace] = child
	}
	return child
}

// Namespaces lists child namespaces in sorted order.
func (s *Server) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.children))
	for name := range s.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// To returns s; rooms are not supported.
func (s *Server) To(room string) *Server {
	return s
}

// OnConnection registers fn to run each time the node gets a new socket.
func (s *Server) OnConnection(fn func(*Socket)) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.onConnection = append(s.onConnection, connectionHandler{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, h := range s.onConnection {
			if h.id == id {
				s.onConnection = append(s.onConnection[:i:i], s.onConnection[i+1:]...)
				return
			}
		}
	}
}

// Socket returns the live socket, or nil before the first attach.
func (s *Server) Socket() *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socket
}

// AttachClient closes the previous client and binds this node and every child to
// client. Children are connected before this node's connection handlers run.
func (s *Server) AttachClient(ctx context.Context, client browser.CDPClient) error {
	return s.attach(ctx, client, true)
}

func (s *Server) attach(ctx context.Context, client browser.CDPClient, closePrevious bool) error {
	s.mu.Lock()
	previous := s.client
	previousSocket := s.socket
	s.client = client
	s.socket = nil
	children := make([]*Server, 0, len(s.children))
	for _, child := range s.children {
		children = append(children, child)
	}
	s.mu.Unlock()

	if previousSocket != nil {
		previousSocket.Close()
	}
	if closePrevious && previous != nil && previous != client {
		if err := previous.Close(); err != nil {
			s.log.Debug("closing previous cdp client failed", "error", err)
		}
	}

	socket, err := Init(ctx, client, s.namespace, s.opts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.socket = socket
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			return child.attach(gctx, client, false)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("attach namespaces of %s: %w", s.namespace, err)
	}

	s.mu.Lock()
	handlers := make([]func(*Socket), 0, len(s.onConnection))
	for _, h := range s.onConnection {
		handlers = append(handlers, h.fn)
	}
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(socket)
	}
	s.log.Debug("socket connected")
	return nil
}

// Emit forwards to the live socket. It reports false when there is none.
func (s *Server) Emit(event string, args ...any) bool {
	socket := s.Socket()
	if socket == nil {
		browser.CountSocketDrop(s.namespace)
		return false
	}
	return socket.Emit(event, args...)
}

// Detach closes the sockets of this node and its children. Clients are left open.
func (s *Server) Detach() {
	s.mu.Lock()
	socket := s.socket
	s.socket = nil
	s.client = nil
	children := make([]*Server, 0, len(s.children))
	for _, child := range s.children {
		children = append(children, child)
	}
	s.mu.Unlock()

	for _, child := range children {
		child.Detach()
	}
	if socket != nil {
		socket.Close()
	}
}

// Close is not supported.
func (s *Server) Close() error {
	return browser.ErrNotImplemented
}

// DisconnectSockets is not supported.
func (s *Server) DisconnectSockets(close bool) error {
	return browser.ErrNotImplemented
}
