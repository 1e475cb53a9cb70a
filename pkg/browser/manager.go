package browser

import (
	"fmt"
	"sync"
)

// Session is the lifecycle surface the manager needs from a browser session.
type Session interface {
	ID() string
	Close() error
}

// Manager tracks live browser sessions, one per browser process.
type Manager struct {
	sessions map[string]Session
	mu       sync.Mutex
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]Session),
	}
}

// Register adds a session. IDs must be unique among live sessions.
func (m *Manager) Register(sess Session) error {
	if m == nil {
		return ErrSessionClosed
	}
	if sess == nil || sess.ID() == "" {
		return fmt.Errorf("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sess.ID()]; exists {
		return fmt.Errorf("session already exists: %s", sess.ID())
	}
	m.sessions[sess.ID()] = sess
	return nil
}

// Get returns a session by ID.
func (m *Manager) Get(sessionID string) (Session, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseSession closes and removes a session.
func (m *Manager) CloseSession(sessionID string) error {
	if m == nil {
		return ErrSessionClosed
	}
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok || sess == nil {
		return ErrSessionClosed
	}
	return sess.Close()
}

// Close closes all sessions.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]Session)
	m.mu.Unlock()

	var lastErr error
	for _, sess := range sessions {
		if sess == nil {
			continue
		}
		if err := sess.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
