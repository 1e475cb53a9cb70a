package browser

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrConnectionExhausted = errors.New("connection retry budget exhausted")
	ErrNoTabsAvailable     = errors.New("no tabs available")
	ErrNotImplemented      = errors.New("not implemented")
	ErrProtocolAttach      = errors.New("protocol attach failed")
	ErrSessionClosed       = errors.New("browser session closed")
	ErrConnectionLost      = errors.New("protocol connection lost")
)

// Marionette failure origins.
const (
	OriginConnection = "connection"
	OriginSession    = "session"
	OriginCommands   = "commands"
)

// ConnectError is returned once the retry schedule gives up on an endpoint.
type ConnectError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect %s: gave up after %d attempts: %v", e.Addr, e.Attempts, e.Err)
	}
	return fmt.Sprintf("connect %s: gave up after %d attempts", e.Addr, e.Attempts)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectionExhausted
}

// MarionetteError tags a Marionette failure with where it happened, so callers can
// tell an unreachable endpoint from a command that was accepted and then failed.
type MarionetteError struct {
	Origin string
	Err    error
}

func (e *MarionetteError) Error() string {
	return fmt.Sprintf("marionette failure [%s]: %v", e.Origin, e.Err)
}

func (e *MarionetteError) Unwrap() error {
	return e.Err
}

// NewMarionetteError wraps err with its origin. A nil err yields nil.
func NewMarionetteError(origin string, err error) error {
	if err == nil {
		return nil
	}
	var existing *MarionetteError
	if errors.As(err, &existing) {
		return err
	}
	return &MarionetteError{Origin: origin, Err: err}
}

// AttachError reports a failed BiDi or CDP session creation.
type AttachError struct {
	Protocol string
	Err      error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("%s attach failed: %v", e.Protocol, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

func (e *AttachError) Is(target error) bool {
	return target == ErrProtocolAttach
}

// PhaseError names the setup phase that failed.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("firefox setup phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ProtocolError is an error response returned by a remote protocol endpoint.
type ProtocolError struct {
	Protocol string
	Code     string
	Message  string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s error [%s]", e.Protocol, e.Code)
	}
	return fmt.Sprintf("%s error [%s]: %s", e.Protocol, e.Code, e.Message)
}

// IsConnectionError returns true if the error indicates an unreachable or lost endpoint.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrConnectionExhausted) {
		return true
	}
	var marionetteErr *MarionetteError
	if errors.As(err, &marionetteErr) {
		return marionetteErr.Origin == OriginConnection
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsRetryableError returns true if a dial error might succeed on a later attempt.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionExhausted) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
