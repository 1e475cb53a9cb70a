package browser

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarionetteErrorOrigin(t *testing.T) {
	assert.Nil(t, NewMarionetteError(OriginSession, nil))

	base := errors.New("session not created")
	err := NewMarionetteError(OriginSession, base)
	var merr *MarionetteError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, OriginSession, merr.Origin)
	assert.ErrorIs(t, err, base)

	// an existing origin is kept
	wrapped := NewMarionetteError(OriginCommands, fmt.Errorf("install: %w", err))
	require.ErrorAs(t, wrapped, &merr)
	assert.Equal(t, OriginSession, merr.Origin)
}

func TestAttachAndPhaseErrors(t *testing.T) {
	cause := errors.New("no target")
	err := &PhaseError{Phase: "cdp", Err: &AttachError{Protocol: "cdp", Err: cause}}

	assert.ErrorIs(t, err, ErrProtocolAttach)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "firefox setup phase cdp: cdp attach failed: no target", err.Error())
}

func TestProtocolErrorMessage(t *testing.T) {
	assert.Equal(t, "rdp error [noSuchActor]", (&ProtocolError{Protocol: "rdp", Code: "noSuchActor"}).Error())
	assert.Equal(t, "marionette error [unknown error]: boom",
		(&ProtocolError{Protocol: "marionette", Code: "unknown error", Message: "boom"}).Error())
}

func TestErrorClassification(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}

	tests := []struct {
		name       string
		err        error
		connection bool
		retryable  bool
	}{
		{name: "nil"},
		{name: "lost", err: fmt.Errorf("read: %w", ErrConnectionLost), connection: true},
		{name: "exhausted", err: &ConnectError{Addr: "a:1", Attempts: 3, Err: opErr}, connection: true},
		{name: "dial", err: opErr, connection: true, retryable: true},
		{name: "marionette connection", err: NewMarionetteError(OriginConnection, errors.New("eof")), connection: true},
		{name: "marionette commands", err: NewMarionetteError(OriginCommands, errors.New("bad"))},
		{name: "other", err: ErrNoTabsAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.connection, IsConnectionError(tt.err))
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}
