package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is a structured logger for foxwire components.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger on stderr for component.
func NewLogger(component string, level slog.Level) *Logger {
	return NewLoggerTo(os.Stderr, component, level)
}

// NewLoggerTo creates a JSON logger writing to w.
func NewLoggerTo(w io.Writer, component string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(w, opts)

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "foxwire"),
	)

	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OrDiscard returns l, or a discard logger when l is nil.
func (l *Logger) OrDiscard() *Logger {
	if l == nil || l.Logger == nil {
		return Discard()
	}
	return l
}

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("session_id", sessionID),
		),
	}
}

// WithProtocol returns a logger tagged with a remote protocol name.
func (l *Logger) WithProtocol(protocol string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("protocol", protocol),
		),
	}
}

// WithNamespace returns a logger tagged with a socket namespace.
func (l *Logger) WithNamespace(namespace string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("namespace", namespace),
		),
	}
}

// PhaseStarted logs the start of a setup phase.
func (l *Logger) PhaseStarted(phase string) {
	l.Debug("setup phase started",
		slog.String("phase", phase),
	)
}

// PhaseCompleted logs the end of a setup phase.
func (l *Logger) PhaseCompleted(phase string, latency time.Duration, err error) {
	if err != nil {
		l.Error("setup phase failed",
			slog.String("phase", phase),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()),
		)
		return
	}
	l.Debug("setup phase completed",
		slog.String("phase", phase),
		slog.Duration("latency", latency),
	)
}

// ProtocolError logs an error received on a protocol channel that is being ignored.
func (l *Logger) ProtocolError(protocol string, err error) {
	l.Warn("received error from protocol connection, ignoring",
		slog.String("protocol", protocol),
		slog.Any("error", err),
	)
}

// Record implements browser.DiagnosticSink by logging at debug level.
func (l *Logger) Record(key string, payload any) {
	l.Debug(key,
		slog.String("diagnostic", key),
		slog.Any("payload", payload),
	)
}
