package browser

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxRetries is the last attempt index that still gets a delay.
const DefaultMaxRetries = 62

// DefaultDialTimeout bounds a single TCP dial in Connect.
const DefaultDialTimeout = 2 * time.Second

// RetryThresholdEnv overrides MaxRetries for schedules built by RetryScheduleFromEnv.
const RetryThresholdEnv = "FOXWIRE_CONNECT_RETRY_THRESHOLD"

// RetrySchedule maps a 0-based attempt index to a backoff delay. The tiers are
// fixed rather than exponential: fast probing while a debug listener boots, then a
// steady slow poll up to MaxRetries.
type RetrySchedule struct {
	MaxRetries int
	// DialTimeout bounds each attempt made by Connect; zero means DefaultDialTimeout.
	DialTimeout time.Duration
}

// DefaultRetrySchedule returns the schedule used when nothing is configured.
func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{MaxRetries: DefaultMaxRetries, DialTimeout: DefaultDialTimeout}
}

// RetryScheduleFromEnv returns the default schedule, overridden by RetryThresholdEnv
// when it holds a non-negative integer.
func RetryScheduleFromEnv() RetrySchedule {
	sched := DefaultRetrySchedule()
	raw := strings.TrimSpace(os.Getenv(RetryThresholdEnv))
	if raw == "" {
		return sched
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		sched.MaxRetries = n
	}
	return sched
}

// Delay returns the wait before the next attempt, or false once attempt exceeds
// MaxRetries.
func (s RetrySchedule) Delay(attempt int) (time.Duration, bool) {
	if attempt > s.MaxRetries {
		return 0, false
	}
	switch {
	case attempt < 10:
		return 100 * time.Millisecond, true
	case attempt < 18:
		return 500 * time.Millisecond, true
	default:
		return time.Second, true
	}
}

// Retry calls fn until it succeeds or the schedule stops. The returned error matches
// ErrConnectionExhausted when the budget runs out; context errors are returned as is.
func Retry(ctx context.Context, addr string, sched RetrySchedule, fn func(ctx context.Context, attempt int) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		connectAttempts.WithLabelValues(addrLabel(addr)).Inc()
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		delay, ok := sched.Delay(attempt)
		if !ok {
			connectExhausted.WithLabelValues(addrLabel(addr)).Inc()
			return &ConnectError{Addr: addr, Attempts: attempt + 1, Err: lastErr}
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Connect opens a TCP connection to host:port, retrying on the schedule. It speaks no
// protocol; callers layer their grammar on the returned conn.
func Connect(ctx context.Context, host string, port int, sched RetrySchedule) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var conn net.Conn
	timeout := sched.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	err := Retry(ctx, addr, sched, func(ctx context.Context, attempt int) error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// addrLabel strips the port so metric cardinality stays bounded.
func addrLabel(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
