package filestore

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultConnectionAttempts is the number of connection attempts made when
// none is configured.
const DefaultConnectionAttempts = 3

// ConnectionManager applies a bounded retry policy around a transport's
// connect step. It holds no state between calls, so a single value can be
// shared by any number of transports.
//
// Only errors of kind KindConnection are retried. Any other error is returned
// immediately. Data operations are never retried.
type ConnectionManager struct {
	// Logger receives a warning for every failed attempt that is retried.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// NewBackOff returns the backoff policy for one Connect call. Defaults to
	// an exponential backoff.
	NewBackOff func() backoff.BackOff

	// Attempts is the maximum number of connect calls. Values below 1 are
	// treated as 1 (no retry).
	Attempts int
}

// Connect calls connect until it succeeds, fails with a non-retryable error,
// ctx is done, or Attempts calls have been made. In the last case the
// returned error has kind KindConnectionExhausted and wraps the last cause.
func (m ConnectionManager) Connect(ctx context.Context, scheme string, connect func(context.Context) error) error {
	attempts := m.Attempts
	if attempts < 1 {
		attempts = 1
	}

	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attempt := 0

	var last error

	op := func() error {
		attempt++

		err := connect(ctx)
		if err == nil {
			return nil
		}

		if KindOf(err) != KindConnection {
			return backoff.Permanent(err)
		}

		last = err

		return err
	}

	notify := func(err error, d time.Duration) {
		logger.WarnContext(ctx, "connection attempt failed, retrying",
			slog.String("scheme", scheme),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", d),
			slog.Any("err", err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), uint64(attempts-1)), ctx)

	err := backoff.RetryNotify(op, b, notify)

	switch {
	case err == nil:
		return nil
	case KindOf(err) == KindConnection && last != nil:
		return &TransportError{
			Kind:    KindConnectionExhausted,
			Scheme:  scheme,
			Op:      "connect",
			Attempt: attempt,
			Err:     last,
		}
	case ctx.Err() != nil && err == ctx.Err():
		return &TransportError{Kind: KindTransport, Scheme: scheme, Op: "connect", Attempt: attempt, Err: err}
	default:
		return err
	}
}

func (m ConnectionManager) newBackOff() backoff.BackOff {
	if m.NewBackOff != nil {
		return m.NewBackOff()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	return b
}
