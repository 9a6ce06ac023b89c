package filestore

import (
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hairyhenderson/go-filestore/internal/env"
)

// WritePolicy decides how Put and its failures are fanned out across the
// transports of a FileStore.
type WritePolicy int

const (
	// WritePrimary requires the first transport that supports writing to
	// succeed. Failures on the remaining transports are logged but not
	// returned. This is the default.
	WritePrimary WritePolicy = iota
	// WriteAll requires every transport that supports writing to succeed.
	WriteAll
	// WriteAny requires at least one transport to succeed.
	WriteAny
)

func (p WritePolicy) String() string {
	switch p {
	case WriteAll:
		return "all"
	case WriteAny:
		return "any"
	default:
		return "primary"
	}
}

// Config holds the settings of a FileStore. Use Options to change them.
type Config struct {
	Logger *slog.Logger

	// NewBackOff overrides the ConnectionManager's backoff policy
	NewBackOff func() backoff.BackOff

	// Wrap, when set, is applied to every transport after construction
	Wrap func(Transport) Transport

	ConnectionAttempts int
	ChunkSize          int

	// Timeout bounds each FileStore call, and is passed on to transports that
	// support it. Zero means no timeout.
	Timeout     time.Duration
	WritePolicy WritePolicy
}

// Environment variables that override the built-in defaults. Each may
// instead be read from a file named by the same variable with a _FILE suffix.
const (
	EnvConnectionAttempts = "FILESTORE_CONNECTION_ATTEMPTS"
	EnvChunkSize          = "FILESTORE_CHUNK_SIZE"
	EnvTimeout            = "FILESTORE_TIMEOUT"
)

// DefaultConfig returns the default configuration, taking environment
// overrides into account.
func DefaultConfig() Config {
	return defaultConfig(os.DirFS("/"))
}

func defaultConfig(envfs fs.FS) Config {
	return Config{
		ConnectionAttempts: env.IntFS(envfs, EnvConnectionAttempts, DefaultConnectionAttempts),
		ChunkSize:          env.IntFS(envfs, EnvChunkSize, DefaultChunkSize),
		Timeout:            env.DurationFS(envfs, EnvTimeout, 0),
		WritePolicy:        WritePrimary,
	}
}

// Option specifies FileStore configuration options.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (o optionFunc) apply(c *Config) {
	o(c)
}

// WithConnectionAttempts sets the maximum number of connection attempts made
// for each transport session. Values below 1 are ignored.
func WithConnectionAttempts(n int) Option {
	return optionFunc(func(c *Config) {
		if n >= 1 {
			c.ConnectionAttempts = n
		}
	})
}

// WithChunkSize sets the default chunk size for streaming reads and
// downloads. Values below 1 are ignored.
func WithChunkSize(n int) Option {
	return optionFunc(func(c *Config) {
		if n >= 1 {
			c.ChunkSize = n
		}
	})
}

// WithTimeout bounds every FileStore call by d.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.Timeout = d
	})
}

// WithWritePolicy selects how writes are fanned out.
func WithWritePolicy(p WritePolicy) Option {
	return optionFunc(func(c *Config) {
		c.WritePolicy = p
	})
}

// WithLogger sets the logger used by the FileStore and its
// ConnectionManager.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithBackOff sets the backoff policy used between connection attempts.
func WithBackOff(f func() backoff.BackOff) Option {
	return optionFunc(func(c *Config) {
		c.NewBackOff = f
	})
}

// WithTransportWrapper wraps every transport with f (e.g. to instrument it).
// Wrappers are composed in the order given.
func WithTransportWrapper(f func(Transport) Transport) Option {
	return optionFunc(func(c *Config) {
		if f == nil {
			return
		}

		prev := c.Wrap
		if prev == nil {
			c.Wrap = f

			return
		}

		c.Wrap = func(t Transport) Transport { return f(prev(t)) }
	})
}
