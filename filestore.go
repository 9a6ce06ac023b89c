package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// FileStore is the single entry point for reading and writing content across
// one or more backends. Each configured locator is bound to a Transport;
// operations fan out across them in configured order:
//
//   - Exists reports every backend holding the key
//   - Get and Read return the first successful result
//   - Put writes according to the configured WritePolicy
//   - Delete removes the key from every backend
//
// Sessions are established lazily, on first use, through a
// ConnectionManager. A FileStore is safe for concurrent use; access to
// transports whose sessions aren't (see Exclusive) is serialized.
type FileStore struct {
	log      *slog.Logger
	conn     ConnectionManager
	bindings []*binding
	cfg      Config
}

type binding struct {
	t    Transport
	loc  *Locator
	name string

	// held for the duration of every operation on exclusive transports
	opMu sync.Mutex
	// serializes connection establishment
	connMu    sync.Mutex
	connected atomic.Bool
	exclusive bool
}

// New returns a FileStore over the given locators, using provider to create
// a transport for each. No connections are made until the first operation.
//
// The provider is usually a TransportMux - see the autofs package for one
// with every transport in this module registered.
func New(provider TransportProvider, locators []string, opts ...Option) (*FileStore, error) {
	if len(locators) == 0 {
		return nil, invalidLocator("", errors.New("at least one locator is required"))
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	schemes := provider.Schemes()
	registered := func(scheme string) bool { return slices.Contains(schemes, scheme) }

	bindings := make([]*binding, 0, len(locators))

	for _, s := range locators {
		loc, err := parseLocator(s, registered)
		if err != nil {
			return nil, err
		}

		t, err := provider.New(loc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", loc.Redacted(), err)
		}

		t = WithTimeoutTransport(cfg.Timeout, t)

		if cfg.Wrap != nil {
			t = cfg.Wrap(t)
		}

		bindings = append(bindings, &binding{
			t:         t,
			loc:       loc,
			name:      loc.Redacted(),
			exclusive: isExclusive(t),
		})
	}

	return &FileStore{
		cfg: cfg,
		log: cfg.Logger,
		conn: ConnectionManager{
			Attempts:   cfg.ConnectionAttempts,
			NewBackOff: cfg.NewBackOff,
			Logger:     cfg.Logger,
		},
		bindings: bindings,
	}, nil
}

// Locators returns the (redacted) locators of the configured backends, in
// order.
func (s *FileStore) Locators() []string {
	out := make([]string, len(s.bindings))
	for i, b := range s.bindings {
		out[i] = b.name
	}

	return out
}

// Config returns the effective configuration.
func (s *FileStore) Config() Config {
	return s.cfg
}

func (s *FileStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}

	return context.WithCancel(ctx)
}

// acquire connects b if necessary and, for exclusive transports, takes the
// operation lock. The returned release func must always be called.
func (s *FileStore) acquire(ctx context.Context, b *binding) (func(), error) {
	release := func() {}

	if b.exclusive {
		b.opMu.Lock()
		release = b.opMu.Unlock
	}

	if err := s.connect(ctx, b); err != nil {
		release()

		return nil, err
	}

	return release, nil
}

func (s *FileStore) connect(ctx context.Context, b *binding) error {
	if b.connected.Load() {
		return nil
	}

	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.connected.Load() {
		return nil
	}

	if err := s.conn.Connect(ctx, b.loc.Scheme, b.t.Connect); err != nil {
		return err
	}

	b.connected.Store(true)

	return nil
}

// do runs fn against b's transport, connecting first if needed. A connection
// failure reported by fn forces a reconnect on the next call.
func (s *FileStore) do(ctx context.Context, b *binding, fn func(Transport) error) error {
	release, err := s.acquire(ctx, b)
	if err != nil {
		return err
	}
	defer release()

	err = fn(b.t)
	s.checkSession(b, err)

	return err
}

func (s *FileStore) checkSession(b *binding, err error) {
	if err != nil && KindOf(err) == KindConnection {
		b.connected.Store(false)
	}
}

// Exists returns the locators of every backend where key is present. An
// empty result means the key wasn't found anywhere. An error is returned
// only when no backend could answer at all.
func (s *FileStore) Exists(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	found := []string{}

	var errs error

	for _, b := range s.bindings {
		var ok bool

		err := s.do(ctx, b, func(t Transport) (err error) {
			ok, err = t.Exists(ctx, key)

			return err
		})
		if err != nil {
			s.log.WarnContext(ctx, "exists check failed",
				slog.String("locator", b.name), slog.String("key", key), slog.Any("err", err))

			errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.name, err))

			continue
		}

		if ok {
			found = append(found, b.name)
		}
	}

	if len(multierr.Errors(errs)) == len(s.bindings) {
		return found, s.aggregate("exists", key, errs)
	}

	return found, nil
}

// Get returns the content of key from the first backend that succeeds, in
// configured order. If every backend fails, the error has kind KindNotFound
// when all of them reported the key as absent, and wraps every cause.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var errs error

	for _, b := range s.bindings {
		var data []byte

		err := s.do(ctx, b, func(t Transport) (err error) {
			data, err = t.Get(ctx, key)

			return err
		})
		if err == nil {
			return data, nil
		}

		s.log.DebugContext(ctx, "get failed, trying next backend",
			slog.String("locator", b.name), slog.String("key", key), slog.Any("err", err))

		errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.name, err))
	}

	return nil, s.aggregate("get", key, errs)
}

// Read opens key for streaming from the first backend that has it. Each
// ReadChunk call on the result returns at most chunkSize bytes (the
// configured chunk size when chunkSize <= 0). The caller must close the
// returned StreamHandle; for exclusive transports the session stays locked
// until then.
func (s *FileStore) Read(ctx context.Context, key string, chunkSize int) (*StreamHandle, error) {
	if chunkSize <= 0 {
		chunkSize = s.cfg.ChunkSize
	}

	// the timeout bounds the whole stream, so it's only released on Close
	ctx, cancel := s.withTimeout(ctx)

	var errs error

	for _, b := range s.bindings {
		release, err := s.acquire(ctx, b)
		if err == nil {
			var rc io.ReadCloser

			rc, err = b.t.Read(ctx, key)
			if err == nil {
				stream := NewStreamHandle(rc, b.loc.Scheme, key, chunkSize)
				stream.onClose(func(closeErr error) {
					// a session lost mid-stream must be re-established
					s.checkSession(b, closeErr)
					release()
					cancel()
				})

				return stream, nil
			}

			s.checkSession(b, err)
			release()
		}

		s.log.DebugContext(ctx, "read failed, trying next backend",
			slog.String("locator", b.name), slog.String("key", key), slog.Any("err", err))

		errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.name, err))
	}

	cancel()

	return nil, s.aggregate("read", key, errs)
}

// Put writes data to key on every backend that supports writing, following
// the configured WritePolicy. Backends that don't support writing are
// skipped; if none do, an error of kind KindUnsupported is returned.
//
//nolint:gocyclo
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var errs, unsupported error

	attempted, succeeded := 0, 0

	for _, b := range s.bindings {
		err := s.do(ctx, b, func(t Transport) error {
			return t.Put(ctx, key, data)
		})

		if errors.Is(err, ErrUnsupported) {
			unsupported = multierr.Append(unsupported, fmt.Errorf("%s: %w", b.name, err))

			continue
		}

		attempted++

		if err == nil {
			succeeded++

			continue
		}

		if attempted == 1 && s.cfg.WritePolicy == WritePrimary {
			s.log.ErrorContext(ctx, "write to primary backend failed",
				slog.String("locator", b.name), slog.String("key", key), slog.Any("err", err))

			return s.aggregate("put", key, fmt.Errorf("%s: %w", b.name, err))
		}

		s.log.WarnContext(ctx, "write failed",
			slog.String("locator", b.name), slog.String("key", key),
			slog.String("policy", s.cfg.WritePolicy.String()), slog.Any("err", err))

		errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.name, err))
	}

	switch {
	case attempted == 0:
		return s.aggregate("put", key, unsupported)
	case s.cfg.WritePolicy == WriteAll && errs != nil:
		return s.aggregate("put", key, errs)
	case s.cfg.WritePolicy == WriteAny && succeeded == 0:
		return s.aggregate("put", key, errs)
	default:
		return nil
	}
}

// Upload writes the content of the local file at path to key, as Put does.
func (s *FileStore) Upload(ctx context.Context, path, key string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewError(KindTransport, SchemeFile, "upload", key, err)
	}

	return s.Put(ctx, key, data)
}

// Delete removes key from every backend that supports deletion. Backends
// that don't have the key succeed. Failures are aggregated.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var errs, unsupported error

	attempted := 0

	for _, b := range s.bindings {
		err := s.do(ctx, b, func(t Transport) error {
			return t.Delete(ctx, key)
		})

		if errors.Is(err, ErrUnsupported) {
			unsupported = multierr.Append(unsupported, fmt.Errorf("%s: %w", b.name, err))

			continue
		}

		attempted++

		if err != nil {
			s.log.WarnContext(ctx, "delete failed",
				slog.String("locator", b.name), slog.String("key", key), slog.Any("err", err))

			errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.name, err))
		}
	}

	if attempted == 0 {
		return s.aggregate("delete", key, unsupported)
	}

	if errs != nil {
		return s.aggregate("delete", key, errs)
	}

	return nil
}

// Download streams key into the local file at path. The file is replaced
// atomically: content is written to a temporary file in the same directory
// and renamed into place only once complete, so a failed download never
// leaves a partial file at path.
func (s *FileStore) Download(ctx context.Context, key, path string) error {
	stream, err := s.Read(ctx, key, s.cfg.ChunkSize)
	if err != nil {
		return err
	}
	defer stream.Close()

	return writeFileAtomic(path, stream)
}

// Close tears down every established session. The FileStore may be used
// again afterwards, in which case sessions are re-established.
func (s *FileStore) Close() error {
	var errs error

	for _, b := range s.bindings {
		// wait for in-flight operations and open streams on exclusive
		// sessions, taking the locks in the same order as acquire
		if b.exclusive {
			b.opMu.Lock()
		}

		b.connMu.Lock()

		if b.connected.Load() {
			if err := b.t.Close(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.name, err))
			}

			b.connected.Store(false)
		}

		b.connMu.Unlock()

		if b.exclusive {
			b.opMu.Unlock()
		}
	}

	return errs
}

// aggregate turns the errors collected from failed backends into the error
// returned to the caller. A single error is returned unmodified. Otherwise
// the kind is shared by every cause if they agree, or KindTransport.
func (s *FileStore) aggregate(op, key string, errs error) error {
	all := multierr.Errors(errs)

	switch len(all) {
	case 0:
		return nil
	case 1:
		return all[0]
	}

	kind := KindOf(all[0])
	for _, err := range all[1:] {
		if KindOf(err) != kind {
			kind = KindTransport

			break
		}
	}

	return &TransportError{Kind: kind, Op: op, Key: key, Err: errs}
}
