package filestore

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Transport is a handle to a single storage backend. Every backend implements
// the same operation set, reporting failures as *TransportError values so
// that callers can handle all backends uniformly.
//
// Keys are slash-separated paths relative to the locator's base path. A
// Transport's session is established by Connect, which must be idempotent.
// Callers normally don't call Connect directly: the FileStore connects
// lazily, through a ConnectionManager, on first use.
type Transport interface {
	// Scheme returns the locator scheme this transport was created for
	Scheme() string

	// Connect establishes the backend session, if not already established.
	// Transient failures are reported with KindConnection.
	Connect(ctx context.Context) error

	// Exists reports whether key is present. Absence is not an error.
	Exists(ctx context.Context, key string) (bool, error)

	// Get fetches the full content of key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Read opens key for streaming. A missing key is reported here, before
	// any content is read. The caller must close the returned reader.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Put writes data to key, replacing any existing content.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error

	// Close tears down the session. A closed transport may be connected
	// again.
	Close() error
}

// Exclusive is implemented by transports whose session can't be used
// concurrently (e.g. a stateful FTP control connection). The FileStore
// serializes all access to such transports.
type Exclusive interface {
	Exclusive() bool
}

// Sizer is implemented by readers that know the length of their content.
type Sizer interface {
	Size() int64
}

type withTimeouter interface {
	WithTimeout(d time.Duration) Transport
}

// WithTimeoutTransport bounds the backend's network operations (dial, handshake,
// request) by d, if the transport supports it (i.e. has a WithTimeout
// method).
func WithTimeoutTransport(d time.Duration, t Transport) Transport {
	if tt, ok := t.(withTimeouter); ok && d > 0 {
		return tt.WithTimeout(d)
	}

	return t
}

type withHTTPClienter interface {
	WithHTTPClient(client *http.Client) Transport
}

// WithHTTPClientTransport overrides the HTTP client used by the transport, if the
// transport supports it (i.e. has a WithHTTPClient method).
func WithHTTPClientTransport(client *http.Client, t Transport) Transport {
	if ht, ok := t.(withHTTPClienter); ok && client != nil {
		return ht.WithHTTPClient(client)
	}

	return t
}

type withHeaderer interface {
	WithHeader(headers http.Header) Transport
}

// WithHeaderTransport injects headers into every request the transport makes, if the
// transport supports it (i.e. has a WithHeader method).
func WithHeaderTransport(headers http.Header, t Transport) Transport {
	if ht, ok := t.(withHeaderer); ok && headers != nil {
		return ht.WithHeader(headers)
	}

	return t
}

func isExclusive(t Transport) bool {
	e, ok := t.(Exclusive)

	return ok && e.Exclusive()
}
