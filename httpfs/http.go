package httpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hairyhenderson/go-filestore"
	"github.com/hairyhenderson/go-filestore/internal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type httpTransport struct {
	base    *url.URL
	client  *http.Client
	headers http.Header
	scheme  string
	user    string
	secret  string
	auth    bool
}

// New provides a read-only transport for the HTTP (or HTTPS) endpoint rooted
// at the locator. This transport is suitable for use with the 'http' or
// 'https' schemes. All reads are made with the GET method, while existence
// checks are made with the HEAD method (with a fallback to GET).
//
// Credentials in the locator are sent with HTTP Basic authentication.
// HTTP Headers can be provided by using filestore.WithHeaderTransport, and a
// custom client with filestore.WithHTTPClientTransport.
func New(loc *filestore.Locator) (filestore.Transport, error) {
	base := loc.URL()
	base.User = nil

	// keys are resolved relative to the base path, so it must be a "directory"
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	return &httpTransport{
		base: base,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		headers: http.Header{},
		scheme:  loc.Scheme,
		user:    loc.User,
		secret:  loc.Secret,
		auth:    loc.HasCredentials(),
	}, nil
}

// FS is used to register this transport with a filestore.TransportMux
//
//nolint:gochecknoglobals
var FS = filestore.TransportProviderFunc(New, filestore.SchemeHTTP, filestore.SchemeHTTPS)

var _ filestore.Transport = (*httpTransport)(nil)

func (f *httpTransport) Scheme() string {
	return f.scheme
}

// URL returns the base URL of this transport. It never contains credentials.
func (f *httpTransport) URL() string {
	return f.base.String()
}

func (f *httpTransport) WithTimeout(d time.Duration) filestore.Transport {
	fsys := *f
	client := *f.client
	client.Timeout = d
	fsys.client = &client

	return &fsys
}

func (f *httpTransport) WithHeader(headers http.Header) filestore.Transport {
	if headers == nil {
		return f
	}

	fsys := *f
	fsys.headers = f.headers.Clone()

	for k, vs := range headers {
		for _, v := range vs {
			fsys.headers.Add(k, v)
		}
	}

	return &fsys
}

func (f *httpTransport) WithHTTPClient(client *http.Client) filestore.Transport {
	if client == nil {
		return f
	}

	fsys := *f
	fsys.client = client

	return &fsys
}

// Connect is a no-op: HTTP has no session to establish.
func (f *httpTransport) Connect(_ context.Context) error {
	return nil
}

func (f *httpTransport) Close() error {
	f.client.CloseIdleConnections()

	return nil
}

func (f *httpTransport) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := f.request(ctx, http.MethodHead, key)

	var he httpErr
	if errors.As(err, &he) && he.StatusCode() == http.StatusMethodNotAllowed {
		// fall back to GET if HEAD returns 405
		resp, err = f.request(ctx, http.MethodGet, key)
	}

	if errors.Is(err, filestore.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	resp.Body.Close()

	return true, nil
}

func (f *httpTransport) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := f.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, filestore.NewError(filestore.KindTransport, f.scheme, "get", key, err)
	}

	return b, nil
}

func (f *httpTransport) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := f.request(ctx, http.MethodGet, key)
	if err != nil {
		return nil, err
	}

	// The response body must be closed later
	return internal.SizedReadCloser(resp.Body, resp.ContentLength), nil
}

func (f *httpTransport) Put(_ context.Context, key string, _ []byte) error {
	return filestore.Unsupported(f.scheme, "put", key)
}

func (f *httpTransport) Delete(_ context.Context, key string) error {
	return filestore.Unsupported(f.scheme, "delete", key)
}

func (f *httpTransport) request(ctx context.Context, method, key string) (*http.Response, error) {
	op := strings.ToLower(method)

	u, err := internal.SubURL(f.base, key)
	if err != nil {
		return nil, filestore.NewError(filestore.KindTransport, f.scheme, op, key, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, filestore.NewError(filestore.KindTransport, f.scheme, op, key, err)
	}

	req.Header = f.headers.Clone()

	if f.auth {
		req.SetBasicAuth(f.user, f.secret)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, filestore.NewError(filestore.KindTransport, f.scheme, op, key, err)
	}

	// redirects have already been followed, so anything but 2xx is a failure
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()

		kind := filestore.KindTransport
		if resp.StatusCode == http.StatusNotFound {
			kind = filestore.KindNotFound
		}

		return nil, filestore.NewError(kind, f.scheme, op, key, httpError(method, resp.StatusCode))
	}

	return resp, nil
}

// httpError represents an HTTP error with its status code
func httpError(method string, statusCode int) error {
	return httpErr{
		method:     method,
		statusCode: statusCode,
	}
}

type httpErr struct {
	method     string
	statusCode int
}

func (e httpErr) Error() string {
	return fmt.Sprintf("http %s failed with status %d", e.method, e.statusCode)
}

func (e httpErr) StatusCode() int {
	return e.statusCode
}
