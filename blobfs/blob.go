package blobfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/hairyhenderson/go-filestore"
	"github.com/hairyhenderson/go-filestore/internal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// opener opens the bucket for a transport. Implementations are
// per-provider, and must not retain the context.
type opener interface {
	open(ctx context.Context, hc clientConfig) (*blob.Bucket, error)
	// bucketName is used in errors and traces
	bucketName() string
}

// clientConfig carries the HTTP settings for opening a bucket. custom is nil
// unless a client was set with WithHTTPClient.
type clientConfig struct {
	custom  *http.Client
	timeout time.Duration
}

// client returns the custom client, or an instrumented client over base
func (c clientConfig) client(base http.RoundTripper) *http.Client {
	if c.custom != nil {
		client := *c.custom
		if c.timeout > 0 {
			client.Timeout = c.timeout
		}

		return &client
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(base),
		Timeout:   c.timeout,
	}
}

type blobTransport struct {
	bucket *blob.Bucket
	opener opener
	hc     clientConfig
	scheme string
	prefix string
	mu     sync.Mutex
}

// New returns a transport for the object storage bucket (or container) named
// by the locator. The 's3', 'gs', and 'blob'/'azure'/'azblob' schemes are
// supported. See the package documentation for how buckets and credentials
// are resolved.
func New(loc *filestore.Locator) (filestore.Transport, error) {
	return newTransport(loc, os.DirFS("/"))
}

func newTransport(loc *filestore.Locator, envfs fs.FS) (*blobTransport, error) {
	var (
		o      opener
		prefix string
		err    error
	)

	switch loc.Scheme {
	case filestore.SchemeS3:
		o, prefix, err = newS3Opener(loc, envfs)
	case filestore.SchemeGCS:
		o, prefix, err = newGCSOpener(loc, envfs)
	case filestore.SchemeBlob, filestore.SchemeAzure, filestore.SchemeAzBlob:
		o, prefix, err = newAzureOpener(loc, envfs)
	default:
		err = fmt.Errorf("unsupported scheme %q", loc.Scheme)
	}

	if err != nil {
		return nil, filestore.NewError(filestore.KindInvalidLocator, loc.Scheme, "new", "", err)
	}

	return &blobTransport{
		opener: o,
		scheme: loc.Scheme,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// FS is used to register this transport with a filestore.TransportMux
//
//nolint:gochecknoglobals
var FS = filestore.TransportProviderFunc(New,
	filestore.SchemeS3, filestore.SchemeGCS,
	filestore.SchemeBlob, filestore.SchemeAzure, filestore.SchemeAzBlob)

var _ filestore.Transport = (*blobTransport)(nil)

func (f *blobTransport) Scheme() string {
	return f.scheme
}

// Bucket returns the name of the bucket (or container) this transport uses.
func (f *blobTransport) Bucket() string {
	return f.opener.bucketName()
}

// Prefix returns the key prefix within the bucket, if any.
func (f *blobTransport) Prefix() string {
	return f.prefix
}

func (f *blobTransport) WithHTTPClient(client *http.Client) filestore.Transport {
	if client == nil {
		return f
	}

	return &blobTransport{
		opener: f.opener,
		hc:     clientConfig{custom: client, timeout: f.hc.timeout},
		scheme: f.scheme,
		prefix: f.prefix,
	}
}

func (f *blobTransport) WithTimeout(d time.Duration) filestore.Transport {
	return &blobTransport{
		opener: f.opener,
		hc:     clientConfig{custom: f.hc.custom, timeout: d},
		scheme: f.scheme,
		prefix: f.prefix,
	}
}

// Connect opens the bucket. Nothing is listed here, so buckets that allow
// object reads but not listing still connect. Missing buckets and denied
// access surface from the data operations.
func (f *blobTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bucket != nil {
		return nil
	}

	bucket, err := f.opener.open(ctx, f.hc)
	if err != nil {
		var te *filestore.TransportError
		if errors.As(err, &te) {
			return err
		}

		return filestore.NewError(filestore.KindConnection, f.scheme, "connect", "", err)
	}

	f.bucket = bucket

	return nil
}

func (f *blobTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bucket == nil {
		return nil
	}

	err := f.bucket.Close()
	f.bucket = nil

	if err != nil {
		return filestore.NewError(filestore.KindTransport, f.scheme, "close", "", err)
	}

	return nil
}

func (f *blobTransport) session(op, key string) (*blob.Bucket, string, error) {
	clean, ok := internal.CleanKey(key)
	if !ok {
		return nil, "", filestore.NewError(filestore.KindTransport, f.scheme, op, key, fs.ErrInvalid)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bucket == nil {
		return nil, "", filestore.NewError(filestore.KindConnection, f.scheme, op, key,
			errors.New("not connected"))
	}

	return f.bucket, internal.JoinKey(f.prefix, clean), nil
}

func (f *blobTransport) Exists(ctx context.Context, key string) (bool, error) {
	bucket, k, err := f.session("exists", key)
	if err != nil {
		return false, err
	}

	ok, err := bucket.Exists(ctx, k)
	if err != nil {
		return false, f.err("exists", key, err, filestore.KindTransport)
	}

	return ok, nil
}

func (f *blobTransport) Get(ctx context.Context, key string) ([]byte, error) {
	bucket, k, err := f.session("get", key)
	if err != nil {
		return nil, err
	}

	b, err := bucket.ReadAll(ctx, k)
	if err != nil {
		return nil, f.err("get", key, err, filestore.KindTransport)
	}

	return b, nil
}

func (f *blobTransport) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	bucket, k, err := f.session("read", key)
	if err != nil {
		return nil, err
	}

	r, err := bucket.NewReader(ctx, k, nil)
	if err != nil {
		return nil, f.err("read", key, err, filestore.KindTransport)
	}

	return internal.SizedReadCloser(r, r.Size()), nil
}

func (f *blobTransport) Put(ctx context.Context, key string, data []byte) error {
	bucket, k, err := f.session("put", key)
	if err != nil {
		return err
	}

	opts := &blob.WriterOptions{ContentType: filestore.ContentType(key)}

	if err := bucket.WriteAll(ctx, k, data, opts); err != nil {
		return f.err("put", key, err, filestore.KindTransport)
	}

	return nil
}

func (f *blobTransport) Delete(ctx context.Context, key string) error {
	bucket, k, err := f.session("delete", key)
	if err != nil {
		return err
	}

	err = bucket.Delete(ctx, k)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return f.err("delete", key, err, filestore.KindTransport)
	}

	return nil
}

// err maps Go CDK error codes into the filestore taxonomy, using def for
// anything unrecognized
func (f *blobTransport) err(op, key string, err error, def filestore.Kind) error {
	kind := def

	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		kind = filestore.KindNotFound
	case gcerrors.PermissionDenied:
		kind = filestore.KindPermission
	case gcerrors.Unimplemented:
		kind = filestore.KindUnsupported
	default:
		// the S3 and Azure drivers leave most denials as Unknown
		switch statusCode(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = filestore.KindPermission
		case http.StatusNotFound:
			kind = filestore.KindNotFound
		}
	}

	return filestore.NewError(kind, f.scheme, op, key, err)
}

// statusCode digs the HTTP status out of an S3 or Azure response error, or
// returns 0
func statusCode(err error) int {
	var awsErr interface{ HTTPStatusCode() int }
	if errors.As(err, &awsErr) {
		return awsErr.HTTPStatusCode()
	}

	var azErr *azcore.ResponseError
	if errors.As(err, &azErr) {
		return azErr.StatusCode
	}

	return 0
}
