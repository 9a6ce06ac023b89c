// Package tracefs instruments a transport for distributed tracing. The
// OpenTelemetry API is supported.
//
// This is not a transport implementation, but rather a wrapper around an
// existing transport. As such, it does not register any locator schemes.
//
// # Usage
//
// To use this package, call [New] with a transport. All operations on the
// returned transport will be instrumented. To instrument every transport of
// a FileStore, pass [Wrapper] to [filestore.WithTransportWrapper]:
//
//	store, err := filestore.New(mux, locators,
//		filestore.WithTransportWrapper(tracefs.Wrapper()))
//
// In order to report traces, an OTel [trace.TracerProvider] must first be set
// up. The details of this are outside the scope of this module, but see the
// fscli example in this repository's examples directory for one approach.
//
// A [trace.TracerProvider] can optionally be passed to [New] using
// [WithTracerProvider].
package tracefs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hairyhenderson/go-filestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type traceTransport struct {
	t      filestore.Transport
	tracer trace.Tracer
}

const tracerName = "github.com/hairyhenderson/go-filestore/tracefs"

// New returns a transport that instruments the given transport, adding a
// trace span for each operation. Streams opened with Read are traced until
// they're closed.
func New(t filestore.Transport, opts ...Option) filestore.Transport {
	cfg := config{}
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.tp == nil {
		cfg.tp = otel.GetTracerProvider()
	}

	return &traceTransport{
		t:      t,
		tracer: cfg.tp.Tracer(tracerName),
	}
}

// Wrapper returns a func suitable for [filestore.WithTransportWrapper],
// instrumenting every transport with the given options.
func Wrapper(opts ...Option) func(filestore.Transport) filestore.Transport {
	return func(t filestore.Transport) filestore.Transport {
		return New(t, opts...)
	}
}

type urlTransport interface {
	URL() string
}

var (
	_ filestore.Transport = (*traceTransport)(nil)
	_ filestore.Exclusive = (*traceTransport)(nil)
)

func (f *traceTransport) attribs(key string) trace.SpanStartEventOption {
	kvs := []attributeKV{Scheme(f.t.Scheme()), Type(fmt.Sprintf("%T", f.t))}

	if key != "" {
		kvs = append(kvs, Key(key))
	}

	if ut, ok := f.t.(urlTransport); ok {
		kvs = append(kvs, BaseURL(ut.URL()))
	}

	return trace.WithAttributes(kvs...)
}

func (f *traceTransport) Scheme() string {
	return f.t.Scheme()
}

// Exclusive passes through the wrapped transport's session semantics.
func (f *traceTransport) Exclusive() bool {
	e, ok := f.t.(filestore.Exclusive)

	return ok && e.Exclusive()
}

// URL passes through the wrapped transport's URL, if it has one.
func (f *traceTransport) URL() string {
	if ut, ok := f.t.(urlTransport); ok {
		return ut.URL()
	}

	return ""
}

func (f *traceTransport) WithTimeout(d time.Duration) filestore.Transport {
	return &traceTransport{t: filestore.WithTimeoutTransport(d, f.t), tracer: f.tracer}
}

func (f *traceTransport) WithHTTPClient(client *http.Client) filestore.Transport {
	return &traceTransport{t: filestore.WithHTTPClientTransport(client, f.t), tracer: f.tracer}
}

func (f *traceTransport) WithHeader(headers http.Header) filestore.Transport {
	return &traceTransport{t: filestore.WithHeaderTransport(headers, f.t), tracer: f.tracer}
}

func (f *traceTransport) Connect(ctx context.Context) error {
	ctx, span := f.tracer.Start(ctx, "transport.Connect", f.attribs(""))
	defer span.End()

	return recordError(span, f.t.Connect(ctx))
}

func (f *traceTransport) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := f.tracer.Start(ctx, "transport.Exists", f.attribs(key))
	defer span.End()

	ok, err := f.t.Exists(ctx, key)

	span.SetAttributes(KeyExists(ok))

	return ok, recordError(span, err)
}

func (f *traceTransport) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := f.tracer.Start(ctx, "transport.Get", f.attribs(key))
	defer span.End()

	b, err := f.t.Get(ctx, key)

	span.SetAttributes(BytesRead(int64(len(b))))

	return b, recordError(span, err)
}

func (f *traceTransport) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := f.tracer.Start(ctx, "transport.Read", f.attribs(key))
	defer span.End()

	rc, err := f.t.Read(ctx, key)
	if err != nil {
		return nil, recordError(span, err)
	}

	return wrapStream(ctx, rc, f.tracer, f.attribs(key)), nil
}

func (f *traceTransport) Put(ctx context.Context, key string, data []byte) error {
	ctx, span := f.tracer.Start(ctx, "transport.Put", f.attribs(key))
	defer span.End()

	span.SetAttributes(BytesWritten(int64(len(data))))

	return recordError(span, f.t.Put(ctx, key, data))
}

func (f *traceTransport) Delete(ctx context.Context, key string) error {
	ctx, span := f.tracer.Start(ctx, "transport.Delete", f.attribs(key))
	defer span.End()

	return recordError(span, f.t.Delete(ctx, key))
}

func (f *traceTransport) Close() error {
	_, span := f.tracer.Start(context.Background(), "transport.Close", f.attribs(""))
	defer span.End()

	return recordError(span, f.t.Close())
}

// recordError records the given error on the span, and returns it. The
// span's status is set to error, unless the error only reports that the key
// is absent.
func recordError(span trace.Span, err error) error {
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetAttributes(ErrorKind(filestore.KindOf(err).String()))

	if filestore.KindOf(err) != filestore.KindNotFound {
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}
