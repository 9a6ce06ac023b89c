package tracefs

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/hairyhenderson/go-filestore"
	"go.opentelemetry.io/otel/trace"
)

// traceStream wraps a stream opened by Read in a span that lasts until the
// stream is closed. Individual reads aren't traced, since streams are read
// in many small chunks.
type traceStream struct {
	rc       io.ReadCloser
	span     trace.Span
	closeErr error
	n        int64
	once     sync.Once
}

var _ filestore.Sizer = (*traceStream)(nil)

func wrapStream(ctx context.Context, rc io.ReadCloser, tracer trace.Tracer, attribs trace.SpanStartEventOption) io.ReadCloser {
	_, span := tracer.Start(ctx, "stream", attribs)

	s := &traceStream{rc: rc, span: span}

	if size := s.Size(); size >= 0 {
		span.SetAttributes(ContentSize(size))
	}

	return s
}

// Size passes through the content length of the wrapped stream, if known.
func (s *traceStream) Size() int64 {
	if sz, ok := s.rc.(filestore.Sizer); ok {
		return sz.Size()
	}

	return -1
}

func (s *traceStream) Read(p []byte) (int, error) {
	n, err := s.rc.Read(p)
	s.n += int64(n)

	if err != nil && !errors.Is(err, io.EOF) {
		_ = recordError(s.span, err)
	}

	return n, err
}

// Close closes the wrapped stream and ends the span. Later calls return the
// first call's result.
func (s *traceStream) Close() error {
	s.once.Do(func() {
		s.closeErr = s.rc.Close()

		s.span.SetAttributes(BytesRead(s.n))
		_ = recordError(s.span, s.closeErr)
		s.span.End()
	})

	return s.closeErr
}
