package filestore

import (
	"errors"
	"io"
	"sync"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 64 * 1024

// StreamHandle is a lazy, forward-only view of remote content. It can't be
// restarted: a fresh read requires a new StreamHandle.
//
// Exhaustion and failure are distinct terminal states: ReadChunk returns
// io.EOF once all content has been consumed, and once any other error has
// been returned, every later call returns that same error. There is no
// silent resume.
type StreamHandle struct {
	rc      io.ReadCloser
	err     error
	release func(closeErr error)
	scheme  string
	key     string
	size    int64
	chunk   int
	closed  bool
	once    sync.Once
}

var (
	_ io.ReadCloser = (*StreamHandle)(nil)
	_ io.WriterTo   = (*StreamHandle)(nil)
)

// NewStreamHandle wraps rc, reading at most chunkSize bytes per ReadChunk
// call. A chunkSize <= 0 selects DefaultChunkSize.
func NewStreamHandle(rc io.ReadCloser, scheme, key string, chunkSize int) *StreamHandle {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	size := int64(-1)
	if s, ok := rc.(Sizer); ok {
		size = s.Size()
	}

	return &StreamHandle{rc: rc, scheme: scheme, key: key, size: size, chunk: chunkSize}
}

// onClose registers f to be run exactly once, when the stream is closed. f
// gets the underlying reader's Close error.
func (s *StreamHandle) onClose(f func(closeErr error)) {
	s.release = f
}

// Size returns the content length, or -1 if the backend didn't report one.
func (s *StreamHandle) Size() int64 {
	return s.size
}

// ChunkSize returns the maximum number of bytes returned by ReadChunk.
func (s *StreamHandle) ChunkSize() int {
	return s.chunk
}

// ReadChunk pulls the next chunk of at most ChunkSize bytes. It returns
// io.EOF (and no data) once the content is exhausted.
func (s *StreamHandle) ReadChunk() ([]byte, error) {
	buf := make([]byte, s.chunk)

	for {
		n, err := s.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}

		if err != nil {
			return nil, err
		}
	}
}

// Read implements io.Reader. Errors other than io.EOF are wrapped as
// *TransportError values and are sticky.
func (s *StreamHandle) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	if s.closed {
		return 0, NewError(KindTransport, s.scheme, "read", s.key, errors.New("stream closed"))
	}

	if len(p) > s.chunk {
		p = p[:s.chunk]
	}

	n, err := s.rc.Read(p)

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.err = io.EOF
	default:
		var te *TransportError
		if !errors.As(err, &te) {
			err = NewError(KindTransport, s.scheme, "read", s.key, err)
		}

		s.err = err
	}

	return n, err
}

// WriteTo implements io.WriterTo, copying the remaining content to w one
// chunk at a time.
func (s *StreamHandle) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for {
		b, err := s.ReadChunk()
		if errors.Is(err, io.EOF) {
			return total, nil
		}

		if err != nil {
			return total, err
		}

		n, err := w.Write(b)
		total += int64(n)

		if err != nil {
			return total, err
		}
	}
}

// Close releases the underlying reader (and, for exclusive transports, the
// session it holds). It is safe to call more than once.
func (s *StreamHandle) Close() error {
	var err error

	s.once.Do(func() {
		s.closed = true
		err = s.rc.Close()

		if s.release != nil {
			s.release(err)
		}
	})

	return err
}
