package tests

import (
	"errors"
	"io"
	"net/url"
)

func MustURL(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}

	return u
}

// Content returns n bytes of deterministic, non-repeating-looking test data.
func Content(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*7 + i/251) % 256)
	}

	return b
}

// ErrMidStream is returned by FailingReader once its data is exhausted.
var ErrMidStream = errors.New("connection reset mid-stream")

// FailingReader returns a reader that yields data and then fails with
// ErrMidStream instead of io.EOF.
func FailingReader(data []byte) io.ReadCloser {
	return &failingReader{data: data}
}

type failingReader struct {
	data []byte
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, ErrMidStream
	}

	n := copy(p, r.data)
	r.data = r.data[n:]

	return n, nil
}

func (r *failingReader) Close() error { return nil }
