package internal

import "io"

// A few convenience functions and types intended for use only inside this
// module for now.

// SizedReadCloser attaches a known content length to rc. The result
// implements a Size() int64 method, which stream handles use to report the
// content length. A negative size means unknown.
func SizedReadCloser(rc io.ReadCloser, size int64) io.ReadCloser {
	if size < 0 {
		return rc
	}

	return &sizedReadCloser{ReadCloser: rc, size: size}
}

type sizedReadCloser struct {
	io.ReadCloser
	size int64
}

func (r *sizedReadCloser) Size() int64 { return r.size }

// ReadCloserFunc adapts r into an io.ReadCloser whose Close calls closeFunc.
func ReadCloserFunc(r io.Reader, closeFunc func() error) io.ReadCloser {
	return &readCloser{Reader: r, close: closeFunc}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error {
	if r.close == nil {
		return nil
	}

	return r.close()
}
