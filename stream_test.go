package filestore

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hairyhenderson/go-filestore/internal"
	"github.com/hairyhenderson/go-filestore/internal/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCloser struct {
	io.Reader
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++

	return nil
}

func TestStreamHandle_Chunks(t *testing.T) {
	content := tests.Content(10)
	s := NewStreamHandle(io.NopCloser(bytes.NewReader(content)), "file", "k", 4)

	assert.Equal(t, 4, s.ChunkSize())
	assert.Equal(t, int64(-1), s.Size())

	var got [][]byte

	for {
		b, err := s.ReadChunk()
		if errors.Is(err, io.EOF) {
			assert.Empty(t, b)

			break
		}

		require.NoError(t, err)
		got = append(got, b)
	}

	require.Len(t, got, 3)
	assert.Len(t, got[0], 4)
	assert.Len(t, got[1], 4)
	assert.Len(t, got[2], 2)
	assert.Equal(t, content, bytes.Join(got, nil))

	// exhaustion is terminal
	_, err := s.ReadChunk()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamHandle_Empty(t *testing.T) {
	s := NewStreamHandle(io.NopCloser(strings.NewReader("")), "file", "k", 0)
	assert.Equal(t, DefaultChunkSize, s.ChunkSize())

	_, err := s.ReadChunk()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamHandle_ReadCapsAtChunkSize(t *testing.T) {
	s := NewStreamHandle(io.NopCloser(bytes.NewReader(tests.Content(100))), "file", "k", 8)

	n, err := s.Read(make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestStreamHandle_StickyError(t *testing.T) {
	s := NewStreamHandle(tests.FailingReader([]byte("abc")), "ftp", "k", 2)

	b, err := s.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, "ab", string(b))

	b, err = s.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, "c", string(b))

	_, err = s.ReadChunk()
	require.ErrorIs(t, err, tests.ErrMidStream)
	require.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, io.EOF)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "ftp", te.Scheme)
	assert.Equal(t, "k", te.Key)

	// no silent resume
	_, err2 := s.ReadChunk()
	assert.Equal(t, err, err2)
}

func TestStreamHandle_KeepsTransportErrorKind(t *testing.T) {
	src := io.NopCloser(errReader{NewError(KindConnection, "sftp", "read", "k", io.ErrClosedPipe)})
	s := NewStreamHandle(src, "sftp", "k", 2)

	_, err := s.ReadChunk()
	require.ErrorIs(t, err, ErrConnection)
}

func TestStreamHandle_Size(t *testing.T) {
	rc := internal.SizedReadCloser(io.NopCloser(strings.NewReader("hello")), 5)

	s := NewStreamHandle(rc, "s3", "k", 2)
	assert.Equal(t, int64(5), s.Size())
}

func TestStreamHandle_Close(t *testing.T) {
	rc := &countingCloser{Reader: strings.NewReader("hello")}
	s := NewStreamHandle(rc, "file", "k", 2)

	released := 0
	s.onClose(func(closeErr error) {
		assert.NoError(t, closeErr)
		released++
	})

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, rc.closes)
	assert.Equal(t, 1, released)

	_, err := s.ReadChunk()
	require.ErrorIs(t, err, ErrTransport)
	assert.ErrorContains(t, err, "stream closed")
}

func TestStreamHandle_CloseErrorReachesRelease(t *testing.T) {
	cerr := NewError(KindConnection, "ftp", "read", "k", io.ErrUnexpectedEOF)
	rc := internal.ReadCloserFunc(strings.NewReader("hello"), func() error { return cerr })
	s := NewStreamHandle(rc, "ftp", "k", 2)

	var got error

	s.onClose(func(closeErr error) { got = closeErr })

	err := s.Close()
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, cerr, got)
}

func TestStreamHandle_WriteTo(t *testing.T) {
	content := tests.Content(1000)
	s := NewStreamHandle(io.NopCloser(bytes.NewReader(content)), "file", "k", 64)

	buf := &bytes.Buffer{}
	n, err := s.WriteTo(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
	assert.Equal(t, content, buf.Bytes())

	s = NewStreamHandle(tests.FailingReader(content[:10]), "file", "k", 64)
	buf.Reset()

	n, err = io.Copy(buf, s)
	require.ErrorIs(t, err, tests.ErrMidStream)
	assert.Equal(t, int64(10), n)
}
