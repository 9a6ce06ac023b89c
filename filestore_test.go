package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/hairyhenderson/go-filestore/internal/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStore returns a FileStore over one memTransport per host, in order
func setupStore(t *testing.T, hosts []string, opts ...Option) (*FileStore, []*memTransport) {
	t.Helper()

	p := memProvider{}
	locators := make([]string, len(hosts))
	mems := make([]*memTransport, len(hosts))

	for i, h := range hosts {
		mems[i] = newMemTransport("mem")
		p[h] = mems[i]
		locators[i] = "mem://" + h
	}

	opts = append([]Option{
		WithLogger(quietLogger()),
		WithBackOff(zeroBackOff),
	}, opts...)

	s, err := New(p, locators, opts...)
	require.NoError(t, err)

	return s, mems
}

func permErr(key string) error {
	return NewError(KindPermission, "mem", "op", key, errors.New("denied"))
}

func TestNew(t *testing.T) {
	_, err := New(memProvider{}, nil)
	require.ErrorIs(t, err, ErrInvalidLocator)

	_, err = New(memProvider{}, []string{"bogus://x"})
	require.ErrorIs(t, err, ErrInvalidLocator)

	// parsed fine, but the provider doesn't know the host
	_, err = New(memProvider{}, []string{"mem://unknown"})
	require.ErrorIs(t, err, ErrInvalidLocator)

	s, mems := setupStore(t, []string{"a", "b"})
	assert.Equal(t, []string{"mem://a", "mem://b"}, s.Locators())

	// nothing is connected until first use
	assert.Zero(t, mems[0].connects.Load())
	assert.Zero(t, mems[1].connects.Load())
}

func TestNew_Options(t *testing.T) {
	var wrapped []string

	wrap := func(name string) func(Transport) Transport {
		return func(t Transport) Transport {
			wrapped = append(wrapped, name)

			return t
		}
	}

	s, mems := setupStore(t, []string{"a"},
		WithTimeout(time.Second),
		WithChunkSize(16),
		WithChunkSize(0),
		WithConnectionAttempts(7),
		WithConnectionAttempts(-1),
		WithWritePolicy(WriteAll),
		WithTransportWrapper(wrap("first")),
		WithTransportWrapper(nil),
		WithTransportWrapper(wrap("second")),
	)

	cfg := s.Config()
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, 16, cfg.ChunkSize)
	assert.Equal(t, 7, cfg.ConnectionAttempts)
	assert.Equal(t, WriteAll, cfg.WritePolicy)

	// the timeout is passed on to transports that support one
	assert.Equal(t, time.Second, mems[0].timeout)

	assert.Equal(t, []string{"first", "second"}, wrapped)
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig(fstest.MapFS{})
	assert.Equal(t, DefaultConnectionAttempts, cfg.ConnectionAttempts)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Zero(t, cfg.Timeout)
	assert.Equal(t, WritePrimary, cfg.WritePolicy)

	t.Setenv(EnvConnectionAttempts, "5")
	t.Setenv(EnvChunkSize, "1024")
	t.Setenv(EnvTimeout, "30s")

	cfg = defaultConfig(fstest.MapFS{})
	assert.Equal(t, 5, cfg.ConnectionAttempts)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Timeout)

	fsys := fstest.MapFS{"run/secrets/attempts": &fstest.MapFile{Data: []byte("9\n")}}

	t.Setenv(EnvConnectionAttempts, "")
	t.Setenv(EnvConnectionAttempts+"_FILE", "/run/secrets/attempts")

	cfg = defaultConfig(fsys)
	assert.Equal(t, 9, cfg.ConnectionAttempts)
}

func TestWritePolicy_String(t *testing.T) {
	assert.Equal(t, "primary", WritePrimary.String())
	assert.Equal(t, "all", WriteAll.String())
	assert.Equal(t, "any", WriteAny.String())
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b", "c"})

	mems[0].files["k"] = []byte("a")
	mems[2].files["k"] = []byte("c")

	found, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"mem://a", "mem://c"}, found)

	found, err = s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.NotNil(t, found)
}

func TestExists_PartialFailure(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b"})

	mems[0].failOn["exists"] = permErr("k")
	mems[1].files["k"] = []byte("b")

	found, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"mem://b"}, found)

	mems[1].failOn["exists"] = permErr("k")

	_, err = s.Exists(ctx, "k")
	require.ErrorIs(t, err, ErrPermission)
	assert.Equal(t, KindPermission, KindOf(err))
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b"})

	mems[0].files["both"] = []byte("from a")
	mems[1].files["both"] = []byte("from b")
	mems[1].files["only-b"] = []byte("from b")

	b, err := s.Get(ctx, "both")
	require.NoError(t, err)
	assert.Equal(t, "from a", string(b))

	// first-success: later backends aren't consulted once one succeeds
	assert.Zero(t, mems[1].connects.Load())

	b, err = s.Get(ctx, "only-b")
	require.NoError(t, err)
	assert.Equal(t, "from b", string(b))
}

func TestGet_AllFail(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b"})

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.ErrorContains(t, err, "mem://a")
	assert.ErrorContains(t, err, "mem://b")

	// mixed causes are all kept, but the kind is generic
	mems[0].files["k"] = []byte("x")
	mems[0].failOn["read"] = permErr("k")

	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrPermission)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestGet_SingleBackendErrorUnchanged(t *testing.T) {
	s, mems := setupStore(t, []string{"a"})
	mems[0].failOn["read"] = permErr("k")

	_, err := s.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrPermission)
	assert.Equal(t, KindPermission, KindOf(err))
}

func TestRead(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b"}, WithChunkSize(3))

	content := tests.Content(10)
	mems[1].files["k"] = content

	stream, err := s.Read(ctx, "k", 0)
	require.NoError(t, err)

	defer stream.Close()

	assert.Equal(t, 3, stream.ChunkSize())

	buf := &bytes.Buffer{}
	_, err = buf.ReadFrom(stream)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())

	stream2, err := s.Read(ctx, "k", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, stream2.ChunkSize())
	require.NoError(t, stream2.Close())

	_, err = s.Read(ctx, "missing", 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPut_Primary(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b"})

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	assert.Equal(t, "v", string(mems[0].files["k"]))
	assert.Equal(t, "v", string(mems[1].files["k"]))

	// secondary failures are tolerated
	mems[1].failOn["put"] = permErr("k2")
	require.NoError(t, s.Put(ctx, "k2", []byte("v")))
	assert.Contains(t, mems[0].files, "k2")

	// primary failures aren't
	mems[0].failOn["put"] = permErr("k3")
	err := s.Put(ctx, "k3", []byte("v"))
	require.ErrorIs(t, err, ErrPermission)
	assert.NotContains(t, mems[1].files, "k3")
}

func TestPut_All(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b"}, WithWritePolicy(WriteAll))

	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	mems[1].failOn["put"] = permErr("k2")
	err := s.Put(ctx, "k2", []byte("v"))
	require.ErrorIs(t, err, ErrPermission)

	// the write isn't rolled back on the backends that succeeded
	assert.Contains(t, mems[0].files, "k2")
}

func TestPut_Any(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b"}, WithWritePolicy(WriteAny))

	mems[0].failOn["put"] = permErr("k")
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	assert.Contains(t, mems[1].files, "k")

	mems[1].failOn["put"] = permErr("k")
	err := s.Put(ctx, "k", []byte("v"))
	require.ErrorIs(t, err, ErrPermission)
	assert.Equal(t, KindPermission, KindOf(err))
}

func TestPut_SkipsReadOnly(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"ro", "rw"})

	mems[0].readOnly = true

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	assert.Contains(t, mems[1].files, "k")

	// the first writable backend is the primary
	mems[1].failOn["put"] = permErr("k")
	require.ErrorIs(t, s.Put(ctx, "k", []byte("v")), ErrPermission)

	mems[1].readOnly = true
	err := s.Put(ctx, "k", []byte("v"))
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, KindUnsupported, KindOf(err))
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a"})

	src := filepath.Join(t.TempDir(), "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("uploaded"), 0o600))

	require.NoError(t, s.Upload(ctx, src, "dst.txt"))
	assert.Equal(t, "uploaded", string(mems[0].files["dst.txt"]))

	err := s.Upload(ctx, filepath.Join(t.TempDir(), "nope"), "dst.txt")
	require.ErrorIs(t, err, ErrTransport)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "ro", "b"})

	mems[1].readOnly = true
	mems[0].files["k"] = []byte("a")
	mems[2].files["k"] = []byte("b")

	require.NoError(t, s.Delete(ctx, "k"))
	assert.NotContains(t, mems[0].files, "k")
	assert.NotContains(t, mems[2].files, "k")

	// absent keys are fine
	require.NoError(t, s.Delete(ctx, "k"))

	mems[2].failOn["delete"] = permErr("k")
	require.ErrorIs(t, s.Delete(ctx, "k"), ErrPermission)

	ro, _ := setupStore(t, []string{"ro"})
	ro.bindings[0].t.(*memTransport).readOnly = true
	require.ErrorIs(t, ro.Delete(ctx, "k"), ErrUnsupported)
}

func TestDownload(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a"}, WithChunkSize(7))

	content := tests.Content(100)
	mems[0].files["k"] = content

	dir := t.TempDir()
	dst := filepath.Join(dir, "out.bin")

	require.NoError(t, s.Download(ctx, "k", dst))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, b)

	err = s.Download(ctx, "missing", filepath.Join(dir, "missing.bin"))
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, filepath.Join(dir, "missing.bin"))
}

func TestDownload_NoPartialFile(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a"}, WithChunkSize(7))

	mems[0].files["k"] = tests.Content(100)
	mems[0].failOn["stream"] = tests.ErrMidStream

	dir := t.TempDir()
	dst := filepath.Join(dir, "out.bin")

	err := s.Download(ctx, "k", dst)
	require.ErrorIs(t, err, tests.ErrMidStream)
	assert.NoFileExists(t, dst)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// an existing file is left untouched
	require.NoError(t, os.WriteFile(dst, []byte("original"), 0o600))

	err = s.Download(ctx, "k", dst)
	require.Error(t, err)

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "original", string(b))
}

func TestDownloadTransport(t *testing.T) {
	ctx := context.Background()
	m := newMemTransport("mem")
	require.NoError(t, m.Connect(ctx))

	m.files["k"] = []byte("direct")

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Download(ctx, m, "k", dst, 2))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "direct", string(b))
}

func TestConnectRetries(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a"}, WithConnectionAttempts(3))

	mems[0].connectErrs = []error{connErr(1), connErr(2)}
	mems[0].files["k"] = []byte("v")

	b, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(b))
	assert.Equal(t, int32(3), mems[0].connects.Load())

	// the session is reused
	_, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int32(3), mems[0].connects.Load())
}

func TestConnectExhausted(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b"}, WithConnectionAttempts(2))

	mems[0].connectErrs = []error{connErr(1), connErr(2)}
	mems[1].files["k"] = []byte("from b")

	// a failed connection on one backend falls through to the next
	b, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "from b", string(b))
	assert.Equal(t, int32(2), mems[0].connects.Load())

	mems[0].connectErrs = []error{connErr(3), connErr(4), connErr(5), connErr(6)}
	delete(mems[1].files, "k")

	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrConnectionExhausted)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReconnectAfterLostSession(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a"})

	mems[0].files["k"] = []byte("v")

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"mem://a"}, ok)
	assert.Equal(t, int32(1), mems[0].connects.Load())

	mems[0].failOn["exists"] = NewError(KindConnection, "mem", "exists", "k", errors.New("reset"))

	_, err = s.Exists(ctx, "k")
	require.ErrorIs(t, err, ErrConnection)

	delete(mems[0].failOn, "exists")

	ok, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"mem://a"}, ok)
	assert.Equal(t, int32(2), mems[0].connects.Load())
}

func TestExclusiveSerialized(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a"})

	m := mems[0]
	m.files["k"] = []byte("v")
	m.delay = 5 * time.Millisecond

	// the binding was created before the flag was set
	s.bindings[0].exclusive = true

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _ = s.Exists(ctx, "k")
		}()
	}

	wg.Wait()

	assert.Zero(t, m.overlaps.Load())
	assert.Equal(t, int32(1), m.connects.Load())
}

func TestExclusiveHeldByStream(t *testing.T) {
	ctx := context.Background()

	m := newMemTransport("mem")
	m.exclusive = true
	m.files["k"] = []byte("v")

	s, err := New(memProvider{"a": m}, []string{"mem://a"}, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.True(t, s.bindings[0].exclusive)

	stream, err := s.Read(ctx, "k", 0)
	require.NoError(t, err)

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, _ = s.Exists(ctx, "k")
	}()

	assert.Never(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, stream.Close())

	assert.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestCloseWaitsForExclusiveStream(t *testing.T) {
	ctx := context.Background()

	m := newMemTransport("mem")
	m.exclusive = true
	m.files["k"] = []byte("v")

	s, err := New(memProvider{"a": m}, []string{"mem://a"}, WithLogger(quietLogger()))
	require.NoError(t, err)

	stream, err := s.Read(ctx, "k", 0)
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() { done <- s.Close() }()

	closed := func() bool {
		select {
		case err := <-done:
			assert.NoError(t, err)

			return true
		default:
			return false
		}
	}

	// the session stays open while the stream still uses it
	assert.Never(t, closed, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, int32(0), m.closes.Load())

	b, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "v", string(b))

	require.NoError(t, stream.Close())

	assert.Eventually(t, closed, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), m.closes.Load())
}

func TestReadReconnectsAfterStreamCloseError(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a"})
	mems[0].files["k"] = []byte("v")
	mems[0].failOn["close"] = NewError(KindConnection, "mem", "read", "k", io.ErrUnexpectedEOF)

	stream, err := s.Read(ctx, "k", 0)
	require.NoError(t, err)

	_, err = io.ReadAll(stream)
	require.NoError(t, err)

	err = stream.Close()
	require.ErrorIs(t, err, ErrConnection)

	delete(mems[0].failOn, "close")

	// the lost session is re-established rather than reported as not connected
	b, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(b))
	assert.Equal(t, int32(2), mems[0].connects.Load())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s, mems := setupStore(t, []string{"a", "b"})

	mems[0].files["k"] = []byte("v")

	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), mems[0].closes.Load())
	// never connected, so never closed
	assert.Zero(t, mems[1].closes.Load())

	// usable again after Close
	_, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int32(2), mems[0].connects.Load())
}

func TestTimeout(t *testing.T) {
	s, _ := setupStore(t, []string{"a"}, WithTimeout(time.Millisecond))

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	dl, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), dl, time.Second)

	s, _ = setupStore(t, []string{"a"})

	ctx, cancel = s.withTimeout(context.Background())
	defer cancel()

	_, ok = ctx.Deadline()
	assert.False(t, ok)
}

func TestLogsAreRedacted(t *testing.T) {
	ctx := context.Background()

	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a, b := newMemTransport("mem"), newMemTransport("mem")
	a.failOn["put"] = permErr("k")

	s, err := New(memProvider{"a": a, "b": b},
		[]string{"mem://alice:hunter2@a/?token=abc123", "mem://b"},
		WithLogger(logger), WithWritePolicy(WriteAny))
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	_, _ = s.Get(ctx, "missing")

	assert.NotEmpty(t, buf.String())
	assert.NotContains(t, buf.String(), "hunter2")
	assert.NotContains(t, buf.String(), "abc123")
	assert.NotContains(t, buf.String(), "alice")

	for _, l := range s.Locators() {
		assert.NotContains(t, l, "hunter2")
	}
}
