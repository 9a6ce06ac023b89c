package ftpfs

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hairyhenderson/go-filestore"
	"github.com/hairyhenderson/go-filestore/internal"
	"github.com/jlaffaye/ftp"
)

const (
	defaultPort     = 21
	anonymousUser   = "anonymous"
	anonymousSecret = "anonymous"
)

// conn is the subset of *ftp.ServerConn used by this transport
type conn interface {
	Login(user, password string) error
	FileSize(path string) (int64, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Delete(path string) error
	MakeDir(path string) error
	Quit() error
}

type dialFunc func(ctx context.Context, addr string, opts ...ftp.DialOption) (conn, error)

// serverConn adapts *ftp.ServerConn to conn
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(p string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(p)
}

func dialServer(ctx context.Context, addr string, opts ...ftp.DialOption) (conn, error) {
	opts = append(opts, ftp.DialWithContext(ctx))

	c, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}

	return serverConn{c}, nil
}

type ftpTransport struct {
	c         conn
	dial      dialFunc
	tlsConfig *tls.Config
	scheme    string
	addr      string
	user      string
	secret    string
	root      string
	timeout   time.Duration
	mu        sync.Mutex
}

// New returns a transport for the FTP server named by the locator. The 'ftps'
// scheme uses explicit TLS (AUTH TLS) on the same port.
//
// A single control connection is opened by Connect, authenticated once, and
// reused for every operation until Close. The session is not safe for
// concurrent use, which the transport reports through Exclusive.
//
// Supported options:
//   - tls_skip_verify=true - don't verify the server's certificate (ftps only)
func New(loc *filestore.Locator) (filestore.Transport, error) {
	t := &ftpTransport{
		dial:   dialServer,
		scheme: loc.Scheme,
		addr:   loc.Address(defaultPort),
		user:   loc.User,
		secret: loc.Secret,
		root:   loc.BasePath,
	}

	if t.user == "" {
		t.user, t.secret = anonymousUser, anonymousSecret
	}

	if loc.Scheme == filestore.SchemeFTPS {
		t.tlsConfig = &tls.Config{
			ServerName: loc.Host,
			//nolint:gosec
			InsecureSkipVerify: loc.Option("tls_skip_verify") == "true",
			MinVersion:         tls.VersionTLS12,
		}
	}

	return t, nil
}

// FS is used to register this transport with a filestore.TransportMux
//
//nolint:gochecknoglobals
var FS = filestore.TransportProviderFunc(New, filestore.SchemeFTP, filestore.SchemeFTPS)

var (
	_ filestore.Transport = (*ftpTransport)(nil)
	_ filestore.Exclusive = (*ftpTransport)(nil)
)

func (f *ftpTransport) Scheme() string {
	return f.scheme
}

func (f *ftpTransport) Exclusive() bool {
	return true
}

func (f *ftpTransport) WithTimeout(d time.Duration) filestore.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	return &ftpTransport{
		dial:      f.dial,
		tlsConfig: f.tlsConfig,
		scheme:    f.scheme,
		addr:      f.addr,
		user:      f.user,
		secret:    f.secret,
		root:      f.root,
		timeout:   d,
	}
}

func (f *ftpTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.c != nil {
		return nil
	}

	opts := []ftp.DialOption{}
	if f.timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(f.timeout))
	}

	if f.tlsConfig != nil {
		opts = append(opts, ftp.DialWithExplicitTLS(f.tlsConfig))
	}

	c, err := f.dial(ctx, f.addr, opts...)
	if err != nil {
		return filestore.NewError(filestore.KindConnection, f.scheme, "connect", "", err)
	}

	if err := c.Login(f.user, f.secret); err != nil {
		_ = c.Quit()

		return filestore.NewError(filestore.KindConnection, f.scheme, "login", "", err)
	}

	f.c = c

	return nil
}

func (f *ftpTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.c == nil {
		return nil
	}

	err := f.c.Quit()
	f.c = nil

	if err != nil && !isConnErr(err) {
		return filestore.NewError(filestore.KindTransport, f.scheme, "close", "", err)
	}

	return nil
}

// session returns the current control connection
func (f *ftpTransport) session(op, key string) (conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.c == nil {
		return nil, filestore.NewError(filestore.KindConnection, f.scheme, op, key, errors.New("not connected"))
	}

	return f.c, nil
}

// drop discards a broken session so that the next Connect starts afresh
func (f *ftpTransport) drop(c conn) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.c == c {
		_ = c.Quit()
		f.c = nil
	}
}

func (f *ftpTransport) resolve(op, key string) (string, error) {
	clean, ok := internal.CleanKey(key)
	if !ok {
		return "", filestore.NewError(filestore.KindTransport, f.scheme, op, key, errors.New("invalid key"))
	}

	return path.Join(f.root, clean), nil
}

func (f *ftpTransport) Exists(_ context.Context, key string) (bool, error) {
	p, err := f.resolve("exists", key)
	if err != nil {
		return false, err
	}

	c, err := f.session("exists", key)
	if err != nil {
		return false, err
	}

	_, err = c.FileSize(p)
	if isStatus(err, ftp.StatusFileUnavailable) {
		return false, nil
	}

	if err != nil {
		return false, f.err(c, "exists", key, err)
	}

	return true, nil
}

func (f *ftpTransport) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := f.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	b, err := io.ReadAll(rc)
	if err != nil {
		_ = rc.Close()

		return nil, f.err(nil, "get", key, err)
	}

	if err := rc.Close(); err != nil {
		return nil, err
	}

	return b, nil
}

func (f *ftpTransport) Read(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := f.resolve("read", key)
	if err != nil {
		return nil, err
	}

	c, err := f.session("read", key)
	if err != nil {
		return nil, err
	}

	size, err := c.FileSize(p)
	if err != nil {
		return nil, f.err(c, "read", key, err)
	}

	resp, err := c.Retr(p)
	if err != nil {
		return nil, f.err(c, "read", key, err)
	}

	// the data connection must be closed before the session can be reused
	rc := internal.ReadCloserFunc(resp, func() error {
		if err := resp.Close(); err != nil {
			return f.err(c, "read", key, err)
		}

		return nil
	})

	return internal.SizedReadCloser(rc, size), nil
}

func (f *ftpTransport) Put(_ context.Context, key string, data []byte) error {
	p, err := f.resolve("put", key)
	if err != nil {
		return err
	}

	c, err := f.session("put", key)
	if err != nil {
		return err
	}

	// STOR doesn't create intermediate directories. Failures are ignored here,
	// since most mean the directory already exists - STOR reports the rest.
	dir := ""
	for _, elem := range strings.Split(path.Dir(strings.TrimPrefix(p, "/")), "/") {
		if elem == "." || elem == "" {
			continue
		}

		dir = path.Join(dir, elem)
		if strings.HasPrefix(p, "/") {
			_ = c.MakeDir("/" + dir)
		} else {
			_ = c.MakeDir(dir)
		}
	}

	if err := c.Stor(p, bytes.NewReader(data)); err != nil {
		if isStatus(err, ftp.StatusFileUnavailable) {
			return filestore.NewError(filestore.KindPermission, f.scheme, "put", key, err)
		}

		return f.err(c, "put", key, err)
	}

	return nil
}

func (f *ftpTransport) Delete(_ context.Context, key string) error {
	p, err := f.resolve("delete", key)
	if err != nil {
		return err
	}

	c, err := f.session("delete", key)
	if err != nil {
		return err
	}

	err = c.Delete(p)
	if err != nil && !isStatus(err, ftp.StatusFileUnavailable) {
		return f.err(c, "delete", key, err)
	}

	return nil
}

// err maps FTP errors into the filestore taxonomy. Errors signalling a lost
// control connection drop the session c (if non-nil).
func (f *ftpTransport) err(c conn, op, key string, err error) error {
	kind := filestore.KindTransport

	switch {
	case isStatus(err, ftp.StatusFileUnavailable):
		kind = filestore.KindNotFound
	case isStatus(err, ftp.StatusNotLoggedIn, ftp.StatusInvalidCredentials,
		ftp.StatusStorNeedAccount, ftp.StatusBadFileName):
		kind = filestore.KindPermission
	case isStatus(err, ftp.StatusNotAvailable) || isConnErr(err):
		kind = filestore.KindConnection

		if c != nil {
			f.drop(c)
		}
	}

	return filestore.NewError(kind, f.scheme, op, key, err)
}

func isStatus(err error, codes ...int) bool {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return false
	}

	for _, code := range codes {
		if tpErr.Code == code {
			return true
		}
	}

	return false
}

func isConnErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}
