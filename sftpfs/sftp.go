package sftpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/hairyhenderson/go-filestore"
	"github.com/hairyhenderson/go-filestore/internal"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultPort = 22

// dialFunc opens an SFTP session, returning the client and the closer for
// the underlying connection
type dialFunc func(ctx context.Context) (*sftp.Client, io.Closer, error)

type sftpTransport struct {
	client  *sftp.Client
	conn    io.Closer
	dial    dialFunc
	config  *ssh.ClientConfig
	addr    string
	root    string
	timeout time.Duration
	mu      sync.Mutex
}

// New returns a transport for the SFTP server named by the locator, using
// SSH password authentication with the locator's credentials.
//
// Supported options:
//   - known_hosts=<path> - verify the server's host key against this
//     known_hosts file. Without it, any host key is accepted.
//   - identity_file=<path> - authenticate with this (unencrypted) private
//     key, in addition to the password if one is given
func New(loc *filestore.Locator) (filestore.Transport, error) {
	if loc.User == "" {
		return nil, filestore.NewError(filestore.KindInvalidLocator, loc.Scheme, "new", "",
			errors.New("a user is required"))
	}

	auth := []ssh.AuthMethod{}

	if id := loc.Option("identity_file"); id != "" {
		signer, err := loadIdentity(id)
		if err != nil {
			return nil, filestore.NewError(filestore.KindInvalidLocator, loc.Scheme, "new", "", err)
		}

		auth = append(auth, ssh.PublicKeys(signer))
	}

	if loc.Secret != "" {
		auth = append(auth, ssh.Password(loc.Secret))
	}

	//nolint:gosec
	hostKeyCallback := ssh.InsecureIgnoreHostKey()

	if kh := loc.Option("known_hosts"); kh != "" {
		cb, err := knownhosts.New(kh)
		if err != nil {
			return nil, filestore.NewError(filestore.KindInvalidLocator, loc.Scheme, "new", "",
				fmt.Errorf("known_hosts: %w", err))
		}

		hostKeyCallback = cb
	}

	root := loc.BasePath
	if root == "" {
		root = "."
	}

	t := &sftpTransport{
		addr: loc.Address(defaultPort),
		root: root,
		config: &ssh.ClientConfig{
			User:            loc.User,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
		},
	}
	t.dial = t.dialSSH

	return t, nil
}

func loadIdentity(name string) (ssh.Signer, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("identity_file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("identity_file: %w", err)
	}

	return signer, nil
}

// FS is used to register this transport with a filestore.TransportMux
//
//nolint:gochecknoglobals
var FS = filestore.TransportProviderFunc(New, filestore.SchemeSFTP)

var _ filestore.Transport = (*sftpTransport)(nil)

func (f *sftpTransport) Scheme() string {
	return filestore.SchemeSFTP
}

func (f *sftpTransport) WithTimeout(d time.Duration) filestore.Transport {
	config := *f.config
	config.Timeout = d

	t := &sftpTransport{
		addr:    f.addr,
		root:    f.root,
		config:  &config,
		timeout: d,
	}
	t.dial = t.dialSSH

	return t
}

func (f *sftpTransport) dialSSH(ctx context.Context) (*sftp.Client, io.Closer, error) {
	d := net.Dialer{Timeout: f.timeout}

	conn, err := d.DialContext(ctx, "tcp", f.addr)
	if err != nil {
		return nil, nil, err
	}

	if f.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(f.timeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, f.addr, f.config)
	if err != nil {
		_ = conn.Close()

		return nil, nil, err
	}

	// the handshake deadline must not apply to the session
	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()

		return nil, nil, err
	}

	return client, sshClient, nil
}

func (f *sftpTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client != nil {
		return nil
	}

	client, conn, err := f.dial(ctx)
	if err != nil {
		return filestore.NewError(filestore.KindConnection, filestore.SchemeSFTP, "connect", "", err)
	}

	f.client, f.conn = client, conn

	return nil
}

func (f *sftpTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closeLocked()
}

func (f *sftpTransport) closeLocked() error {
	if f.client == nil {
		return nil
	}

	err := f.client.Close()
	if f.conn != nil {
		_ = f.conn.Close()
	}

	f.client, f.conn = nil, nil

	if err != nil && !isConnErr(err) {
		return filestore.NewError(filestore.KindTransport, filestore.SchemeSFTP, "close", "", err)
	}

	return nil
}

func (f *sftpTransport) session(op, key string) (*sftp.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		return nil, filestore.NewError(filestore.KindConnection, filestore.SchemeSFTP, op, key,
			errors.New("not connected"))
	}

	return f.client, nil
}

// drop discards a broken session so that the next Connect starts afresh
func (f *sftpTransport) drop(c *sftp.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == c {
		_ = f.closeLocked()
	}
}

func (f *sftpTransport) resolve(op, key string) (string, error) {
	clean, ok := internal.CleanKey(key)
	if !ok {
		return "", filestore.NewError(filestore.KindTransport, filestore.SchemeSFTP, op, key, fs.ErrInvalid)
	}

	return path.Join(f.root, clean), nil
}

func (f *sftpTransport) Exists(_ context.Context, key string) (bool, error) {
	p, err := f.resolve("exists", key)
	if err != nil {
		return false, err
	}

	c, err := f.session("exists", key)
	if err != nil {
		return false, err
	}

	fi, err := c.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, f.err(c, "exists", key, err)
	}

	return !fi.IsDir(), nil
}

func (f *sftpTransport) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := f.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, f.err(nil, "get", key, err)
	}

	return b, nil
}

func (f *sftpTransport) Read(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := f.resolve("read", key)
	if err != nil {
		return nil, err
	}

	c, err := f.session("read", key)
	if err != nil {
		return nil, err
	}

	fi, err := c.Stat(p)
	if err != nil {
		return nil, f.err(c, "read", key, err)
	}

	if fi.IsDir() {
		return nil, f.err(c, "read", key, fs.ErrNotExist)
	}

	file, err := c.Open(p)
	if err != nil {
		return nil, f.err(c, "read", key, err)
	}

	return internal.SizedReadCloser(file, fi.Size()), nil
}

func (f *sftpTransport) Put(_ context.Context, key string, data []byte) error {
	p, err := f.resolve("put", key)
	if err != nil {
		return err
	}

	c, err := f.session("put", key)
	if err != nil {
		return err
	}

	if dir := path.Dir(p); dir != "." && dir != "/" {
		if err := c.MkdirAll(dir); err != nil {
			return f.err(c, "put", key, err)
		}
	}

	file, err := c.Create(p)
	if err != nil {
		return f.err(c, "put", key, err)
	}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()

		return f.err(c, "put", key, err)
	}

	if err := file.Close(); err != nil {
		return f.err(c, "put", key, err)
	}

	return nil
}

func (f *sftpTransport) Delete(_ context.Context, key string) error {
	p, err := f.resolve("delete", key)
	if err != nil {
		return err
	}

	c, err := f.session("delete", key)
	if err != nil {
		return err
	}

	err = c.Remove(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return f.err(c, "delete", key, err)
	}

	return nil
}

// err maps SFTP errors into the filestore taxonomy. Errors signalling a lost
// connection drop the session c (if non-nil).
func (f *sftpTransport) err(c *sftp.Client, op, key string, err error) error {
	kind := filestore.KindTransport

	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = filestore.KindNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = filestore.KindPermission
	case isConnErr(err):
		kind = filestore.KindConnection

		if c != nil {
			f.drop(c)
		}
	}

	return filestore.NewError(kind, filestore.SchemeSFTP, op, key, err)
}

func isConnErr(err error) bool {
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}
