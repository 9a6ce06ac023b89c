// Package filefs provides a local filesystem transport for file:// locators.
package filefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/hairyhenderson/go-filestore"
	"github.com/hairyhenderson/go-filestore/internal"
)

type fileTransport struct {
	root string
}

// New returns a transport for the tree of files rooted at the directory named
// by the locator's path. This transport is suitable for use with the 'file:'
// scheme, and interacts with the local filesystem.
//
// Connect creates the root directory if it's missing. Connection failures
// are never retried, since there's no network involved.
func New(loc *filestore.Locator) (filestore.Transport, error) {
	rootPath := pathForDirFS(loc.Host, loc.BasePath)
	if rootPath == "" {
		return nil, filestore.NewError(filestore.KindInvalidLocator, loc.Scheme, "new", "",
			errors.New("missing base path"))
	}

	return &fileTransport{root: filepath.FromSlash(rootPath)}, nil
}

// return the correct filesystem path for the given host and path. Supports
// Windows paths and UNCs as well
func pathForDirFS(host, p string) string {
	if p == "" {
		return ""
	}

	rootPath := p
	if len(rootPath) >= 3 {
		if rootPath[0] == '/' && rootPath[2] == ':' {
			rootPath = rootPath[1:]
		}
	}

	// a file:// URL with a host part should be interpreted as a UNC
	switch host {
	case ".":
		rootPath = "//./" + rootPath
	case "":
		// nothin'
	default:
		rootPath = "//" + host + rootPath
	}

	return rootPath
}

// FS is used to register this transport with a filestore.TransportMux
//
//nolint:gochecknoglobals
var FS = filestore.TransportProviderFunc(New, filestore.SchemeFile)

var _ filestore.Transport = (*fileTransport)(nil)

func (f *fileTransport) Scheme() string {
	return filestore.SchemeFile
}

func (f *fileTransport) Root() string {
	return f.root
}

func (f *fileTransport) Connect(_ context.Context) error {
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return f.err("connect", "", err)
	}

	fi, err := os.Stat(f.root)
	if err != nil {
		return f.err("connect", "", err)
	}

	if !fi.IsDir() {
		return f.err("connect", "", fmt.Errorf("%s is not a directory", f.root))
	}

	return nil
}

func (f *fileTransport) Close() error {
	return nil
}

func (f *fileTransport) resolve(op, key string) (string, error) {
	clean, ok := internal.CleanKey(key)
	if !ok {
		return "", f.err(op, key, fs.ErrInvalid)
	}

	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *fileTransport) Exists(_ context.Context, key string) (bool, error) {
	p, err := f.resolve("exists", key)
	if err != nil {
		return false, err
	}

	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, f.err("exists", key, err)
	}

	return !fi.IsDir(), nil
}

func (f *fileTransport) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := f.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, f.err("get", key, err)
	}

	return b, nil
}

func (f *fileTransport) Read(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := f.resolve("read", key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if err != nil {
		return nil, f.err("read", key, err)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()

		return nil, f.err("read", key, err)
	}

	if fi.IsDir() {
		file.Close()

		return nil, f.err("read", key, fs.ErrNotExist)
	}

	return internal.SizedReadCloser(file, fi.Size()), nil
}

func (f *fileTransport) Put(_ context.Context, key string, data []byte) error {
	p, err := f.resolve("put", key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return f.err("put", key, err)
	}

	if err := renameio.WriteFile(p, data, 0o644); err != nil {
		return f.err("put", key, err)
	}

	return nil
}

func (f *fileTransport) Delete(_ context.Context, key string) error {
	p, err := f.resolve("delete", key)
	if err != nil {
		return err
	}

	err = os.Remove(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return f.err("delete", key, err)
	}

	return nil
}

// err maps local filesystem errors into the filestore taxonomy
func (f *fileTransport) err(op, key string, err error) error {
	kind := filestore.KindTransport

	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = filestore.KindNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = filestore.KindPermission
	}

	return filestore.NewError(kind, filestore.SchemeFile, op, key, err)
}
