// Package autofs provides a FileStore with every transport supported by this
// module registered. Using this package will compile a great many
// dependencies into the resulting binary, so unless you need to support all
// supported backends, use filestore.NewMux with only the transports you need.
package autofs

import (
	"sync"

	"github.com/hairyhenderson/go-filestore"
	"github.com/hairyhenderson/go-filestore/blobfs"
	"github.com/hairyhenderson/go-filestore/filefs"
	"github.com/hairyhenderson/go-filestore/ftpfs"
	"github.com/hairyhenderson/go-filestore/httpfs"
	"github.com/hairyhenderson/go-filestore/sftpfs"
)

// New returns a FileStore over the given locators, which may use any scheme
// supported by this module.
func New(locators []string, opts ...filestore.Option) (*filestore.FileStore, error) {
	return filestore.New(initMux(), locators, opts...)
}

// Lookup returns an appropriate (unconnected) transport for the given
// locator. If a transport can't be found for the locator's scheme, an error
// will be returned.
func Lookup(locator string) (filestore.Transport, error) {
	return initMux().Lookup(locator)
}

// FS is used to register every transport with a filestore.TransportMux
//
//nolint:gochecknoglobals
var FS = &autoFS{}

type autoFS struct{}

var _ filestore.TransportProvider = (*autoFS)(nil)

func (c *autoFS) Schemes() []string {
	return initMux().Schemes()
}

func (c *autoFS) New(loc *filestore.Locator) (filestore.Transport, error) {
	return initMux().New(loc)
}

//nolint:gochecknoglobals
var initMux = sync.OnceValue(func() filestore.TransportMux {
	mux := filestore.NewMux()
	mux.Add(blobfs.FS)
	mux.Add(filefs.FS)
	mux.Add(ftpfs.FS)
	mux.Add(httpfs.FS)
	mux.Add(sftpfs.FS)

	return mux
})
