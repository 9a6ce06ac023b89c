package filestore

import (
	"context"
	"io"

	"github.com/google/renameio/v2"
)

// Download streams key from t into the local file at path, reading at most
// chunkSize bytes at a time. This is the same chunked path used by Read, so
// every transport gets download support without implementing it.
//
// The destination is replaced atomically. On any failure the temporary file
// is removed and path is left untouched.
func Download(ctx context.Context, t Transport, key, path string, chunkSize int) error {
	rc, err := t.Read(ctx, key)
	if err != nil {
		return err
	}

	stream := NewStreamHandle(rc, t.Scheme(), key, chunkSize)
	defer stream.Close()

	return writeFileAtomic(path, stream)
}

func writeFileAtomic(path string, r io.Reader) error {
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644), renameio.WithExistingPermissions())
	if err != nil {
		return NewError(KindTransport, SchemeFile, "download", path, err)
	}

	// Cleanup is a no-op once the file has been renamed into place
	defer func() { _ = pf.Cleanup() }()

	if _, err := io.Copy(pf, r); err != nil {
		return err
	}

	if err := pf.CloseAtomicallyReplace(); err != nil {
		return NewError(KindTransport, SchemeFile, "download", path, err)
	}

	return nil
}
