package filestore

import (
	"mime"
	"path"
	"sync"
)

// common types we want to be able to handle which can be missing by default
//
//nolint:gochecknoglobals
var (
	extraMimeTypes = map[string]string{
		".yml":  "application/yaml",
		".yaml": "application/yaml",
		".csv":  "text/csv",
		".toml": "application/toml",
		".env":  "application/x-env",
		".txt":  "text/plain",
	}
	extraMimeInit sync.Once
)

// ContentType returns the MIME content type for the given key, guessed by
// its extension. See the docs for mime.TypeByExtension for details on how
// extension lookup works. Some additional types (YAML, TOML, CSV, .env) are
// recognized even when the system's MIME database doesn't know them.
//
// The returned value may have parameters (e.g. "text/plain; charset=utf-8")
// which can be parsed with mime.ParseMediaType. An empty string means the
// type is unknown, in which case backends generally sniff the content.
func ContentType(key string) string {
	extraMimeInit.Do(func() {
		for k, v := range extraMimeTypes {
			_ = mime.AddExtensionType(k, v)
		}
	})

	return mime.TypeByExtension(path.Ext(key))
}
