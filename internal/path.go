package internal

import (
	"io/fs"
	"path"
	"strings"
)

func ValidPath(name string) bool {
	if strings.Contains(name, "\\") {
		return false
	}

	return fs.ValidPath(name)
}

// CleanKey normalizes a key for use by a transport, stripping any leading
// slashes. Keys must name a single object: ".", "" and any key containing
// ".." elements or backslashes are rejected.
func CleanKey(key string) (string, bool) {
	key = strings.TrimLeft(key, "/")
	if key == "." || !ValidPath(key) {
		return "", false
	}

	return key, true
}

// JoinKey joins a (clean) key to a transport's root path, returning a
// slash-separated path without a leading slash.
func JoinKey(root, key string) string {
	return strings.TrimPrefix(path.Join(root, key), "/")
}
