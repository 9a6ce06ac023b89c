// Package env contains functions that retrieve data from the environment
package env

import (
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetenvFS retrieves the value of the environment variable named by the key.
// If the variable is unset, but the same variable ending in `_FILE` is set, the
// referenced file (resolved from the given filesystem) will be read into the
// value. Otherwise the provided default (or an empty string) is returned.
func GetenvFS(fsys fs.FS, key string, def ...string) string {
	val := getenvFile(fsys, key)
	if val == "" && len(def) > 0 {
		return def[0]
	}

	return val
}

// IntFS is GetenvFS for integer values. The default is returned when the
// variable is unset or isn't a valid integer.
func IntFS(fsys fs.FS, key string, def int) int {
	val := getenvFile(fsys, key)
	if val == "" {
		return def
	}

	i, err := strconv.Atoi(val)
	if err != nil {
		return def
	}

	return i
}

// DurationFS is GetenvFS for time.Duration values, in time.ParseDuration
// format. A bare integer is taken as a number of seconds.
func DurationFS(fsys fs.FS, key string, def time.Duration) time.Duration {
	val := getenvFile(fsys, key)
	if val == "" {
		return def
	}

	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}

	return d
}

func getenvFile(fsys fs.FS, key string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}

	p := os.Getenv(key + "_FILE")
	if p != "" {
		p = strings.TrimPrefix(p, "/")

		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			return ""
		}

		return strings.TrimSpace(string(b))
	}

	return ""
}
