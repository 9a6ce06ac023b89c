package internal

import (
	"fmt"
	"net/url"
)

// SubURL resolves an object key against base, which should end in a slash.
// The key is cleaned with CleanKey and escaped as a path, so characters like
// '?' and '#' stay part of the object's name. Query parameters on the base
// are carried over.
func SubURL(base *url.URL, key string) (*url.URL, error) {
	clean, ok := CleanKey(key)
	if !ok {
		return nil, fmt.Errorf("invalid key %q", key)
	}

	u := base.ResolveReference(&url.URL{Path: clean})
	u.RawQuery = base.RawQuery

	return u, nil
}
