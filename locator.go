package filestore

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// constants for supported locator schemes
const (
	SchemeFile   = "file"
	SchemeHTTP   = "http"
	SchemeHTTPS  = "https"
	SchemeFTP    = "ftp"
	SchemeFTPS   = "ftps"
	SchemeSFTP   = "sftp"
	SchemeS3     = "s3"
	SchemeGCS    = "gs"
	SchemeBlob   = "blob"
	SchemeAzure  = "azure"
	SchemeAzBlob = "azblob"
)

// Locator is a parsed connection string. It identifies the backend (by
// Scheme), how to reach it, and where content is rooted within it.
//
// Credentials are held here so transports can authenticate, but they are
// never included in String or Redacted.
type Locator struct {
	// Options holds every query parameter verbatim (first value per key), for
	// the matching transport to interpret
	Options  map[string]string
	Scheme   string
	User     string
	Secret   string
	Host     string
	BasePath string
	Port     int

	hasUser   bool
	hasSecret bool
}

var errMalformedLocator = errors.New("malformed locator: not a valid URL")

//nolint:gochecknoglobals
var knownSchemes = map[string]bool{
	SchemeFile:   false,
	SchemeHTTP:   true,
	SchemeHTTPS:  true,
	SchemeFTP:    true,
	SchemeFTPS:   true,
	SchemeSFTP:   true,
	SchemeS3:     true,
	SchemeGCS:    true,
	SchemeBlob:   true,
	SchemeAzure:  true,
	SchemeAzBlob: true,
}

// ParseLocator parses a connection string of the form
//
//	scheme://[user:secret@]host[:port]/base_path[?opt1=val1&opt2=val2]
//
// An error of kind KindInvalidLocator is returned when the scheme is not
// recognized or a required part is missing. Reachability is not checked.
func ParseLocator(s string) (*Locator, error) {
	return parseLocator(s, nil)
}

// parseLocator parses s, additionally accepting any scheme for which
// registered returns true. Registered schemes have no host requirement.
func parseLocator(s string, registered func(scheme string) bool) (*Locator, error) {
	if strings.TrimSpace(s) == "" {
		return nil, invalidLocator("", errors.New("empty locator"))
	}

	u, err := url.Parse(s)
	if err != nil {
		// parse errors quote the input, or fragments of it (a bad escape in
		// the secret, say), so none of it is passed on
		return nil, invalidLocator("", errMalformedLocator)
	}

	scheme := strings.ToLower(u.Scheme)

	remote, ok := knownSchemes[scheme]
	if !ok && registered != nil {
		ok = registered(scheme)
	}

	if !ok {
		return nil, invalidLocator(scheme, fmt.Errorf("unrecognized scheme %q", u.Scheme))
	}

	loc := &Locator{
		Scheme:   scheme,
		Host:     u.Hostname(),
		BasePath: u.Path,
		Options:  map[string]string{},
	}

	if u.Opaque != "" {
		// e.g. file:relative/dir
		loc.BasePath = u.Opaque
	}

	if remote && loc.Host == "" {
		return nil, invalidLocator(scheme, errors.New("missing host"))
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, invalidLocator(scheme, fmt.Errorf("invalid port %q", p))
		}

		loc.Port = port
	}

	if u.User != nil {
		loc.User = u.User.Username()
		loc.hasUser = loc.User != ""
		loc.Secret, loc.hasSecret = u.User.Password()
	}

	for k, vs := range u.Query() {
		if len(vs) > 0 {
			loc.Options[k] = vs[0]
		}
	}

	return loc, nil
}

func invalidLocator(scheme string, err error) error {
	return &TransportError{Kind: KindInvalidLocator, Scheme: scheme, Op: "parse", Err: err}
}

// HasCredentials reports whether the locator carried a user or secret.
func (l *Locator) HasCredentials() bool {
	return l.hasUser || l.hasSecret
}

// Option returns the value of the first of the given option names that is
// set, which allows transports to accept aliases (e.g. "bucket" and
// "s3_bucket").
func (l *Locator) Option(names ...string) string {
	for _, n := range names {
		if v, ok := l.Options[n]; ok && v != "" {
			return v
		}
	}

	return ""
}

// Address returns "host:port", using defaultPort when the locator has none.
func (l *Locator) Address(defaultPort int) string {
	port := l.Port
	if port == 0 {
		port = defaultPort
	}

	return net.JoinHostPort(l.Host, strconv.Itoa(port))
}

// URL reconstructs the locator as a URL, including credentials. It is meant
// for transports only and must never be logged - use Redacted instead.
func (l *Locator) URL() *url.URL {
	u := l.baseURL()

	switch {
	case l.hasSecret:
		u.User = url.UserPassword(l.User, l.Secret)
	case l.hasUser:
		u.User = url.User(l.User)
	}

	return u
}

// Redacted renders the locator without credentials. Options whose names
// suggest they hold a secret have their values masked.
func (l *Locator) Redacted() string {
	u := l.baseURL()

	q := u.Query()
	for k := range q {
		if sensitiveOption(k) {
			q.Set(k, "xxxxx")
		}
	}

	u.RawQuery = q.Encode()

	return u.String()
}

// String implements fmt.Stringer, and is the same as Redacted.
func (l *Locator) String() string {
	return l.Redacted()
}

func (l *Locator) baseURL() *url.URL {
	host := l.Host
	if l.Port != 0 {
		host = net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
	}

	q := url.Values{}
	for k, v := range l.Options {
		q.Set(k, v)
	}

	return &url.URL{
		Scheme:   l.Scheme,
		Host:     host,
		Path:     l.BasePath,
		RawQuery: q.Encode(),
	}
}

func sensitiveOption(name string) bool {
	name = strings.ToLower(name)
	for _, s := range []string{"secret", "password", "token", "key", "sig"} {
		if strings.Contains(name, s) {
			return true
		}
	}

	return false
}
