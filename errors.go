package filestore

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a TransportError. The kind decides whether an error is
// retried by the ConnectionManager (only KindConnection is).
type Kind int

const (
	// KindTransport is the catch-all for I/O and protocol failures.
	KindTransport Kind = iota
	// KindInvalidLocator means the locator string could not be used.
	KindInvalidLocator
	// KindConnection is a (possibly transient) failure to establish a session.
	KindConnection
	// KindConnectionExhausted means every allowed connection attempt failed.
	KindConnectionExhausted
	// KindNotFound means the key is absent.
	KindNotFound
	// KindPermission means the backend rejected the operation.
	KindPermission
	// KindUnsupported means the backend can't perform the operation at all.
	KindUnsupported
)

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrTransport           = errors.New("transport error")
	ErrInvalidLocator      = errors.New("invalid locator")
	ErrConnection          = errors.New("connection failed")
	ErrConnectionExhausted = errors.New("connection attempts exhausted")
	ErrNotFound            = errors.New("not found")
	ErrPermission          = errors.New("permission denied")
	ErrUnsupported         = errors.New("unsupported operation")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidLocator:
		return ErrInvalidLocator
	case KindConnection:
		return ErrConnection
	case KindConnectionExhausted:
		return ErrConnectionExhausted
	case KindNotFound:
		return ErrNotFound
	case KindPermission:
		return ErrPermission
	case KindUnsupported:
		return ErrUnsupported
	default:
		return ErrTransport
	}
}

func (k Kind) String() string {
	return k.sentinel().Error()
}

// TransportError describes a failed operation against a single backend. It
// never carries credentials - Scheme and Key are the only addressing details.
type TransportError struct {
	// Err is the underlying cause, if any
	Err    error
	Scheme string
	Op     string
	Key    string
	Kind   Kind
	// Attempt is the connection attempt the error was observed on, or 0 for
	// errors outside of connection establishment
	Attempt int
}

var _ error = (*TransportError)(nil)

func (e *TransportError) Error() string {
	sb := strings.Builder{}

	if e.Scheme != "" {
		sb.WriteString(e.Scheme)
		sb.WriteString(" ")
	}

	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(" ")
	}

	if e.Key != "" {
		fmt.Fprintf(&sb, "%q ", e.Key)
	}

	sb.WriteString(e.Kind.String())

	if e.Attempt > 0 {
		fmt.Fprintf(&sb, " (attempt %d)", e.Attempt)
	}

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}

	return sb.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel error for this error's kind.
func (e *TransportError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// NewError returns a *TransportError of the given kind. Transport
// implementations use this to report failures in the common taxonomy.
func NewError(kind Kind, scheme, op, key string, err error) error {
	return &TransportError{Kind: kind, Scheme: scheme, Op: op, Key: key, Err: err}
}

// KindOf returns the kind of the first TransportError in err's chain. Errors
// that aren't TransportErrors are reported as KindTransport.
func KindOf(err error) Kind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}

	return KindTransport
}

// Unsupported is a convenience for transports rejecting an operation they
// can't perform.
func Unsupported(scheme, op, key string) error {
	return NewError(KindUnsupported, scheme, op, key, nil)
}
