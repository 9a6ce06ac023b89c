package filestore

import (
	"fmt"
	"sort"
)

// TransportMux allows you to dynamically look up a registered transport for a
// given locator. All transports provided in this module can be registered, and
// additional transports can be registered given an implementation of
// TransportProvider.
// TransportMux is itself a TransportProvider, which provides the superset of
// all registered transports.
type TransportMux map[string]func(*Locator) (Transport, error)

var _ TransportProvider = (TransportMux)(nil)

// NewMux returns a TransportMux ready for use.
func NewMux() TransportMux {
	return TransportMux(map[string]func(*Locator) (Transport, error){})
}

// Add registers the given transport provider for its supported schemes. If
// any of its schemes are already registered, they will be overridden.
func (m TransportMux) Add(p TransportProvider) {
	for _, scheme := range p.Schemes() {
		m[scheme] = p.New
	}
}

// Lookup parses the given locator string and returns an appropriate
// (unconnected) transport for it. Use Add to register providers. Schemes
// registered here are accepted in addition to the built-in ones.
func (m TransportMux) Lookup(s string) (Transport, error) {
	loc, err := parseLocator(s, func(scheme string) bool {
		_, ok := m[scheme]

		return ok
	})
	if err != nil {
		return nil, err
	}

	return m.New(loc)
}

// Schemes - implements TransportProvider
func (m TransportMux) Schemes() []string {
	schemes := make([]string, 0, len(m))
	for scheme := range m {
		schemes = append(schemes, scheme)
	}

	sort.Strings(schemes)

	return schemes
}

// New - implements TransportProvider
func (m TransportMux) New(loc *Locator) (Transport, error) {
	f, ok := m[loc.Scheme]
	if !ok {
		return nil, invalidLocator(loc.Scheme,
			fmt.Errorf("no transport registered for scheme %q", loc.Scheme))
	}

	return f(loc)
}

// TransportProvider provides a transport for a set of defined schemes
type TransportProvider interface {
	// Schemes returns the valid locator schemes for this transport
	Schemes() []string

	// New returns an unconnected transport for the given locator
	New(loc *Locator) (Transport, error)
}

// TransportProviderFunc -
func TransportProviderFunc(f func(*Locator) (Transport, error), schemes ...string) TransportProvider {
	return tp{f, schemes}
}

type tp struct {
	newFunc func(*Locator) (Transport, error)
	schemes []string
}

func (p tp) Schemes() []string {
	return p.schemes
}

func (p tp) New(loc *Locator) (Transport, error) {
	return p.newFunc(loc)
}
