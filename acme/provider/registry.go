// Package provider implements the provider registry: resolving an
// opaque acme://<vendor>/<env> server URI to a concrete directory URL,
// plus the generic http(s):// passthrough provider every Session falls
// back to.
package provider

import (
	"strings"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/transport"
)

// Provider maps a server URI this provider Accepts to a concrete directory
// URL. A provider may additionally expose vendor-specific HTTP tweaks or a
// challenge-type factory; the core only needs Accepts/Resolve to pick a
// directory URL, so those hooks live on whichever concrete Provider needs
// them rather than in this interface.
type Provider interface {
	// Accepts reports whether this provider recognizes uri.
	Accepts(uri string) bool
	// Resolve returns the directory URL for uri. Only called when Accepts
	// returned true.
	Resolve(uri string) (string, error)
}

// Registry holds the set of known Providers and selects exactly one to
// resolve a given server URI.
type Registry struct {
	providers []Provider
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds p to the registry. Order doesn't affect selection: exactly
// one accepting provider must exist for Resolve to succeed.
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

// ResolveProvider selects the single Provider that accepts uri. Zero or
// multiple matches both fail with InvalidArgumentError.
func (r *Registry) ResolveProvider(uri string) (Provider, error) {
	var matches []Provider
	for _, p := range r.providers {
		if p.Accepts(uri) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, acme.NewInvalidArgument("provider: no registered provider accepts %q", uri)
	case 1:
		return matches[0], nil
	default:
		return nil, acme.NewInvalidArgument("provider: %d registered providers accept %q, expected exactly one", len(matches), uri)
	}
}

// Resolve selects the single Provider that accepts uri and returns its
// resolved directory URL.
func (r *Registry) Resolve(uri string) (string, error) {
	p, err := r.ResolveProvider(uri)
	if err != nil {
		return "", err
	}
	return p.Resolve(uri)
}

// TransportTweaker is an optional interface a Provider can implement to
// adjust the HTTP transport configuration for its CA before the Session
// builds its default transport (e.g. pinning a private root for a local
// test CA). It is not consulted when the application supplies its own
// HttpTransport.
type TransportTweaker interface {
	TweakTransport(conf *transport.Config)
}

// DefaultRegistry returns a Registry pre-populated with the generic
// http(s):// passthrough provider.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(HTTPProvider{})
	return r
}

// HTTPProvider is the generic passthrough provider: any http:// or https://
// URI resolves to itself, treated directly as the directory URL.
type HTTPProvider struct{}

// Accepts implements Provider.
func (HTTPProvider) Accepts(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// Resolve implements Provider.
func (HTTPProvider) Resolve(uri string) (string, error) {
	return uri, nil
}
