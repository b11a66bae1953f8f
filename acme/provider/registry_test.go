package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/transport"
)

func TestHTTPProviderPassesThroughURL(t *testing.T) {
	r := DefaultRegistry()
	resolved, err := r.Resolve("https://ca.test/directory")
	require.NoError(t, err)
	assert.Equal(t, "https://ca.test/directory", resolved)
}

func TestResolveFailsWithNoMatch(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("ftp://nope")
	require.Error(t, err)
	var iae *acme.InvalidArgumentError
	assert.ErrorAs(t, err, &iae)
}

func TestResolveFailsWithMultipleMatches(t *testing.T) {
	r := NewRegistry()
	r.Register(HTTPProvider{})
	r.Register(HTTPProvider{})
	_, err := r.Resolve("https://ca.test/directory")
	require.Error(t, err)
}

func TestVendorProviderResolvesEnvironments(t *testing.T) {
	r := NewRegistry()
	r.Register(LetsEncrypt)

	prod, err := r.Resolve("acme://letsencrypt")
	require.NoError(t, err)
	assert.Equal(t, "https://acme-v02.api.letsencrypt.org/directory", prod)

	staging, err := r.Resolve("acme://letsencrypt/staging")
	require.NoError(t, err)
	assert.Equal(t, "https://acme-staging-v02.api.letsencrypt.org/directory", staging)
}

func TestVendorProviderRejectsUnknownEnvironment(t *testing.T) {
	r := NewRegistry()
	r.Register(Pebble)

	_, err := r.Resolve("acme://pebble/bogus")
	assert.Error(t, err)
}

type tweakingProvider struct {
	VendorProvider
	proxy string
}

func (p tweakingProvider) TweakTransport(conf *transport.Config) {
	conf.ProxyURL = p.proxy
}

func TestTransportTweakerIsAnOptionalProviderCapability(t *testing.T) {
	p := tweakingProvider{
		VendorProvider: VendorProvider{Name: "tweaky", Environments: map[string]string{"production": "https://ca.test/dir"}},
		proxy:          "http://proxy.internal:3128",
	}

	r := NewRegistry()
	r.Register(p)

	resolved, err := r.ResolveProvider("acme://tweaky")
	require.NoError(t, err)

	tweaker, ok := resolved.(TransportTweaker)
	require.True(t, ok)

	var conf transport.Config
	tweaker.TweakTransport(&conf)
	assert.Equal(t, "http://proxy.internal:3128", conf.ProxyURL)
}
