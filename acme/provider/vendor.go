package provider

import (
	"fmt"
	"strings"
)

// VendorProvider resolves acme://<name>/<env> URIs for one named CA to a
// concrete directory URL per environment (e.g. "production" vs "staging").
// Applications that talk to well-known public CAs register one of these per
// CA instead of hard-coding directory URLs throughout their own code.
type VendorProvider struct {
	Name         string
	Environments map[string]string
}

// Accepts implements Provider.
func (v VendorProvider) Accepts(uri string) bool {
	return strings.HasPrefix(uri, "acme://"+v.Name)
}

// Resolve implements Provider.
func (v VendorProvider) Resolve(uri string) (string, error) {
	rest := strings.TrimPrefix(uri, "acme://"+v.Name)
	env := strings.Trim(rest, "/")
	if env == "" {
		env = "production"
	}
	directoryURL, ok := v.Environments[env]
	if !ok {
		return "", fmt.Errorf("provider: %s has no %q environment", v.Name, env)
	}
	return directoryURL, nil
}

// LetsEncrypt is a VendorProvider for Let's Encrypt's two public
// environments.
var LetsEncrypt = VendorProvider{
	Name: "letsencrypt",
	Environments: map[string]string{
		"production": "https://acme-v02.api.letsencrypt.org/directory",
		"staging":    "https://acme-staging-v02.api.letsencrypt.org/directory",
	},
}

// Pebble is a VendorProvider for the Let's Encrypt Pebble test CA,
// typically run on localhost during integration tests.
var Pebble = VendorProvider{
	Name: "pebble",
	Environments: map[string]string{
		"production": "https://localhost:14000/dir",
	},
}
