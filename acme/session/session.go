// Package session implements the Session: the root object
// an application creates per CA. It owns the directory cache and the
// replay-nonce pool, applies the configured network settings, and hands
// out the shared Connection that Logins (acme/login) sign requests through.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/connection"
	"github.com/shred/acme4j-go/acme/directory"
	"github.com/shred/acme4j-go/acme/nonce"
	"github.com/shred/acme4j-go/acme/pki"
	"github.com/shred/acme4j-go/acme/provider"
	"github.com/shred/acme4j-go/acme/transport"
)

// Config configures a Session. ServerURI is the only required field.
type Config struct {
	// ServerURI is either an opaque acme://<vendor>/<env> URI resolved
	// through the provider registry, or a plain http(s):// directory URL.
	ServerURI string
	// Locale is an RFC 5646 language tag sent as Accept-Language. Defaults
	// to "en".
	Locale string
	// Timeout bounds each HTTP round trip. Defaults to 10s.
	Timeout time.Duration
	// ProxyURL optionally routes requests through an HTTP(S) proxy.
	ProxyURL string
	// CABundlePath optionally replaces the system trust store.
	CABundlePath string

	// HttpTransport overrides the default net/http-backed transport
	// entirely, for tests or exotic deployment environments. When set,
	// Timeout/ProxyURL/CABundlePath are ignored.
	HttpTransport acme.HttpTransport
	// Clock overrides the default wall clock.
	Clock acme.Clock
	// Rng overrides the default random source.
	Rng acme.Rng
	// Providers overrides the default provider registry.
	Providers *provider.Registry
	// PkiCodec overrides the default certificate-chain codec. Defaults to
	// acme/pki's standard-library x509/PEM implementation.
	PkiCodec acme.PkiCodec
}

func (c *Config) normalize() error {
	c.ServerURI = strings.TrimSpace(c.ServerURI)
	c.Locale = strings.TrimSpace(c.Locale)

	if c.ServerURI == "" {
		return acme.NewInvalidArgument("session: ServerURI must not be empty")
	}
	if c.Locale == "" {
		c.Locale = "en"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Timeout < 0 {
		return acme.NewInvalidArgument("session: Timeout must be positive")
	}
	if c.Clock == nil {
		c.Clock = acme.SystemClock{}
	}
	if c.Rng == nil {
		c.Rng = acme.NewDefaultRng()
	}
	if c.Providers == nil {
		c.Providers = provider.DefaultRegistry()
	}
	if c.PkiCodec == nil {
		c.PkiCodec = pki.New()
	}
	return nil
}

// Session owns one CA's directory cache and nonce pool.
type Session struct {
	conf Config
	conn *connection.Connection
	dir  *directory.Cache
}

// New builds a Session from conf, resolving ServerURI through the provider
// registry and eagerly fetching the directory.
func New(conf Config) (*Session, error) {
	if err := conf.normalize(); err != nil {
		return nil, err
	}

	prov, err := conf.Providers.ResolveProvider(conf.ServerURI)
	if err != nil {
		return nil, err
	}
	directoryURL, err := prov.Resolve(conf.ServerURI)
	if err != nil {
		return nil, err
	}

	httpTransport := conf.HttpTransport
	if httpTransport == nil {
		transportConf := transport.Config{
			Timeout:      conf.Timeout,
			ProxyURL:     conf.ProxyURL,
			CABundlePath: conf.CABundlePath,
		}
		if tweaker, ok := prov.(provider.TransportTweaker); ok {
			tweaker.TweakTransport(&transportConf)
		}
		httpTransport, err = transport.New(transportConf)
		if err != nil {
			return nil, err
		}
	}

	s := &Session{conf: conf}
	pool := nonce.NewPool(nil)
	conn := connection.New(httpTransport, pool, conf.Locale)
	s.conn = conn
	s.dir = directory.NewCache(directoryURL, conn)
	pool.SetRefiller(&sessionRefiller{session: s})

	if err := s.dir.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// sessionRefiller adapts Session to nonce.Refiller: it looks up the
// newNonce URL from the directory cache at refill time, so the Refiller
// keeps working across a directory rotation.
type sessionRefiller struct {
	session *Session
}

func (r *sessionRefiller) RefillNonce() (string, error) {
	url, err := r.session.dir.URL(directory.KindNewNonce)
	if err != nil {
		return "", err
	}
	return r.session.conn.RefillNonce(url)
}

// Connection returns the Session's shared Connection.
func (s *Session) Connection() *connection.Connection { return s.conn }

// Directory returns the Session's directory cache.
func (s *Session) Directory() *directory.Cache { return s.dir }

// Clock returns the Session's configured Clock.
func (s *Session) Clock() acme.Clock { return s.conf.Clock }

// Rng returns the Session's configured Rng.
func (s *Session) Rng() acme.Rng { return s.conf.Rng }

// Metadata returns the CA's current directory metadata.
func (s *Session) Metadata() acme.Metadata { return s.dir.Metadata() }

// PkiCodec returns the Session's configured certificate-chain codec.
func (s *Session) PkiCodec() acme.PkiCodec { return s.conf.PkiCodec }

// ResourceURL looks up the absolute URL for a directory resource kind.
func (s *Session) ResourceURL(kind directory.Kind) (string, error) {
	return s.dir.URL(kind)
}

// NewOrderURL, NewAccountURL, etc. are thin conveniences over ResourceURL
// for the kinds the Builders need.
func (s *Session) NewAccountURL() (string, error) { return s.dir.URL(directory.KindNewAccount) }
func (s *Session) NewOrderURL() (string, error)   { return s.dir.URL(directory.KindNewOrder) }
func (s *Session) NewAuthzURL() (string, error)   { return s.dir.URL(directory.KindNewAuthz) }
func (s *Session) RevokeCertURL() (string, error) { return s.dir.URL(directory.KindRevokeCert) }
func (s *Session) KeyChangeURL() (string, error)  { return s.dir.URL(directory.KindKeyChange) }

// RenewalInfoURL returns the renewalInfo base URL plus certID, i.e. the
// full ARI lookup URL for one certificate.
func (s *Session) RenewalInfoURL(certID string) (string, error) {
	base, err := s.dir.URL(directory.KindRenewalInfo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), certID), nil
}

// WithTimeout returns a context derived from ctx bounded by the Session's
// configured Timeout. No package in this module calls it; resource
// operations use the caller's context as given.
func (s *Session) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.conf.Timeout)
}
