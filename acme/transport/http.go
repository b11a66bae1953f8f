// Package transport provides the default acme.HttpTransport implementation:
// a net/http client configured for the options a Session accepts (request
// timeout, proxy, an optional custom CA bundle, an optional client
// certificate authenticator for mTLS-gated staging CAs).
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"
)

const (
	moduleVersion = "0.1.0"
	userAgentBase = "acme4j-go"
)

// Logger is the package-level logger for operationally significant
// transport events (requests sent). It defaults to log.Default() and may be
// overridden by an application that wants its own *log.Logger sink.
var Logger = log.Default()

// Config configures a Client. All fields are optional; the zero Config
// builds a client with Go's default TLS trust store and a 30s timeout.
type Config struct {
	// Timeout bounds a single HTTP round trip. Zero means 30s.
	Timeout time.Duration
	// ProxyURL, if set, routes all requests through this HTTP(S) proxy.
	ProxyURL string
	// CABundlePath, if set, replaces the system trust store with the PEM
	// bundle at this path — used against private/staging CAs with an
	// internal root.
	CABundlePath string
	// Authenticator, if set, supplies a client certificate for mTLS.
	Authenticator *tls.Certificate
}

func (c *Config) normalize() error {
	c.ProxyURL = strings.TrimSpace(c.ProxyURL)
	c.CABundlePath = strings.TrimSpace(c.CABundlePath)
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// Client is the default acme.HttpTransport implementation.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// New builds a Client from conf.
func New(conf Config) (*Client, error) {
	if err := conf.normalize(); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{}

	if conf.CABundlePath != "" {
		pemBundle, err := os.ReadFile(conf.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("acme/transport: reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBundle) {
			return nil, fmt.Errorf("acme/transport: no certificates found in %s", conf.CABundlePath)
		}
		tlsConfig.RootCAs = pool
	}

	if conf.Authenticator != nil {
		tlsConfig.Certificates = []tls.Certificate{*conf.Authenticator}
	}

	httpTransport := &http.Transport{TLSClientConfig: tlsConfig}

	if conf.ProxyURL != "" {
		proxy, err := url.Parse(conf.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("acme/transport: invalid proxy url: %w", err)
		}
		httpTransport.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: httpTransport,
			Timeout:   conf.Timeout,
			// ACME never issues 3xx for a client to follow; treat one as a
			// protocol error by refusing to chase it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: fmt.Sprintf("%s/%s (%s; %s)", userAgentBase, moduleVersion, runtime.GOOS, runtime.GOARCH),
	}, nil
}

// Do implements acme.HttpTransport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	Logger.Printf("acme/transport: %s %s", req.Method, req.URL)
	return c.httpClient.Do(req)
}
