// Package directory implements the CA directory cache (RFC 8555 §7.1.1):
// fetching, caching and refreshing the directory JSON object that maps
// resource kinds to their URLs, plus its "meta" policy object.
package directory

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shred/acme4j-go/acme"
)

// Logger receives directory-refresh events. Defaults to log.Default().
var Logger = log.Default()

// Kind is one of the closed set of resource kinds a directory maps to a
// URL. Querying a kind the CA doesn't advertise raises NotSupportedError.
type Kind string

const (
	KindNewNonce    Kind = "newNonce"
	KindNewAccount  Kind = "newAccount"
	KindNewAuthz    Kind = "newAuthz"
	KindNewOrder    Kind = "newOrder"
	KindRevokeCert  Kind = "revokeCert"
	KindKeyChange   Kind = "keyChange"
	KindRenewalInfo Kind = "renewalInfo"
)

var knownKinds = map[Kind]bool{
	KindNewNonce:    true,
	KindNewAccount:  true,
	KindNewAuthz:    true,
	KindNewOrder:    true,
	KindRevokeCert:  true,
	KindKeyChange:   true,
	KindRenewalInfo: true,
}

// wireDirectory is the on-the-wire shape of RFC 8555 §7.1.1's directory
// object: a flat map of resource-kind members plus "meta".
type wireDirectory struct {
	NewNonce    string          `json:"newNonce,omitempty"`
	NewAccount  string          `json:"newAccount,omitempty"`
	NewAuthz    string          `json:"newAuthz,omitempty"`
	NewOrder    string          `json:"newOrder,omitempty"`
	RevokeCert  string          `json:"revokeCert,omitempty"`
	KeyChange   string          `json:"keyChange,omitempty"`
	RenewalInfo string          `json:"renewalInfo,omitempty"`
	Meta        json.RawMessage `json:"meta,omitempty"`
}

func (w wireDirectory) urls() map[Kind]string {
	urls := map[Kind]string{}
	if w.NewNonce != "" {
		urls[KindNewNonce] = w.NewNonce
	}
	if w.NewAccount != "" {
		urls[KindNewAccount] = w.NewAccount
	}
	if w.NewAuthz != "" {
		urls[KindNewAuthz] = w.NewAuthz
	}
	if w.NewOrder != "" {
		urls[KindNewOrder] = w.NewOrder
	}
	if w.RevokeCert != "" {
		urls[KindRevokeCert] = w.RevokeCert
	}
	if w.KeyChange != "" {
		urls[KindKeyChange] = w.KeyChange
	}
	if w.RenewalInfo != "" {
		urls[KindRenewalInfo] = w.RenewalInfo
	}
	return urls
}

// Fetcher performs the unsigned GET the cache needs to refresh, returning
// the response status, body, and the subset of headers the cache reads
// (Cache-Control, Expires, Last-Modified). It is satisfied by
// acme/connection.Connection's FetchDirectory method, kept as a narrow
// interface here so the directory package never imports connection.
type Fetcher interface {
	FetchDirectory(url string, ifModifiedSince time.Time) (status int, body []byte, headers http.Header, err error)
}

// Cache holds the directory for one Session. It is safe for concurrent use;
// Refresh is idempotent and last-write-wins if called concurrently.
type Cache struct {
	url     string
	fetcher Fetcher

	mu           sync.RWMutex
	urls         map[Kind]string
	meta         acme.Metadata
	lastBody     []byte
	lastFetch    time.Time
	lastModified time.Time
	expiresAt    time.Time
	noCache      bool
}

// NewCache constructs an empty Cache bound to directoryURL. Refresh must be
// called at least once before URL/Metadata reads return anything.
func NewCache(directoryURL string, fetcher Fetcher) *Cache {
	return &Cache{url: directoryURL, fetcher: fetcher, urls: map[Kind]string{}}
}

// Refresh fetches the directory if the cached copy is stale (or missing),
// sending If-Modified-Since when a previous response carried Last-Modified. A 304 retains the existing
// cached body. Concurrent Refresh calls race harmlessly: each either wins
// and installs its own parse, or loses and the winner's result stands.
func (c *Cache) Refresh() error {
	c.mu.RLock()
	fresh := c.isFresh()
	lastModified := c.lastModified
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	status, body, headers, err := c.fetcher.FetchDirectory(c.url, lastModified)
	if err != nil {
		return &acme.TransportError{Op: "GET", URL: c.url, Err: err}
	}

	if status == http.StatusNotModified {
		c.mu.Lock()
		c.lastFetch = time.Now()
		c.applyFreshness(headers)
		c.mu.Unlock()
		return nil
	}

	if status < 200 || status >= 300 {
		return &acme.ProtocolError{Op: "GET", URL: c.url, Message: fmt.Sprintf("unexpected status %d fetching directory", status)}
	}

	var wire wireDirectory
	if err := json.Unmarshal(body, &wire); err != nil {
		return &acme.ProtocolError{Op: "GET", URL: c.url, Message: fmt.Sprintf("malformed directory json: %s", err)}
	}

	var meta acme.Metadata
	if len(wire.Meta) > 0 {
		if err := json.Unmarshal(wire.Meta, &meta); err != nil {
			return &acme.ProtocolError{Op: "GET", URL: c.url, Message: fmt.Sprintf("malformed directory meta: %s", err)}
		}
	}

	c.mu.Lock()
	c.urls = wire.urls()
	c.meta = meta
	c.lastBody = body
	c.lastFetch = time.Now()
	c.applyFreshness(headers)
	c.mu.Unlock()
	Logger.Printf("acme/directory: refreshed directory from %s (%d resources)", c.url, len(wire.urls()))
	return nil
}

// applyFreshness must be called with mu held for writing.
func (c *Cache) applyFreshness(headers http.Header) {
	c.noCache = false
	c.expiresAt = time.Time{}

	if lm := headers.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			c.lastModified = t
		}
	}

	if cc := headers.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.TrimSpace(strings.ToLower(directive))
			if directive == "no-cache" || directive == "no-store" {
				c.noCache = true
				return
			}
			if strings.HasPrefix(directive, "max-age=") {
				if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil {
					c.expiresAt = c.lastFetch.Add(time.Duration(secs) * time.Second)
					return
				}
			}
		}
	}

	if exp := headers.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			c.expiresAt = t
			return
		}
	}

	// Neither header present: treat as fresh for the Session's lifetime,
	// i.e. never expire until the caller explicitly forces a refresh.
	c.expiresAt = time.Time{}
}

// isFresh must be called with mu held (read lock is sufficient).
func (c *Cache) isFresh() bool {
	if c.lastBody == nil {
		return false
	}
	if c.noCache {
		return false
	}
	if c.expiresAt.IsZero() {
		return true
	}
	return time.Now().Before(c.expiresAt)
}

// ForceRefresh drops the freshness state so the next Refresh always hits
// the network, used after a CA is suspected to have rotated its directory.
func (c *Cache) ForceRefresh() {
	c.mu.Lock()
	c.lastBody = nil
	c.mu.Unlock()
}

// URL looks up the absolute URL for kind. It returns acme.NotSupportedError
// if the current directory doesn't advertise kind.
func (c *Cache) URL(kind Kind) (string, error) {
	if !knownKinds[kind] {
		return "", fmt.Errorf("acme/directory: %q is not a known directory kind", kind)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.urls[kind]
	if !ok {
		return "", &acme.NotSupportedError{Feature: string(kind)}
	}
	return u, nil
}

// Metadata returns the directory's "meta" object. Until the first
// successful Refresh this is the zero Metadata.
func (c *Cache) Metadata() acme.Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta
}
