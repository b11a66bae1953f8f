// Package connection implements one ACME HTTP request/response round trip
// (RFC 8555 §6.1): building the request per its contract (unsigned,
// POST-as-GET, signed POST, certificate fetch), sending it through an
// acme.HttpTransport, and parsing the response's status, headers and body
// into the shapes the rest of the client needs.
package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/peterhellberg/link"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/jose"
	"github.com/shred/acme4j-go/acme/nonce"
)

// Logger receives operationally significant connection events (nonce
// refills, badNonce retries). Defaults to log.Default().
var Logger = log.Default()

// Signer is the subset of Login a Connection needs to sign a kid request:
// the account URL and the account key.
type Signer interface {
	KeyID() string
	Key() acme.Signer
}

// Response is the parsed result of one Connection operation. Links maps a
// link relation to every target URI the response carried for it, in header
// order; RFC 8288 allows both repeated Link headers and multiple
// comma-separated values per header, and ACME uses both (a certificate
// response carries one rel="alternate" link per alternate chain).
type Response struct {
	StatusCode   int
	Body         []byte
	Location     string
	Links        map[string][]string
	RetryAfter   time.Time
	LastModified time.Time
	CacheControl string
	Expires      time.Time
}

// Link returns the first target URI for rel, or "" if the response carried
// none.
func (r *Response) Link(rel string) string {
	if links := r.Links[rel]; len(links) > 0 {
		return links[0]
	}
	return ""
}

// Connection performs ACME requests against one CA, signing them with a
// shared nonce pool.
type Connection struct {
	transport acme.HttpTransport
	nonces    *nonce.Pool
	locale    string
}

// New builds a Connection using transport for network I/O and nonces as its
// replay-nonce source (shared with the owning Session).
func New(transport acme.HttpTransport, nonces *nonce.Pool, locale string) *Connection {
	return &Connection{transport: transport, nonces: nonces, locale: locale}
}

// FetchDirectory implements directory.Fetcher.
func (c *Connection) FetchDirectory(url string, ifModifiedSince time.Time) (int, []byte, http.Header, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	if !ifModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", ifModifiedSince.UTC().Format(http.TimeFormat))
	}
	c.setCommonHeaders(req)

	resp, err := c.transport.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, body, resp.Header, nil
}

// RefillNonce performs a HEAD against newNonceURL and returns the
// Replay-Nonce it yields. Session wraps this in a nonce.Refiller that knows
// which URL to pass, since the Refiller interface itself takes none (the
// URL comes from the directory cache, which Connection doesn't own).
func (c *Connection) RefillNonce(newNonceURL string) (string, error) {
	req, err := http.NewRequest(http.MethodHead, newNonceURL, nil)
	if err != nil {
		return "", err
	}
	c.setCommonHeaders(req)

	resp, err := c.transport.Do(req)
	if err != nil {
		return "", &acme.TransportError{Op: "HEAD", URL: newNonceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &acme.ProtocolError{Op: "HEAD", URL: newNonceURL, Message: fmt.Sprintf("unexpected status %d from newNonce", resp.StatusCode)}
	}
	n := resp.Header.Get("Replay-Nonce")
	if n == "" {
		return "", &acme.ProtocolError{Op: "HEAD", URL: newNonceURL, Message: "no Replay-Nonce header in newNonce response"}
	}
	Logger.Printf("acme/connection: refilled nonce pool from %s", newNonceURL)
	return n, nil
}

// Unsigned performs a plain unsigned GET. The directory is fetched through
// FetchDirectory and certificates through CertificateFetch instead.
func (c *Connection) Unsigned(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setCommonHeaders(req)
	return c.do(req)
}

// PostAsGet performs a POST-as-GET (RFC 8555 §6.3): signed by the Login's
// key via kid, empty payload.
func (c *Connection) PostAsGet(ctx context.Context, url string, login Signer) (*Response, error) {
	return c.signedPost(ctx, url, login, nil, "application/json")
}

// SignedPost performs a signed POST with a JSON body, signed by the Login's
// key via kid.
func (c *Connection) SignedPost(ctx context.Context, url string, login Signer, body []byte) (*Response, error) {
	return c.signedPost(ctx, url, login, body, "application/json")
}

// SignedPostWithJwk performs a signed POST with the given signer's JWK
// embedded directly in the protected header instead of a kid — used for
// newAccount and for certificate revocation signed by the certificate's own
// key pair.
func (c *Connection) SignedPostWithJwk(ctx context.Context, url string, signer acme.Signer, body []byte) (*Response, error) {
	sign := func() ([]byte, error) {
		return jose.SignEmbedded(signer, jsonOrEmpty(body), url, c.nonces)
	}
	return c.signAndPostWithRetry(ctx, url, "application/json", sign)
}

// CertificateFetch performs a POST-as-GET against url requesting
// application/pem-certificate-chain, used to download an issued
// certificate.
func (c *Connection) CertificateFetch(ctx context.Context, url string, login Signer) (*Response, error) {
	return c.signedPost(ctx, url, login, nil, "application/pem-certificate-chain")
}

func (c *Connection) signedPost(ctx context.Context, url string, login Signer, body []byte, accept string) (*Response, error) {
	sign := func() ([]byte, error) {
		return jose.SignWithKeyID(login.Key(), login.KeyID(), jsonOrEmpty(body), url, c.nonces)
	}
	return c.signAndPostWithRetry(ctx, url, accept, sign)
}

// signAndPostWithRetry signs and posts once; if the server rejects the
// nonce (urn:...:badNonce), it re-signs (drawing a fresh nonce from the
// pool, which the failed response's Replay-Nonce header has already
// refilled) and retries exactly once.
func (c *Connection) signAndPostWithRetry(ctx context.Context, url, accept string, sign func() ([]byte, error)) (*Response, error) {
	jws, err := sign()
	if err != nil {
		return nil, err
	}
	resp, err := c.postJWS(ctx, url, jws, accept)
	if err == nil {
		return resp, nil
	}

	var serverErr *acme.ServerError
	if !errors.As(err, &serverErr) || !serverErr.IsBadNonce() {
		return resp, err
	}

	Logger.Printf("acme/connection: server rejected nonce for POST %s, retrying once", url)
	retryJWS, err := sign()
	if err != nil {
		return nil, err
	}
	return c.postJWS(ctx, url, retryJWS, accept)
}

func jsonOrEmpty(body []byte) []byte {
	if body == nil {
		return []byte{}
	}
	return body
}

func (c *Connection) postJWS(ctx context.Context, url string, jws []byte, accept string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jws))
	if err != nil {
		return nil, err
	}
	c.setCommonHeaders(req)
	req.Header.Set("Content-Type", "application/jose+json")
	req.Header.Set("Accept", accept)

	return c.do(req)
}

// do sends req, consumes its Replay-Nonce into the pool, and classifies the
// outcome: 2xx is success, 4xx/5xx with an RFC 7807 problem body
// becomes a ServerError, any other 4xx/5xx becomes a ProtocolError.
func (c *Connection) do(req *http.Request) (*Response, error) {
	httpResp, err := c.transport.Do(req)
	if err != nil {
		return nil, &acme.TransportError{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &acme.TransportError{Op: req.Method, URL: req.URL.String(), Err: err}
	}

	if n := httpResp.Header.Get("Replay-Nonce"); n != "" {
		_ = c.nonces.Put(n)
	}

	resp := &Response{
		StatusCode:   httpResp.StatusCode,
		Body:         body,
		Location:     resolveLocation(req.URL.String(), httpResp.Header.Get("Location")),
		Links:        parseLinks(httpResp.Header),
		CacheControl: httpResp.Header.Get("Cache-Control"),
	}
	if ra := httpResp.Header.Get("Retry-After"); ra != "" {
		resp.RetryAfter = parseRetryAfter(ra, httpResp.Header.Get("Date"))
	}
	if lm := httpResp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			resp.LastModified = t
		}
	}
	if exp := httpResp.Header.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			resp.Expires = t
		}
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return resp, nil
	}

	contentType := httpResp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/problem+json") {
		problem, perr := acme.ParseProblem(body, req.URL.String())
		if perr != nil {
			return nil, &acme.ProtocolError{Op: req.Method, URL: req.URL.String(), Message: fmt.Sprintf("malformed problem document: %s", perr)}
		}
		return resp, newServerError(problem, resp)
	}

	return resp, &acme.ProtocolError{
		Op:      req.Method,
		URL:     req.URL.String(),
		Message: fmt.Sprintf("unexpected status %d %s", httpResp.StatusCode, http.StatusText(httpResp.StatusCode)),
	}
}

func newServerError(problem acme.Problem, resp *Response) *acme.ServerError {
	se := &acme.ServerError{Problem: problem, StatusCode: resp.StatusCode}
	switch se.Subkind() {
	case "userActionRequired":
		se.TermsOfServiceURL = resp.Link("termsOfService")
	case "rateLimited":
		se.RetryAfter = resp.RetryAfter
		se.HelpURLs = append(se.HelpURLs, resp.Links["help"]...)
	}
	return se
}

// linkSegment matches one link-value within a Link header: the <target>
// plus its parameters, up to the next link-value. Splitting before handing
// each segment to link.Parse keeps same-rel values from collapsing (the
// library returns a map keyed by rel).
var linkSegment = regexp.MustCompile(`<[^>]*>[^<]*`)

// parseLinks gathers every Link relation the response carried, across
// repeated headers and comma-separated values within one header.
func parseLinks(headers http.Header) map[string][]string {
	links := map[string][]string{}
	for _, value := range headers.Values("Link") {
		for _, segment := range linkSegment.FindAllString(value, -1) {
			for rel, l := range link.Parse(strings.TrimRight(strings.TrimSpace(segment), ", \t")) {
				links[rel] = append(links[rel], l.URI)
			}
		}
	}
	return links
}

// setCommonHeaders applies the headers every request carries.
func (c *Connection) setCommonHeaders(req *http.Request) {
	if c.locale != "" {
		req.Header.Set("Accept-Language", c.locale)
	}
	req.Header.Set("Accept-Charset", "utf-8")
}

func resolveLocation(requestURL, location string) string {
	if location == "" {
		return ""
	}
	base, err := url.Parse(requestURL)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}

// parseRetryAfter interprets a Retry-After header per RFC 7231: pure digits are a
// delta in seconds from the response's Date header (falling back to the
// local clock if Date is absent or unparsable); anything else is an
// RFC 1123 date.
func parseRetryAfter(value, dateHeader string) time.Time {
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		base := time.Now()
		if dateHeader != "" {
			if d, err := http.ParseTime(dateHeader); err == nil {
				base = d
			}
		}
		return base.Add(time.Duration(secs) * time.Second)
	}
	if t, err := http.ParseTime(value); err == nil {
		return t
	}
	return time.Time{}
}
