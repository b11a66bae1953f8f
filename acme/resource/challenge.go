package resource

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/keys"
	"github.com/shred/acme4j-go/acme/login"
)

// Challenge type discriminators recognized by the default challenge
// factory.
const (
	ChallengeTypeHTTP01       = "http-01"
	ChallengeTypeDNS01        = "dns-01"
	ChallengeTypeTLSALPN01    = "tls-alpn-01"
	ChallengeTypeDNSAccount01 = "dns-account-01"
	ChallengeTypeEmailReply00 = "email-reply-00"
)

// Challenge is the common interface every challenge variant satisfies.
// Type-specific key material beyond the token (keyAuthorization, digest,
// from) lives on the concrete variant returned by Authorization.Challenges /
// FindChallenge.
type Challenge interface {
	Location() string
	Type() string
	Token() string
	Status(ctx context.Context) (acme.Status, error)
	// Data returns a navigable view of the challenge's full JSON object,
	// for reading CA-specific members the typed variants don't model.
	Data() (acme.JSON, error)
	Update(ctx context.Context) error
	// Trigger asserts the challenge was pending and POSTs {} to its url,
	// asking the CA to attempt validation.
	Trigger(ctx context.Context) error
	WaitForCompletion(ctx context.Context, timeout time.Duration) error
}

type challengeWire struct {
	Type      string        `json:"type"`
	URL       string        `json:"url"`
	Status    acme.Status   `json:"status"`
	Validated string        `json:"validated,omitempty"`
	Error     *acme.Problem `json:"error,omitempty"`
	Token     string        `json:"token,omitempty"`
	From      string        `json:"from,omitempty"`
}

// challengeCommon implements the shared Challenge behavior; every variant
// embeds it.
type challengeCommon struct {
	base
	wire challengeWire
	raw  json.RawMessage
}

func (c *challengeCommon) decode(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &c.wire); err != nil {
		return err
	}
	c.raw = append(json.RawMessage(nil), raw...)
	return nil
}

// Data implements Challenge.
func (c *challengeCommon) Data() (acme.JSON, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return acme.ParseJSON(c.raw)
}

func (c *challengeCommon) field(ctx context.Context) (challengeWire, error) {
	if err := c.ensureLoaded(ctx, c.decode); err != nil {
		return challengeWire{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wire, nil
}

// Type returns the challenge's type discriminator. It never loads (the
// authorization that produced this handle already knows it).
func (c *challengeCommon) Type() string { return c.wire.Type }

// Token returns the challenge's proof-of-possession token. Like Type, it
// is known from the authorization's JSON and never loads.
func (c *challengeCommon) Token() string { return c.wire.Token }

// Status returns the challenge's current status, loading it if necessary.
func (c *challengeCommon) Status(ctx context.Context) (acme.Status, error) {
	w, err := c.field(ctx)
	return w.Status, err
}

// Error returns the challenge's error Problem, if the CA reported one.
func (c *challengeCommon) Error(ctx context.Context) (*acme.Problem, error) {
	w, err := c.field(ctx)
	return w.Error, err
}

// Update refreshes the challenge's cached state from the server.
func (c *challengeCommon) Update(ctx context.Context) error {
	return c.update(ctx, c.decode)
}

// Trigger asserts the challenge is pending and POSTs an empty JSON object
// to its url, per RFC 8555 §7.5.1.
func (c *challengeCommon) Trigger(ctx context.Context) error {
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if status != acme.StatusPending {
		return acme.NewInvalidArgument("challenge: trigger called in status %q, expected pending", status)
	}
	resp, err := c.conn().SignedPost(ctx, c.location, c.login, []byte("{}"))
	if err != nil {
		return err
	}
	return c.setJSON(resp.Body, c.decode)
}

func (c *challengeCommon) currentStatus(ctx context.Context) (acme.Status, error) { return c.Status(ctx) }
func (c *challengeCommon) pollUpdate(ctx context.Context) error                   { return c.Update(ctx) }

func (c *challengeCommon) cachedStatus() (acme.Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return acme.StatusUnknown, false
	}
	return c.wire.Status, true
}

// WaitForCompletion polls the challenge until it reaches "valid" or
// "invalid", honoring the server's Retry-After hints.
func (c *challengeCommon) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	return waitUntilStatus(ctx, c, []acme.Status{acme.StatusValid, acme.StatusInvalid}, timeout)
}

// keyAuthorization builds token + "." + thumbprint(accountKey), the proof
// material shared by http-01, tls-alpn-01 and dns-account-01 (RFC 8555
// §8.1).
func (c *challengeCommon) keyAuthorization() string {
	return keys.KeyAuth(c.login.Key(), c.wire.Token)
}

// HTTP01Challenge is the "http-01" variant: the client serves
// KeyAuthorization() at /.well-known/acme-challenge/<token>.
type HTTP01Challenge struct{ challengeCommon }

// KeyAuthorization returns the proof content to serve for this challenge.
func (c *HTTP01Challenge) KeyAuthorization() string { return c.keyAuthorization() }

// TLSALPN01Challenge is the "tls-alpn-01" variant: the client presents a
// self-signed certificate carrying a digest of KeyAuthorization() in a
// critical extension during the TLS handshake.
type TLSALPN01Challenge struct{ challengeCommon }

// KeyAuthorization returns the proof material the TLS certificate extension
// must digest.
func (c *TLSALPN01Challenge) KeyAuthorization() string { return c.keyAuthorization() }

// DNS01Challenge is the "dns-01" variant: the client publishes Digest() as
// a TXT record at _acme-challenge.<domain>.
type DNS01Challenge struct{ challengeCommon }

// Digest returns base64url(sha256(KeyAuthorization())), the TXT record
// value.
func (c *DNS01Challenge) Digest() string {
	sum := sha256.Sum256([]byte(c.keyAuthorization()))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// DNSAccount01Challenge is the "dns-account-01" variant: like dns-01 but
// namespaced per-account, so multiple accounts can hold simultaneous
// authorizations for the same domain.
type DNSAccount01Challenge struct{ challengeCommon }

// Digest returns the TXT record value for this challenge.
func (c *DNSAccount01Challenge) Digest() string {
	sum := sha256.Sum256([]byte(c.keyAuthorization()))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RecordName returns the account-scoped TXT record name for domain. The
// validation label is a truncated SHA-256 of the account URL, so each
// account probes a distinct name and concurrent authorizations don't
// collide.
func (c *DNSAccount01Challenge) RecordName(domain string) string {
	sum := sha256.Sum256([]byte(c.login.AccountURL()))
	label := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:10]))
	return "_" + label + "._acme-challenge." + domain
}

// EmailReply00Challenge is the "email-reply-00" variant: the CA sends a
// challenge email to From() and expects a signed reply containing Token().
type EmailReply00Challenge struct{ challengeCommon }

// From returns the mailbox the CA will send the challenge email to.
func (c *EmailReply00Challenge) From() string { return c.wire.From }

// GenericChallenge is returned for any challenge type the default provider
// doesn't recognize, exposing only the common Challenge fields.
type GenericChallenge struct{ challengeCommon }

// newChallenge decodes raw into the common wire shape to determine its
// type, then returns the matching concrete variant (or GenericChallenge for
// an unrecognized type). The challenge's own "url" field becomes its
// location: it is the one ACME resource whose location never comes from an
// HTTP Location header, since it's discovered embedded in its owning
// Authorization's JSON.
func newChallenge(raw json.RawMessage, lg *login.Login) Challenge {
	var w challengeWire
	_ = json.Unmarshal(raw, &w)

	common := challengeCommon{base: newBase(w.URL, lg), wire: w}
	_ = common.setJSON(raw, common.decode)

	switch w.Type {
	case ChallengeTypeHTTP01:
		return &HTTP01Challenge{challengeCommon: common}
	case ChallengeTypeDNS01:
		return &DNS01Challenge{challengeCommon: common}
	case ChallengeTypeTLSALPN01:
		return &TLSALPN01Challenge{challengeCommon: common}
	case ChallengeTypeDNSAccount01:
		return &DNSAccount01Challenge{challengeCommon: common}
	case ChallengeTypeEmailReply00:
		return &EmailReply00Challenge{challengeCommon: common}
	default:
		return &GenericChallenge{challengeCommon: common}
	}
}
