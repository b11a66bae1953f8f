package resource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/login"
	"github.com/shred/acme4j-go/acme/session"
)

// revokeBody builds the RFC 8555 §7.6 revocation payload: the DER
// certificate base64url-encoded, plus an optional CRL reason code.
func revokeBody(certDER []byte, reason *int) ([]byte, error) {
	payload := map[string]interface{}{
		"certificate": base64.RawURLEncoding.EncodeToString(certDER),
	}
	if reason != nil {
		payload["reason"] = *reason
	}
	return json.Marshal(payload)
}

// Certificate is an issued certificate chain, downloaded as a PEM
// document and decoded via the Session's PkiCodec. Unlike the other
// Resource types its cached state isn't JSON, so it manages its own
// valid/invalid flag on top of the shared base location/login/mutex.
type Certificate struct {
	base
	leaf       []byte
	chain      [][]byte
	alternates []string
}

func bindCertificate(location string, lg *login.Login) *Certificate {
	return &Certificate{base: newBase(location, lg)}
}

// Download performs a certificate-GET against the certificate's location,
// parses the PEM chain via the Session's PkiCodec, and caches the leaf,
// intermediate chain, and any Link rel="alternate" chain URLs.
func (c *Certificate) Download(ctx context.Context) error {
	resp, err := c.conn().CertificateFetch(ctx, c.location, c.login)
	if err != nil {
		return err
	}

	der, err := c.login.Session().PkiCodec().ParseChain(resp.Body)
	if err != nil {
		return err
	}

	alternates := append([]string(nil), resp.Links["alternate"]...)

	c.mu.Lock()
	c.leaf = der[0]
	if len(der) > 1 {
		c.chain = der[1:]
	} else {
		c.chain = nil
	}
	c.alternates = alternates
	c.loaded = true
	c.mu.Unlock()
	return nil
}

func (c *Certificate) ensureDownloaded(ctx context.Context) error {
	if c.isValid() {
		return nil
	}
	return c.Download(ctx)
}

// Leaf returns the DER-encoded end-entity certificate, downloading it if
// necessary.
func (c *Certificate) Leaf(ctx context.Context) ([]byte, error) {
	if err := c.ensureDownloaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leaf, nil
}

// Chain returns the DER-encoded intermediate certificates, leaf excluded.
func (c *Certificate) Chain(ctx context.Context) ([][]byte, error) {
	if err := c.ensureDownloaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chain, nil
}

// Alternates returns alternate chain URLs offered via Link rel="alternate".
func (c *Certificate) Alternates(ctx context.Context) ([]string, error) {
	if err := c.ensureDownloaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alternates, nil
}

// WritePem writes the full chain (leaf first) as concatenated PEM blocks.
func (c *Certificate) WritePem(ctx context.Context, w io.Writer) error {
	leaf, err := c.Leaf(ctx)
	if err != nil {
		return err
	}
	chain, err := c.Chain(ctx)
	if err != nil {
		return err
	}
	for _, der := range append([][]byte{leaf}, chain...) {
		if err := pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			return err
		}
	}
	return nil
}

// FindIssuer returns true if any certificate in the chain (leaf excluded)
// has the given issuer common name.
func (c *Certificate) FindIssuer(ctx context.Context, name string) (bool, error) {
	chain, err := c.Chain(ctx)
	if err != nil {
		return false, err
	}
	codec := c.login.Session().PkiCodec()
	for _, der := range chain {
		issuer, err := codec.IssuerName(der)
		if err != nil {
			continue
		}
		if issuer == name {
			return true, nil
		}
	}
	return false, nil
}

// Revoke requests revocation of this certificate (RFC 8555 §7.6), signed
// with the account's key via kid.
func (c *Certificate) Revoke(ctx context.Context, reason *int) error {
	leaf, err := c.Leaf(ctx)
	if err != nil {
		return err
	}
	revokeURL, err := c.login.Session().RevokeCertURL()
	if err != nil {
		return err
	}
	body, err := revokeBody(leaf, reason)
	if err != nil {
		return err
	}
	_, err = c.conn().SignedPost(ctx, revokeURL, c.login, body)
	return err
}

// RevokeWithCertKey performs the static/unauthenticated revocation path
// (RFC 8555 §7.6): signed with the certificate's own key pair via jwk,
// with no ACME account involved. Use this when the caller holds the
// certificate's private key but never registered (or has lost) an
// account.
func RevokeWithCertKey(ctx context.Context, sess *session.Session, certDER []byte, certKeyPair acme.Signer, reason *int) error {
	revokeURL, err := sess.RevokeCertURL()
	if err != nil {
		return err
	}
	body, err := revokeBody(certDER, reason)
	if err != nil {
		return err
	}
	_, err = sess.Connection().SignedPostWithJwk(ctx, revokeURL, certKeyPair, body)
	return err
}

// GetRenewalInfo requires the CA to advertise the renewalInfo directory
// entry; the lookup URL is <renewalInfo>/<certID>, certID derived from the
// leaf's Authority Key Identifier and serial number (draft-ietf-acme-ari).
func (c *Certificate) GetRenewalInfo(ctx context.Context) (*RenewalInfo, error) {
	leaf, err := c.Leaf(ctx)
	if err != nil {
		return nil, err
	}
	certID, err := c.login.Session().PkiCodec().ARICertID(leaf)
	if err != nil {
		return nil, err
	}
	url, err := c.login.Session().RenewalInfoURL(certID)
	if err != nil {
		return nil, err
	}
	ri := bindRenewalInfo(url, c.login)
	if err := ri.Update(ctx); err != nil {
		return nil, err
	}
	return ri, nil
}
