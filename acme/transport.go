package acme

import (
	"crypto"
	"net/http"
)

// HttpTransport is the low-level HTTPS collaborator the core consumes for
// every request it makes. It exists so callers can substitute a proxy-aware,
// mTLS-authenticated, or test-fake client without the core importing
// net/http directly at every call site. The default implementation lives in
// package acme/transport.
type HttpTransport interface {
	// Do issues req and returns the raw response. Implementations must not
	// follow redirects (ACME never issues 3xx) and must return a non-nil
	// error wrapped so the caller can distinguish network failure from a
	// server response — the core wraps it again in a TransportError.
	Do(req *http.Request) (*http.Response, error)
}

// Signer is the cryptographic collaborator used to produce JWS signatures.
// crypto.Signer already has the right shape (Public, Sign); this is a type
// alias-like re-export so callers of this package don't need to import
// crypto for the common case, while an ECDSA/RSA/Ed25519 crypto.Signer
// (e.g. *ecdsa.PrivateKey, *rsa.PrivateKey, ed25519.PrivateKey) satisfies it
// unmodified.
type Signer = crypto.Signer

// PkiCodec abstracts certificate-chain parsing: decoding the PEM chain
// returned by a download operation, extracting the leaf's issuer common
// name, and deriving the (AKI, serial) pair an ARI certificate id is built
// from. It does not build CSRs or validate trust; that's explicitly out of
// scope of the protocol engine.
type PkiCodec interface {
	// ParseChain decodes a PEM-encoded certificate chain (leaf first) into
	// DER-encoded certificates in the same order.
	ParseChain(pem []byte) ([][]byte, error)
	// IssuerName returns the issuer common name of a DER-encoded
	// certificate.
	IssuerName(der []byte) (string, error)
	// ARICertID derives the draft-ietf-acme-ari certificate identifier
	// (base64url(AKI) + "." + base64url(serial)) from a DER-encoded leaf
	// certificate.
	ARICertID(der []byte) (string, error)
}
