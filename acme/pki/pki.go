// Package pki implements the default PkiCodec (acme.PkiCodec): PEM
// certificate-chain parsing and the leaf-certificate lookups the core
// needs (issuer name, ARI certificate id), all built on crypto/x509 and
// encoding/pem since no pack example wires in a third-party X.509 library
// for parsing-only use (see DESIGN.md).
package pki

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/shred/acme4j-go/acme"
)

// Codec is the standard-library-backed acme.PkiCodec implementation.
type Codec struct{}

// New returns the default Codec.
func New() *Codec { return &Codec{} }

var _ acme.PkiCodec = (*Codec)(nil)

// ParseChain decodes a PEM-encoded certificate chain (leaf first) into
// DER-encoded certificates in the same order, per RFC 8555 §7.4.2.
func (Codec) ParseChain(pemBytes []byte) ([][]byte, error) {
	var der [][]byte
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		der = append(der, block.Bytes)
	}
	if len(der) == 0 {
		return nil, fmt.Errorf("acme/pki: no CERTIFICATE blocks found in chain")
	}
	return der, nil
}

// IssuerName returns the issuer common name of a DER-encoded certificate.
func (Codec) IssuerName(der []byte) (string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", fmt.Errorf("acme/pki: parsing certificate: %w", err)
	}
	return cert.Issuer.CommonName, nil
}

// ARICertID derives the draft-ietf-acme-ari certificate identifier from a
// DER-encoded leaf certificate: base64url(AuthorityKeyId) + "." +
// base64url(SerialNumber), both unpadded.
func (Codec) ARICertID(der []byte) (string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", fmt.Errorf("acme/pki: parsing certificate: %w", err)
	}
	if len(cert.AuthorityKeyId) == 0 {
		return "", fmt.Errorf("acme/pki: certificate has no Authority Key Identifier, cannot derive ARI id")
	}
	aki := base64.RawURLEncoding.EncodeToString(cert.AuthorityKeyId)
	serial := base64.RawURLEncoding.EncodeToString(cert.SerialNumber.Bytes())
	return aki + "." + serial, nil
}
