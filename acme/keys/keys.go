// package keys offers utility functions for working with crypto.Signers, JWS,
// JWKs and PEM serialization. It supports the full signing algorithm matrix
// an ACME server can require: RS256, ES256, ES384, ES512 and EdDSA.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// sigAlgForKey maps a signer's concrete key type (and, for ECDSA, its curve)
// to the JWS signature algorithm RFC 7518 requires for it. RSA keys use
// RS256 regardless of modulus size, matching every ACME CA in the wild.
func sigAlgForKey(signer crypto.Signer) (jose.SignatureAlgorithm, error) {
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jose.ES256, nil
		case elliptic.P384():
			return jose.ES384, nil
		case elliptic.P521():
			return jose.ES512, nil
		default:
			return "", fmt.Errorf("keys: unsupported ecdsa curve %s", k.Curve.Params().Name)
		}
	case *rsa.PrivateKey:
		return jose.RS256, nil
	case ed25519.PrivateKey:
		return jose.EdDSA, nil
	}
	return "", fmt.Errorf("keys: unsupported signer type %T", signer)
}

// JWKJSON renders the public JWK for signer as JSON, or "" if the key type
// isn't recognized.
func JWKJSON(signer crypto.Signer) string {
	jwk := JWKForSigner(signer)
	jwkJSON, err := json.Marshal(&jwk)
	if err != nil {
		return ""
	}
	return string(jwkJSON)
}

// JWKThumbprintBytes returns the RFC 7638 SHA-256 thumbprint of signer's
// public key.
func JWKThumbprintBytes(signer crypto.Signer) []byte {
	jwk := JWKForSigner(signer)
	thumbBytes, _ := jwk.Thumbprint(crypto.SHA256)
	return thumbBytes
}

// JWKThumbprint returns the base64url-encoded RFC 7638 thumbprint of
// signer's public key, used as the part after the "." of a key
// authorization and as the key equality test in Account.ChangeKey.
func JWKThumbprint(signer crypto.Signer) string {
	thumbprintBytes := JWKThumbprintBytes(signer)
	return base64.RawURLEncoding.EncodeToString(thumbprintBytes)
}

// KeyAuth builds the key authorization string for a challenge token, per
// RFC 8555 §8.1: token "." base64url(JWK thumbprint).
func KeyAuth(signer crypto.Signer, token string) string {
	return fmt.Sprintf("%s.%s", token, JWKThumbprint(signer))
}

// JWKForSigner returns the public JWK view of signer. The "alg" member is
// the JWS algorithm the key signs with, omitted for unrecognized key types
// (the JWK is still renderable, e.g. for error reporting).
func JWKForSigner(signer crypto.Signer) jose.JSONWebKey {
	jwk := jose.JSONWebKey{Key: signer.Public()}
	if alg, err := sigAlgForKey(signer); err == nil {
		jwk.Algorithm = string(alg)
	}
	return jwk
}

// SigningKeyForSigner builds a go-jose SigningKey bound to signer, with the
// alg selected by sigAlgForKey and, when keyID is non-empty, embedded as the
// JWK's "kid" for an account's subsequent (post-registration) requests.
func SigningKeyForSigner(signer crypto.Signer, keyID string) (jose.SigningKey, error) {
	alg, err := sigAlgForKey(signer)
	if err != nil {
		return jose.SigningKey{}, err
	}
	jwk := jose.JSONWebKey{
		Key:       signer,
		Algorithm: string(alg),
		KeyID:     keyID,
	}
	return jose.SigningKey{
		Key:       jwk,
		Algorithm: alg,
	}, nil
}

// MarshalSigner serializes signer to DER bytes alongside a string tag
// identifying its key type, for callers that persist keys outside of PEM.
func MarshalSigner(signer crypto.Signer) ([]byte, string, error) {
	var keyBytes []byte
	var keyType string
	var err error
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyType = "ecdsa"
		keyBytes, err = x509.MarshalECPrivateKey(k)
	case *rsa.PrivateKey:
		keyType = "rsa"
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
	case ed25519.PrivateKey:
		keyType = "ed25519"
		keyBytes, err = x509.MarshalPKCS8PrivateKey(k)
	default:
		err = fmt.Errorf("keys: signer was unknown type: %T", k)
	}
	if err != nil {
		return nil, "", err
	}
	return keyBytes, keyType, nil
}

// UnmarshalSigner is the inverse of MarshalSigner.
func UnmarshalSigner(keyBytes []byte, keyType string) (crypto.Signer, error) {
	switch keyType {
	case "ecdsa":
		return x509.ParseECPrivateKey(keyBytes)
	case "rsa":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "ed25519":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("keys: pkcs8 key was not ed25519: %T", key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("keys: unknown key type %q", keyType)
	}
}

// SignerToPEM renders signer as a PEM-encoded private key block.
func SignerToPEM(signer crypto.Signer) (string, error) {
	var keyBytes []byte
	var keyHeader string
	var err error
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err = x509.MarshalECPrivateKey(k)
		keyHeader = "EC PRIVATE KEY"
	case *rsa.PrivateKey:
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
		keyHeader = "RSA PRIVATE KEY"
	case ed25519.PrivateKey:
		keyBytes, err = x509.MarshalPKCS8PrivateKey(k)
		keyHeader = "PRIVATE KEY"
	default:
		err = fmt.Errorf("keys: unknown key type: %T", k)
	}
	if err != nil {
		return "", err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  keyHeader,
		Bytes: keyBytes,
	})
	return string(pemBytes), nil
}

// SignerFromPEM parses a PEM-encoded private key block produced by
// SignerToPEM (or any of the three standard headers it emits) back into a
// crypto.Signer.
func SignerFromPEM(pemBytes []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("keys: no PEM block found")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("keys: pkcs8 key %T is not a crypto.Signer", key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("keys: unsupported PEM block type %q", block.Type)
	}
}

// NewSigner generates a fresh key pair of the requested type. keyType is one
// of "ecdsa" (alias for P-256), "ecdsa-p256", "ecdsa-p384", "ecdsa-p521",
// "rsa" (2048-bit), or "ed25519".
func NewSigner(keyType string) (crypto.Signer, error) {
	switch keyType {
	case "ecdsa", "ecdsa-p256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ecdsa-p384":
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ecdsa-p521":
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case "rsa":
		return rsa.GenerateKey(rand.Reader, 2048)
	case "ed25519":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	default:
		return nil, fmt.Errorf("keys: unknown key type: %q", keyType)
	}
}
