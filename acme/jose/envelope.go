package jose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/keys"
)

// NonceSource supplies the single-use replay nonce go-jose embeds in the
// protected header of each JWS it produces. It is satisfied by
// acme/nonce.Pool.
type NonceSource = gojose.NonceSource

// sigAlgFor mirrors keys.SigningKeyForSigner's algorithm selection; kept
// here too so SignEmbedded/SignWithKeyID can fail fast with an
// UnsupportedKeyError before calling into go-jose.
func sigAlgFor(signer crypto.Signer) (gojose.SignatureAlgorithm, error) {
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve.Params().Name {
		case "P-256":
			return gojose.ES256, nil
		case "P-384":
			return gojose.ES384, nil
		case "P-521":
			return gojose.ES512, nil
		}
	case *rsa.PrivateKey:
		return gojose.RS256, nil
	case ed25519.PrivateKey:
		return gojose.EdDSA, nil
	}
	return "", &acme.UnsupportedKeyError{KeyType: fmt.Sprintf("%T", signer)}
}

// SignEmbedded builds a JWS Flattened JSON serialization of payload, signed
// by signer, with the public JWK embedded in the protected header (the
// "jwk" form used for newAccount and revokeCert-by-cert-key — RFC 8555
// §6.2). The nonce-less inner JWS of a key-change request is built by
// SignInner.
func SignEmbedded(signer acme.Signer, payload []byte, url string, nonces NonceSource) ([]byte, error) {
	alg, err := sigAlgFor(signer)
	if err != nil {
		return nil, err
	}
	joseSigner, err := gojose.NewSigner(gojose.SigningKey{
		Algorithm: alg,
		Key:       signer,
	}, &gojose.SignerOptions{
		NonceSource: nonces,
		EmbedJWK:    true,
		ExtraHeaders: map[gojose.HeaderKey]interface{}{
			"url": url,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("acme/jose: building embedded-jwk signer: %w", err)
	}
	return sign(joseSigner, payload)
}

// SignWithKeyID builds a JWS Flattened JSON serialization of payload, signed
// by signer, referencing the signer's ACME account by kid (the account URL)
// rather than embedding its JWK — the form used for every account-bound
// request once the account exists (RFC 8555 §6.2).
func SignWithKeyID(signer acme.Signer, kid string, payload []byte, url string, nonces NonceSource) ([]byte, error) {
	alg, err := sigAlgFor(signer)
	if err != nil {
		return nil, err
	}
	signingKey := gojose.SigningKey{
		Algorithm: alg,
		Key: gojose.JSONWebKey{
			Key:       signer,
			Algorithm: string(alg),
			KeyID:     kid,
		},
	}
	joseSigner, err := gojose.NewSigner(signingKey, &gojose.SignerOptions{
		NonceSource: nonces,
		ExtraHeaders: map[gojose.HeaderKey]interface{}{
			"url": url,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("acme/jose: building kid signer: %w", err)
	}
	return sign(joseSigner, payload)
}

// SignInner builds an inner JWS for a key-change or external-account-binding
// request: signed by signer, embedding its JWK, with no nonce (RFC 8555
// §7.3.5 / §7.3.4 both omit the nonce from the inner object).
func SignInner(signer acme.Signer, payload []byte, url string) ([]byte, error) {
	alg, err := sigAlgFor(signer)
	if err != nil {
		return nil, err
	}
	joseSigner, err := gojose.NewSigner(gojose.SigningKey{
		Algorithm: alg,
		Key:       signer,
	}, &gojose.SignerOptions{
		EmbedJWK: true,
		ExtraHeaders: map[gojose.HeaderKey]interface{}{
			"url": url,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("acme/jose: building inner signer: %w", err)
	}
	return sign(joseSigner, payload)
}

// SignInnerWithKeyID builds an inner JWS, with no nonce, signed by signer
// with alg and referencing kid instead of embedding a JWK. External account
// binding does not use it: its HMAC-keyed inner JWS is built by
// SignExternalAccountBinding.
func SignInnerWithKeyID(signer acme.Signer, kid string, alg gojose.SignatureAlgorithm, payload []byte, url string) ([]byte, error) {
	joseSigner, err := gojose.NewSigner(gojose.SigningKey{
		Algorithm: alg,
		Key: gojose.JSONWebKey{
			Key:       signer,
			Algorithm: string(alg),
			KeyID:     kid,
		},
	}, &gojose.SignerOptions{
		ExtraHeaders: map[gojose.HeaderKey]interface{}{
			"url": url,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("acme/jose: building eab inner signer: %w", err)
	}
	return sign(joseSigner, payload)
}

func sign(signer gojose.Signer, payload []byte) ([]byte, error) {
	jws, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("acme/jose: signing: %w", err)
	}
	serialized := jws.FullSerialize()
	// FullSerialize emits the flattened form for a single-signature JWS,
	// with top-level "protected"/"payload"/"signature" members as RFC 8555
	// requires. Guard against a "signatures" array anyway: a general-form
	// serialization would be silently rejected by every CA.
	var check map[string]json.RawMessage
	if err := json.Unmarshal([]byte(serialized), &check); err != nil {
		return nil, fmt.Errorf("acme/jose: verifying flattened serialization: %w", err)
	}
	if _, hasSignatures := check["signatures"]; hasSignatures {
		return nil, fmt.Errorf("acme/jose: go-jose did not flatten a single-signature JWS")
	}
	return []byte(serialized), nil
}

// JWKThumbprint returns the RFC 7638 JWK thumbprint of signer's public key,
// the value ACME uses as the "keyAuthorization" suffix and as the key
// equality test during key rollover.
func JWKThumbprint(signer acme.Signer) string {
	return keys.JWKThumbprint(signer)
}
