package jose

import (
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"
)

// macAlgorithm maps an explicitly requested name ("HS256", "HS384",
// "HS512"; case sensitive to match the wire values CAs advertise) to the
// corresponding go-jose signature algorithm.
func macAlgorithm(name string) (gojose.SignatureAlgorithm, error) {
	switch name {
	case "HS256":
		return gojose.HS256, nil
	case "HS384":
		return gojose.HS384, nil
	case "HS512":
		return gojose.HS512, nil
	default:
		return "", fmt.Errorf("acme/jose: unsupported EAB mac algorithm %q", name)
	}
}

// macAlgorithmForKey derives the default MAC algorithm from the key the CA
// issued: the smallest HMAC whose canonical key length matches len(macKey)
// exactly (32, 48 and 64 bytes for SHA-256, SHA-384 and SHA-512). When no
// canonical length matches, the largest HMAC the key can fully key is used
// (RFC 2104 wants a key at least as long as the hash output), bottoming out
// at HS256.
func macAlgorithmForKey(macKey []byte) gojose.SignatureAlgorithm {
	switch {
	case len(macKey) == 32:
		return gojose.HS256
	case len(macKey) == 48:
		return gojose.HS384
	case len(macKey) >= 64:
		return gojose.HS512
	case len(macKey) > 48:
		return gojose.HS384
	default:
		return gojose.HS256
	}
}

// SignExternalAccountBinding builds the inner JWS of an external-account-
// binding request (RFC 8555 §7.3.4): payload is the account's outer-JWS
// public JWK, macKey is the base64url-decoded HMAC key the CA issued out of
// band, kid is the key identifier the CA paired with it. macAlg explicitly
// selects the MAC algorithm; when empty, it is derived from the key length
// via macAlgorithmForKey. go-jose signs directly against a raw []byte JWK
// key for the HS256/384/512 algorithms, so no crypto.Signer adapter is
// needed.
func SignExternalAccountBinding(macKey []byte, kid string, macAlg string, accountJWK []byte, url string) ([]byte, error) {
	var alg gojose.SignatureAlgorithm
	if macAlg == "" {
		alg = macAlgorithmForKey(macKey)
	} else {
		var err error
		alg, err = macAlgorithm(macAlg)
		if err != nil {
			return nil, err
		}
	}

	joseSigner, err := gojose.NewSigner(gojose.SigningKey{
		Algorithm: alg,
		Key: gojose.JSONWebKey{
			Key:       macKey,
			Algorithm: string(alg),
			KeyID:     kid,
		},
	}, &gojose.SignerOptions{
		ExtraHeaders: map[gojose.HeaderKey]interface{}{
			"url": url,
			"kid": kid,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("acme/jose: building eab signer: %w", err)
	}

	return sign(joseSigner, accountJWK)
}
