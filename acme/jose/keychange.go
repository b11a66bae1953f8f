package jose

import (
	"encoding/json"
	"fmt"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/keys"
)

// keyChangePayload is the payload of the outer (kid-signed, by the old key)
// request in a key-change operation: the inner JWS (embedded-JWK, signed by
// the new key) wrapping {account, oldKey}, per RFC 8555 §7.3.5.
type keyChangePayload struct {
	Account string          `json:"account"`
	OldKey  json.RawMessage `json:"oldKey"`
}

// BuildKeyChangeInner constructs the inner JWS of a key-change request: it
// is signed by newSigner, embeds newSigner's JWK, has no nonce, and its
// payload is {"account": accountURL, "oldKey": <old public JWK>}.
func BuildKeyChangeInner(newSigner acme.Signer, oldSigner acme.Signer, accountURL string, keyChangeURL string) ([]byte, error) {
	oldJWK, err := publicJWKJSON(oldSigner)
	if err != nil {
		return nil, fmt.Errorf("acme/jose: marshaling old key for key-change: %w", err)
	}

	payload, err := json.Marshal(keyChangePayload{
		Account: accountURL,
		OldKey:  oldJWK,
	})
	if err != nil {
		return nil, fmt.Errorf("acme/jose: marshaling key-change payload: %w", err)
	}

	return SignInner(newSigner, payload, keyChangeURL)
}

func publicJWKJSON(signer acme.Signer) ([]byte, error) {
	jwk := keys.JWKForSigner(signer)
	return json.Marshal(&jwk)
}
