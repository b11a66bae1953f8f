// Package builder implements AccountBuilder: the only way to create
// a new ACME account (or bind to an existing one) via a registration round
// trip. OrderBuilder lives in acme/resource instead, since it constructs
// and returns an *resource.Order and acme/resource already owns that
// type's internals; AccountBuilder has no such dependency and stays free
// of an acme/resource import.
package builder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/jose"
	"github.com/shred/acme4j-go/acme/keys"
	"github.com/shred/acme4j-go/acme/login"
	"github.com/shred/acme4j-go/acme/session"
)

// AccountBuilder accumulates the parameters of a new-account registration
// (RFC 8555 §7.3) and submits them with CreateLogin.
type AccountBuilder struct {
	contact      []string
	agreedToTOS  bool
	keyPair      acme.Signer
	onlyExisting bool
	eabKeyID     string
	eabMacKey    []byte
	eabMacAlg    string
	err          error
}

// New returns an empty AccountBuilder.
func New() *AccountBuilder { return &AccountBuilder{} }

// AddContact adds a raw contact URI (e.g. "mailto:ops@example.com",
// "tel:+12025551234") verbatim.
func (b *AccountBuilder) AddContact(uri string) *AccountBuilder {
	b.contact = append(b.contact, uri)
	return b
}

// AddEmail adds an email contact, prefixing "mailto:" if the caller didn't
// already include a scheme.
func (b *AccountBuilder) AddEmail(email string) *AccountBuilder {
	if strings.Contains(email, ":") {
		return b.AddContact(email)
	}
	return b.AddContact("mailto:" + email)
}

// AgreeToTermsOfService sets termsOfServiceAgreed: true in the
// registration payload.
func (b *AccountBuilder) AgreeToTermsOfService() *AccountBuilder {
	b.agreedToTOS = true
	return b
}

// UseKeyPair sets the account's key pair; required before CreateLogin.
func (b *AccountBuilder) UseKeyPair(kp acme.Signer) *AccountBuilder {
	b.keyPair = kp
	return b
}

// OnlyExisting sets onlyReturnExisting: true, asking the CA to fail rather
// than create a new account if none matches this key.
func (b *AccountBuilder) OnlyExisting() *AccountBuilder {
	b.onlyExisting = true
	return b
}

// WithKeyIdentifier enables external account binding: kid is the opaque
// identifier the CA issued out of band, macKey is the associated HMAC key,
// base64url-encoded exactly as the CA delivered it.
func (b *AccountBuilder) WithKeyIdentifier(kid string, macKeyBase64URL string) *AccountBuilder {
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(macKeyBase64URL, "="))
	if err != nil {
		b.err = acme.NewInvalidArgument("accountBuilder: invalid base64url mac key: %s", err)
		return b
	}
	b.eabKeyID = kid
	b.eabMacKey = key
	return b
}

// WithMacAlgorithm overrides the EAB MAC algorithm; must be one of HS256,
// HS384, HS512. When it is not called, the algorithm is derived from the
// MAC key length.
func (b *AccountBuilder) WithMacAlgorithm(alg string) *AccountBuilder {
	switch alg {
	case "HS256", "HS384", "HS512":
		b.eabMacAlg = alg
	default:
		b.err = acme.NewInvalidArgument("accountBuilder: unsupported mac algorithm %q", alg)
	}
	return b
}

type newAccountPayload struct {
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed,omitempty"`
	OnlyReturnExisting     bool            `json:"onlyReturnExisting,omitempty"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
}

// CreateLogin POSTs the accumulated registration to newAccount with the
// account's public JWK embedded (no kid yet), and returns a Login bound to
// the resulting account URL. A 201 response is a new account; 200 is an
// existing one found by key; both bind the same way.
func (b *AccountBuilder) CreateLogin(ctx context.Context, sess *session.Session) (*login.Login, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.keyPair == nil {
		return nil, acme.NewInvalidArgument("accountBuilder: UseKeyPair is required")
	}

	payload := newAccountPayload{
		Contact:              b.contact,
		TermsOfServiceAgreed: b.agreedToTOS,
		OnlyReturnExisting:   b.onlyExisting,
	}

	if b.eabKeyID != "" {
		accountJWK := keys.JWKForSigner(b.keyPair)
		accountJWKJSON, err := json.Marshal(&accountJWK)
		if err != nil {
			return nil, err
		}
		newAccountURL, err := sess.NewAccountURL()
		if err != nil {
			return nil, err
		}
		eab, err := jose.SignExternalAccountBinding(b.eabMacKey, b.eabKeyID, b.eabMacAlg, accountJWKJSON, newAccountURL)
		if err != nil {
			return nil, err
		}
		payload.ExternalAccountBinding = eab
	} else if sess.Metadata().ExternalAccountRequired {
		return nil, acme.NewInvalidArgument("accountBuilder: this CA requires external account binding; call WithKeyIdentifier")
	}

	newAccountURL, err := sess.NewAccountURL()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := sess.Connection().SignedPostWithJwk(ctx, newAccountURL, b.keyPair, body)
	if err != nil {
		return nil, err
	}
	if resp.Location == "" {
		return nil, &acme.ProtocolError{Op: "POST", URL: newAccountURL, Message: "newAccount response carried no Location"}
	}

	return login.New(sess, resp.Location, b.keyPair), nil
}
