package resource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/jose"
	"github.com/shred/acme4j-go/acme/login"
)

// accountWire is the RFC 8555 §7.1.2 wire shape of an Account resource.
type accountWire struct {
	Status                 acme.Status     `json:"status"`
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed,omitempty"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
	Orders                 string          `json:"orders,omitempty"`
}

// Account binds a Login's account URL to its lazily-loaded server state.
type Account struct {
	base
	wire accountWire
}

// BindAccount binds an Account handle to an already-known account URL,
// with no network round trip. AccountBuilder.CreateLogin performs the
// registration round trip and returns the Login to bind here.
func BindAccount(lg *login.Login) *Account {
	return &Account{base: newBase(lg.AccountURL(), lg)}
}

func (a *Account) decode(raw json.RawMessage) error {
	return json.Unmarshal(raw, &a.wire)
}

// Update refreshes the Account's cached state from the server.
func (a *Account) Update(ctx context.Context) error {
	return a.update(ctx, a.decode)
}

func (a *Account) field(ctx context.Context) (accountWire, error) {
	if err := a.ensureLoaded(ctx, a.decode); err != nil {
		return accountWire{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.wire, nil
}

// Status returns the account's current status, loading it if necessary.
func (a *Account) Status(ctx context.Context) (acme.Status, error) {
	w, err := a.field(ctx)
	return w.Status, err
}

// Contacts returns the account's contact URIs.
func (a *Account) Contacts(ctx context.Context) ([]string, error) {
	w, err := a.field(ctx)
	return w.Contact, err
}

// TermsOfServiceAgreed reports whether the account has agreed to the CA's
// terms of service.
func (a *Account) TermsOfServiceAgreed(ctx context.Context) (bool, error) {
	w, err := a.field(ctx)
	return w.TermsOfServiceAgreed, err
}

// HasExternalAccountBinding reports whether the account was created with an
// external account binding.
func (a *Account) HasExternalAccountBinding(ctx context.Context) (bool, error) {
	w, err := a.field(ctx)
	return len(w.ExternalAccountBinding) > 0, err
}

// OrdersURL returns the account's orders-list URL, if the CA advertises one.
func (a *Account) OrdersURL(ctx context.Context) (string, error) {
	w, err := a.field(ctx)
	return w.Orders, err
}

// Deactivate requests deactivation of the account (RFC 8555 §7.3.6). On
// success the Account's cached status reflects "deactivated".
func (a *Account) Deactivate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"status": string(acme.StatusDeactivated)})
	if err != nil {
		return err
	}
	resp, err := a.conn().SignedPost(ctx, a.location, a.login, body)
	if err != nil {
		return err
	}
	return a.setJSON(resp.Body, a.decode)
}

// ChangeKey performs RFC 8555 §7.3.5 key rollover: builds an inner JWS
// signed by newKey over {account, oldKey}, wraps it in an outer kid-signed
// request to the keyChange URL, and on success atomically swaps the
// Login's key pair. newKey must differ from the account's current key
// (checked before any network call).
func (a *Account) ChangeKey(ctx context.Context, newKey acme.Signer) error {
	oldKey := a.login.Key()
	if jose.JWKThumbprint(newKey) == jose.JWKThumbprint(oldKey) {
		return acme.NewInvalidArgument("account: changeKey: new key is identical to the current key")
	}

	keyChangeURL, err := a.login.Session().KeyChangeURL()
	if err != nil {
		return err
	}

	inner, err := jose.BuildKeyChangeInner(newKey, oldKey, a.login.AccountURL(), keyChangeURL)
	if err != nil {
		return err
	}

	if _, err := a.conn().SignedPost(ctx, keyChangeURL, a.login, inner); err != nil {
		return err
	}

	a.login.SetKeyPair(newKey)
	return nil
}

// AccountEditor accumulates contact/ToS changes for Account.Modify to
// commit in a single signed POST.
type AccountEditor struct {
	account *Account
	contact []string
	setTOS  *bool
}

// Modify returns an AccountEditor for building a batched account update.
func (a *Account) Modify() *AccountEditor {
	return &AccountEditor{account: a}
}

// SetContacts replaces the account's contact list.
func (e *AccountEditor) SetContacts(contacts ...string) *AccountEditor {
	e.contact = contacts
	return e
}

// AgreeToTermsOfService marks the edited account as having agreed to the
// CA's terms of service.
func (e *AccountEditor) AgreeToTermsOfService() *AccountEditor {
	t := true
	e.setTOS = &t
	return e
}

// Commit sends the accumulated changes as a single signed POST to the
// account URL and refreshes the Account from the response.
func (e *AccountEditor) Commit(ctx context.Context) error {
	payload := map[string]interface{}{}
	if e.contact != nil {
		payload["contact"] = e.contact
	}
	if e.setTOS != nil {
		payload["termsOfServiceAgreed"] = *e.setTOS
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	a := e.account
	resp, err := a.conn().SignedPost(ctx, a.location, a.login, body)
	if err != nil {
		return err
	}
	return a.setJSON(resp.Body, a.decode)
}

// NewOrder returns an OrderBuilder for placing a new certificate order
// under this account.
func (a *Account) NewOrder() *OrderBuilder {
	return newOrderBuilder(a.login)
}

// NewAuthorization requests a standalone authorization for identifier
// (RFC 8555 §7.4.1), if the CA advertises newAuthz. Most CAs only create
// authorizations implicitly via newOrder; this is for the minority that
// advertise the extension.
func (a *Account) NewAuthorization(ctx context.Context, identifier acme.Identifier) (*Authorization, error) {
	newAuthzURL, err := a.login.Session().NewAuthzURL()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]interface{}{"identifier": identifier})
	if err != nil {
		return nil, err
	}
	resp, err := a.conn().SignedPost(ctx, newAuthzURL, a.login, body)
	if err != nil {
		return nil, err
	}
	if resp.Location == "" {
		return nil, &acme.ProtocolError{Op: "POST", URL: newAuthzURL, Message: "newAuthz response carried no Location"}
	}
	authz := bindAuthorization(resp.Location, a.login)
	if err := authz.setJSON(resp.Body, authz.decode); err != nil {
		return nil, fmt.Errorf("resource: decoding newAuthz response: %w", err)
	}
	return authz, nil
}
