package resource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/login"
)

// autoRenewWire is the draft-ietf-acme-star "auto-renewal" order block.
type autoRenewWire struct {
	StartDate      string `json:"start-date,omitempty"`
	EndDate        string `json:"end-date,omitempty"`
	LifetimeSec    int    `json:"lifetime,omitempty"`
	LifetimeAdjust int    `json:"lifetime-adjust,omitempty"`
}

// orderWire is the RFC 8555 §7.1.3 wire shape of an Order resource, plus
// the profile (draft-ietf-acme-profiles), auto-renewal (RFC 8739) and ARI
// "replaces" extensions.
type orderWire struct {
	Status         acme.Status       `json:"status"`
	Identifiers    []acme.Identifier `json:"identifiers,omitempty"`
	NotBefore      string            `json:"notBefore,omitempty"`
	NotAfter       string            `json:"notAfter,omitempty"`
	Expires        string            `json:"expires,omitempty"`
	Authorizations []string          `json:"authorizations,omitempty"`
	Finalize       string            `json:"finalize,omitempty"`
	Certificate    string            `json:"certificate,omitempty"`
	Error          *acme.Problem     `json:"error,omitempty"`
	Profile        string            `json:"profile,omitempty"`
	AutoRenewal    *autoRenewWire    `json:"auto-renewal,omitempty"`
	Replaces       string            `json:"replaces,omitempty"`
}

// Order is a certificate order, lazily loaded from its location URL.
type Order struct {
	base
	wire orderWire
}

// BindOrder binds an Order handle to an already-known order URL, with no
// network round trip.
func BindOrder(location string, lg *login.Login) *Order {
	return &Order{base: newBase(location, lg)}
}

func (o *Order) decode(raw json.RawMessage) error {
	return json.Unmarshal(raw, &o.wire)
}

// Update refreshes the Order's cached state from the server.
func (o *Order) Update(ctx context.Context) error {
	return o.update(ctx, o.decode)
}

func (o *Order) field(ctx context.Context) (orderWire, error) {
	if err := o.ensureLoaded(ctx, o.decode); err != nil {
		return orderWire{}, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.wire, nil
}

// Status returns the order's current status.
func (o *Order) Status(ctx context.Context) (acme.Status, error) {
	w, err := o.field(ctx)
	return w.Status, err
}

// Identifiers returns the identifiers this order covers.
func (o *Order) Identifiers(ctx context.Context) ([]acme.Identifier, error) {
	w, err := o.field(ctx)
	return w.Identifiers, err
}

// Error returns the order's error Problem, if the server reported one.
func (o *Order) Error(ctx context.Context) (*acme.Problem, error) {
	w, err := o.field(ctx)
	return w.Error, err
}

func (o *Order) currentStatus(ctx context.Context) (acme.Status, error) { return o.Status(ctx) }
func (o *Order) pollUpdate(ctx context.Context) error                   { return o.Update(ctx) }

func (o *Order) cachedStatus() (acme.Status, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.loaded {
		return acme.StatusUnknown, false
	}
	return o.wire.Status, true
}

// GetAuthorizations returns bound Authorization handles for every
// authorization URL on the order. No network round trip is performed; each
// returned Authorization lazily loads on first field access.
func (o *Order) GetAuthorizations(ctx context.Context) ([]*Authorization, error) {
	w, err := o.field(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Authorization, 0, len(w.Authorizations))
	for _, u := range w.Authorizations {
		out = append(out, bindAuthorization(u, o.login))
	}
	return out, nil
}

// Execute POSTs csrDer (a DER-encoded CSR) to the order's finalize URL and
// waits for the order to leave "processing", per the order state machine:
// pending -> ready -> (finalize) -> processing -> valid|invalid.
func (o *Order) Execute(ctx context.Context, csrDer []byte, timeout time.Duration) error {
	w, err := o.field(ctx)
	if err != nil {
		return err
	}
	if w.Finalize == "" {
		return acme.NewInvalidArgument("order: finalize URL is not yet known; call Update first")
	}

	body, err := json.Marshal(map[string]string{"csr": base64.RawURLEncoding.EncodeToString(csrDer)})
	if err != nil {
		return err
	}
	resp, err := o.conn().SignedPost(ctx, w.Finalize, o.login, body)
	if err != nil {
		return err
	}
	if err := o.setJSON(resp.Body, o.decode); err != nil {
		return err
	}
	if !resp.RetryAfter.IsZero() {
		o.mu.Lock()
		o.lastRetryAt = resp.RetryAfter
		o.mu.Unlock()
	}

	return waitUntilStatus(ctx, o, []acme.Status{acme.StatusValid, acme.StatusInvalid}, timeout)
}

// GetCertificate returns a Certificate bound to the order's issued
// certificate URL. The order must be in status "valid".
func (o *Order) GetCertificate(ctx context.Context) (*Certificate, error) {
	w, err := o.field(ctx)
	if err != nil {
		return nil, err
	}
	if w.Certificate == "" {
		return nil, acme.NewInvalidArgument("order: no certificate URL yet; order is not valid")
	}
	return bindCertificate(w.Certificate, o.login), nil
}

// CancelAutoRenewal POSTs {"status":"canceled"} to the order URL, valid
// only for STAR auto-renewal orders.
func (o *Order) CancelAutoRenewal(ctx context.Context) error {
	w, err := o.field(ctx)
	if err != nil {
		return err
	}
	if w.AutoRenewal == nil {
		return &acme.NotSupportedError{Feature: "auto-renewal"}
	}
	body, err := json.Marshal(map[string]string{"status": string(acme.StatusCanceled)})
	if err != nil {
		return err
	}
	resp, err := o.conn().SignedPost(ctx, o.location, o.login, body)
	if err != nil {
		return err
	}
	return o.setJSON(resp.Body, o.decode)
}
