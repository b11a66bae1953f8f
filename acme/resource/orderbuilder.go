package resource

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/login"
)

// OrderBuilder accumulates the parameters of a new certificate order
// (RFC 8555 §7.4, plus the profile/ARI/auto-renewal extensions in §6) and
// submits them with Create.
type OrderBuilder struct {
	login       *login.Login
	identifiers []acme.Identifier
	notBefore   time.Time
	notAfter    time.Time
	profile     string
	replaces    string
	autoRenew   *autoRenewWire
	err         error
}

func newOrderBuilder(lg *login.Login) *OrderBuilder {
	return &OrderBuilder{login: lg}
}

// Domain adds a DNS identifier, IDN-normalizing name.
func (b *OrderBuilder) Domain(name string) *OrderBuilder {
	id, err := acme.DNSIdentifier(name)
	if err != nil {
		b.err = err
		return b
	}
	b.identifiers = append(b.identifiers, id)
	return b
}

// Domains adds multiple DNS identifiers.
func (b *OrderBuilder) Domains(names ...string) *OrderBuilder {
	for _, n := range names {
		b.Domain(n)
	}
	return b
}

// Identifier adds an arbitrary identifier (DNS, IP, or a future type).
func (b *OrderBuilder) Identifier(id acme.Identifier) *OrderBuilder {
	b.identifiers = append(b.identifiers, id)
	return b
}

// NotBefore sets the order's requested validity start. Mutually exclusive
// with auto-renewal.
func (b *OrderBuilder) NotBefore(t time.Time) *OrderBuilder {
	b.notBefore = t
	return b
}

// NotAfter sets the order's requested validity end. Mutually exclusive
// with auto-renewal.
func (b *OrderBuilder) NotAfter(t time.Time) *OrderBuilder {
	b.notAfter = t
	return b
}

// Profile requests a named certificate profile; Create validates it
// against the CA's advertised profiles.
func (b *OrderBuilder) Profile(name string) *OrderBuilder {
	b.profile = name
	return b
}

// Replaces sets the ARI certificate id of the certificate this order
// replaces; Create validates the CA advertises renewalInfo.
func (b *OrderBuilder) Replaces(ariCertID string) *OrderBuilder {
	b.replaces = ariCertID
	return b
}

// AutoRenewal requests a STAR auto-renewal order with the given window and
// lifetime. Mutually exclusive with NotBefore/NotAfter.
func (b *OrderBuilder) AutoRenewal(start, end time.Time, lifetime time.Duration) *OrderBuilder {
	b.autoRenew = &autoRenewWire{
		StartDate:   start.Format(time.RFC3339),
		EndDate:     end.Format(time.RFC3339),
		LifetimeSec: int(lifetime.Seconds()),
	}
	return b
}

// Create validates the accumulated parameters and POSTs to newOrder,
// returning the resulting Order.
func (b *OrderBuilder) Create(ctx context.Context) (*Order, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.identifiers) == 0 {
		return nil, acme.NewInvalidArgument("order: at least one identifier is required")
	}
	if b.autoRenew != nil && (!b.notBefore.IsZero() || !b.notAfter.IsZero()) {
		return nil, acme.NewInvalidArgument("order: auto-renewal and notBefore/notAfter are mutually exclusive")
	}

	session := b.login.Session()
	meta := session.Metadata()

	if b.profile != "" {
		if _, ok := meta.Profiles[b.profile]; !ok {
			return nil, &acme.NotSupportedError{Feature: "profile " + b.profile}
		}
	}
	if b.replaces != "" {
		if _, err := session.RenewalInfoURL(b.replaces); err != nil {
			return nil, err
		}
	}
	if b.autoRenew != nil && meta.AutoRenewal == nil {
		return nil, &acme.NotSupportedError{Feature: "auto-renewal"}
	}

	payload := map[string]interface{}{"identifiers": b.identifiers}
	if !b.notBefore.IsZero() {
		payload["notBefore"] = b.notBefore.Format(time.RFC3339)
	}
	if !b.notAfter.IsZero() {
		payload["notAfter"] = b.notAfter.Format(time.RFC3339)
	}
	if b.profile != "" {
		payload["profile"] = b.profile
	}
	if b.replaces != "" {
		payload["replaces"] = b.replaces
	}
	if b.autoRenew != nil {
		payload["auto-renewal"] = b.autoRenew
	}

	newOrderURL, err := session.NewOrderURL()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := session.Connection().SignedPost(ctx, newOrderURL, b.login, body)
	if err != nil {
		return nil, err
	}
	if resp.Location == "" {
		return nil, &acme.ProtocolError{Op: "POST", URL: newOrderURL, Message: "newOrder response carried no Location"}
	}

	order := BindOrder(resp.Location, b.login)
	if err := order.setJSON(resp.Body, order.decode); err != nil {
		return nil, err
	}
	return order, nil
}
