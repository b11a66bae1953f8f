package acme

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

// Identifier types recognized by the ACME protocol (RFC 8555 §9.7.7, and the
// IP identifier extension, RFC 8738).
const (
	IdentifierTypeDNS IdentifierType = "dns"
	IdentifierTypeIP  IdentifierType = "ip"
)

// IdentifierType is the "type" discriminator of an Identifier.
type IdentifierType string

// Identifier is a subject identifier that can be authorized and included in
// a certificate. Two Identifiers compare equal (via Equal) iff their
// canonical forms match, regardless of the casing or Unicode normalization
// form used to construct them (invariant 5).
//
// AncestorDomain and SubdomainAuthAllowed only apply to DNS identifiers used
// with the subdomain-authorization extension (RFC 9444).
type Identifier struct {
	Type                 IdentifierType `json:"type"`
	Value                string         `json:"value"`
	AncestorDomain       string         `json:"ancestorDomain,omitempty"`
	SubdomainAuthAllowed bool           `json:"-"`
}

// DNSIdentifier builds a "dns" Identifier from a domain name, normalizing it
// to its ASCII-compatible (A-label) form so that identifiers entered as
// Unicode (IDN) and identifiers entered as punycode compare equal. A leading
// "*." wildcard label is preserved verbatim (idna does not accept it as part
// of a lookup name) and reapplied after normalizing the remainder.
func DNSIdentifier(name string) (Identifier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Identifier{}, fmt.Errorf("acme: dns identifier must not be empty")
	}

	wildcard := false
	lookup := name
	if strings.HasPrefix(name, "*.") {
		wildcard = true
		lookup = name[2:]
	}

	aLabel, err := idna.Lookup.ToASCII(lookup)
	if err != nil {
		return Identifier{}, fmt.Errorf("acme: invalid dns identifier %q: %w", name, err)
	}

	if wildcard {
		aLabel = "*." + aLabel
	}

	return Identifier{Type: IdentifierTypeDNS, Value: aLabel}, nil
}

// IPIdentifier builds an "ip" Identifier from an IPv4 or IPv6 address
// literal, canonicalizing it via netip so that equivalent textual forms
// (e.g. leading zeros, mixed case hex, zone-less IPv6 shorthand) compare
// equal.
func IPIdentifier(addr string) (Identifier, error) {
	parsed, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return Identifier{}, fmt.Errorf("acme: invalid ip identifier %q: %w", addr, err)
	}
	return Identifier{Type: IdentifierTypeIP, Value: parsed.String()}, nil
}

// Equal reports whether two Identifiers have the same type and canonical
// value. Identifiers built through DNSIdentifier/IPIdentifier are already
// canonical, so Equal is a simple case-sensitive comparison of Type and
// Value.
func (id Identifier) Equal(other Identifier) bool {
	return id.Type == other.Type && id.Value == other.Value
}

// String implements fmt.Stringer.
func (id Identifier) String() string {
	return fmt.Sprintf("%s:%s", id.Type, id.Value)
}

// identifierWire is the wire shape of an Identifier as sent to/received from
// the ACME server. AncestorDomain is DNS-only and SubdomainAuthAllowed lives
// on the Authorization, not the Identifier, on the wire (RFC 9444) but is tracked
// alongside the Identifier in memory for caller convenience.
type identifierWire struct {
	Type           IdentifierType `json:"type"`
	Value          string         `json:"value"`
	AncestorDomain string         `json:"ancestorDomain,omitempty"`
}

// MarshalJSON emits the RFC 8555 wire form: only "type" and "value", plus
// "ancestorDomain" when the subdomain-authorization extension is in use.
func (id Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(identifierWire{
		Type:           id.Type,
		Value:          id.Value,
		AncestorDomain: id.AncestorDomain,
	})
}

// UnmarshalJSON parses the RFC 8555 wire form.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	var wire identifierWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id.Type = wire.Type
	id.Value = wire.Value
	id.AncestorDomain = wire.AncestorDomain
	return nil
}
