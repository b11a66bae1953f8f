package acme

import "encoding/json"

// Metadata is the "meta" object of an ACME directory resource (RFC 8555
// §7.1.1), describing optional CA policy and capability flags. Fields the CA
// omits are left at their zero value; callers should treat a zero
// TermsOfService/Website as "none advertised", not an error.
type Metadata struct {
	TermsOfService          string   `json:"termsOfService,omitempty"`
	Website                 string   `json:"website,omitempty"`
	CAAIdentities           []string `json:"caaIdentities,omitempty"`
	ExternalAccountRequired bool     `json:"externalAccountRequired,omitempty"`

	// AutoRenewal is non-nil when the CA advertises the STAR/auto-renewal
	// extension (draft-ietf-acme-star).
	AutoRenewal *AutoRenewalMetadata `json:"autoRenewal,omitempty"`
	// Profiles maps a profile name advertised by the CA to a human-readable
	// description of what it means.
	Profiles map[string]string `json:"profiles,omitempty"`
	// SubdomainAuthAllowed reports whether the CA supports the
	// subdomain-authorization extension.
	SubdomainAuthAllowed bool `json:"subdomainAuthAllowed,omitempty"`

	// RawJSON preserves the raw "meta" object so callers can read
	// CA-specific extension members this type doesn't model.
	RawJSON json.RawMessage `json:"-"`
}

// AutoRenewalMetadata describes the CA's limits on STAR auto-renewal
// orders: the minimum lifetime of each short-term certificate, the maximum
// duration the renewal arrangement may span, and whether unauthenticated
// certificate GET is offered.
type AutoRenewalMetadata struct {
	MinLifetime  int  `json:"min-lifetime,omitempty"`
	MaxDuration  int  `json:"max-duration,omitempty"`
	AllowCertGet bool `json:"allow-certificate-get,omitempty"`
}

// metadataAlias avoids infinite recursion in UnmarshalJSON while still
// reusing the field tags declared on Metadata.
type metadataAlias Metadata

// UnmarshalJSON decodes a "meta" object while retaining the original bytes
// in RawJSON.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var alias metadataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = Metadata(alias)
	m.RawJSON = append(json.RawMessage(nil), data...)
	return nil
}

// JSON returns a navigable view of the raw "meta" object, for reading
// CA-specific extension members this type doesn't model. A Metadata that
// was never populated from the wire yields an empty view.
func (m Metadata) JSON() (JSON, error) {
	if len(m.RawJSON) == 0 {
		return JSON{}, nil
	}
	return ParseJSON(m.RawJSON)
}
