package acme

import (
	"encoding/json"
	"net/url"
)

// Problem is an RFC 7807 problem document as returned by an ACME server.
// Relative URI fields (Type, Instance) are resolved against BaseURL at parse
// time so callers never have to think about relative-URL resolution
// themselves.
type Problem struct {
	Type        string      `json:"type,omitempty"`
	Title       string      `json:"title,omitempty"`
	Status      int         `json:"status,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	Instance    string      `json:"instance,omitempty"`
	Identifier  *Identifier `json:"identifier,omitempty"`
	Subproblems []Problem   `json:"subproblems,omitempty"`

	// RawJSON is the unparsed problem document, kept for callers that need
	// access to CA-specific extension members not modeled above.
	RawJSON json.RawMessage `json:"-"`
	// BaseURL is the request URL the problem document was returned in
	// response to; Type and Instance are resolved against it.
	BaseURL string `json:"-"`
}

// ParseProblem decodes a raw RFC 7807 JSON body into a Problem, resolving
// its relative URI fields against baseURL.
func ParseProblem(body []byte, baseURL string) (Problem, error) {
	var p Problem
	if err := json.Unmarshal(body, &p); err != nil {
		return Problem{}, err
	}
	p.RawJSON = append(json.RawMessage(nil), body...)
	p.BaseURL = baseURL
	p.Type = resolveAgainst(baseURL, p.Type)
	p.Instance = resolveAgainst(baseURL, p.Instance)
	for i := range p.Subproblems {
		p.Subproblems[i].BaseURL = baseURL
		p.Subproblems[i].Type = resolveAgainst(baseURL, p.Subproblems[i].Type)
		p.Subproblems[i].Instance = resolveAgainst(baseURL, p.Subproblems[i].Instance)
	}
	return p, nil
}

func resolveAgainst(base, ref string) string {
	if ref == "" || base == "" {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// Message returns the best available human-readable message for the
// problem: its Detail field, falling back to Title, falling back to the
// URN tail of Type.
func (p Problem) Message() string {
	if p.Detail != "" {
		return p.Detail
	}
	if p.Title != "" {
		return p.Title
	}
	return urnTail(p.Type)
}

func urnTail(urn string) string {
	for i := len(urn) - 1; i >= 0; i-- {
		if urn[i] == ':' {
			return urn[i+1:]
		}
	}
	return urn
}

// errorURNPrefix is the standard namespace ACME servers use for the "type"
// member of error problem documents (RFC 8555 §6.7).
const errorURNPrefix = "urn:ietf:params:acme:error:"

// Kind returns the URN tail of the problem's Type when it's one of the
// standard ACME error types, or "" otherwise.
func (p Problem) Kind() string {
	if len(p.Type) > len(errorURNPrefix) && p.Type[:len(errorURNPrefix)] == errorURNPrefix {
		return p.Type[len(errorURNPrefix):]
	}
	return ""
}

// JSON returns a navigable view of the raw problem document, for reading
// CA-specific extension members this type doesn't model.
func (p Problem) JSON() (JSON, error) {
	if len(p.RawJSON) == 0 {
		return JSON{}, nil
	}
	return ParseJSON(p.RawJSON)
}
