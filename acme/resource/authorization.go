package resource

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/login"
)

// authorizationWire is the RFC 8555 §7.1.4 wire shape of an Authorization
// resource, plus the subdomain-authorization extension (RFC 9444).
type authorizationWire struct {
	Identifier           acme.Identifier   `json:"identifier"`
	Status               acme.Status       `json:"status"`
	Expires              string            `json:"expires,omitempty"`
	Challenges           []json.RawMessage `json:"challenges,omitempty"`
	Wildcard             bool              `json:"wildcard,omitempty"`
	SubdomainAuthAllowed bool              `json:"subdomainAuthAllowed,omitempty"`
}

// Authorization proves control of one Identifier via one of its Challenges.
type Authorization struct {
	base
	wire       authorizationWire
	challenges []Challenge
}

func bindAuthorization(location string, lg *login.Login) *Authorization {
	return &Authorization{base: newBase(location, lg)}
}

func (z *Authorization) decode(raw json.RawMessage) error {
	var w authorizationWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	challenges := make([]Challenge, 0, len(w.Challenges))
	for _, raw := range w.Challenges {
		challenges = append(challenges, newChallenge(raw, z.login))
	}
	w.Identifier.SubdomainAuthAllowed = w.SubdomainAuthAllowed
	z.wire = w
	z.challenges = challenges
	return nil
}

// Update refreshes the Authorization's cached state from the server.
func (z *Authorization) Update(ctx context.Context) error {
	return z.update(ctx, z.decode)
}

func (z *Authorization) field(ctx context.Context) (authorizationWire, []Challenge, error) {
	if err := z.ensureLoaded(ctx, z.decode); err != nil {
		return authorizationWire{}, nil, err
	}
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.wire, z.challenges, nil
}

// Identifier returns the identifier this authorization covers.
func (z *Authorization) Identifier(ctx context.Context) (acme.Identifier, error) {
	w, _, err := z.field(ctx)
	return w.Identifier, err
}

// Status returns the authorization's current status.
func (z *Authorization) Status(ctx context.Context) (acme.Status, error) {
	w, _, err := z.field(ctx)
	return w.Status, err
}

// Wildcard reports whether this authorization covers a wildcard identifier.
func (z *Authorization) Wildcard(ctx context.Context) (bool, error) {
	w, _, err := z.field(ctx)
	return w.Wildcard, err
}

// Challenges returns every challenge offered for this authorization.
func (z *Authorization) Challenges(ctx context.Context) ([]Challenge, error) {
	_, challenges, err := z.field(ctx)
	return challenges, err
}

// FindChallenge returns the challenge of the given type, if offered.
func (z *Authorization) FindChallenge(ctx context.Context, challengeType string) (Challenge, bool, error) {
	_, challenges, err := z.field(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, c := range challenges {
		if c.Type() == challengeType {
			return c, true, nil
		}
	}
	return nil, false, nil
}

// Deactivate requests deactivation of the authorization (RFC 8555 §7.5.2).
func (z *Authorization) Deactivate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"status": string(acme.StatusDeactivated)})
	if err != nil {
		return err
	}
	resp, err := z.conn().SignedPost(ctx, z.location, z.login, body)
	if err != nil {
		return err
	}
	return z.setJSON(resp.Body, z.decode)
}

func (z *Authorization) currentStatus(ctx context.Context) (acme.Status, error) { return z.Status(ctx) }
func (z *Authorization) pollUpdate(ctx context.Context) error                   { return z.Update(ctx) }

func (z *Authorization) cachedStatus() (acme.Status, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if !z.loaded {
		return acme.StatusUnknown, false
	}
	return z.wire.Status, true
}

// WaitUntilValidOrInvalid polls the authorization until it reaches "valid"
// or a terminal failure status, honoring the server's Retry-After hints.
func (z *Authorization) WaitUntilValidOrInvalid(ctx context.Context, timeout time.Duration) error {
	return waitUntilStatus(ctx, z, []acme.Status{acme.StatusValid, acme.StatusInvalid}, timeout)
}
