package resource

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/login"
)

// renewalInfoWire is the draft-ietf-acme-ari RenewalInfo wire shape.
type renewalInfoWire struct {
	SuggestedWindow struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"suggestedWindow"`
	ExplanationURL string `json:"explanationURL,omitempty"`
}

// RenewalInfo is the CA's hint about when a certificate should be renewed.
type RenewalInfo struct {
	base
	wire  renewalInfoWire
	start time.Time
	end   time.Time
}

func bindRenewalInfo(location string, lg *login.Login) *RenewalInfo {
	return &RenewalInfo{base: newBase(location, lg)}
}

func (r *RenewalInfo) decode(raw json.RawMessage) error {
	var w renewalInfoWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, w.SuggestedWindow.Start)
	if err != nil {
		return err
	}
	end, err := time.Parse(time.RFC3339, w.SuggestedWindow.End)
	if err != nil {
		return err
	}
	if !end.After(start) {
		return acme.NewInvalidArgument("renewalInfo: window end %s is not after start %s", end, start)
	}
	r.wire = w
	r.start = start
	r.end = end
	return nil
}

// Update fetches the RenewalInfo resource (draft-ietf-acme-ari).
func (r *RenewalInfo) Update(ctx context.Context) error {
	return r.update(ctx, r.decode)
}

func (r *RenewalInfo) window(ctx context.Context) (time.Time, time.Time, error) {
	if err := r.ensureLoaded(ctx, r.decode); err != nil {
		return time.Time{}, time.Time{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.start, r.end, nil
}

// ExplanationURL returns the CA-provided URL explaining the renewal
// suggestion, if any.
func (r *RenewalInfo) ExplanationURL(ctx context.Context) (string, error) {
	if err := r.ensureLoaded(ctx, r.decode); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wire.ExplanationURL, nil
}

// IsNotRequired reports whether now falls before the suggested renewal
// window, i.e. renewal is not yet warranted.
func (r *RenewalInfo) IsNotRequired(ctx context.Context, now time.Time) (bool, error) {
	start, _, err := r.window(ctx)
	if err != nil {
		return false, err
	}
	return now.Before(start), nil
}

// IsRecommended reports whether now falls inside the suggested renewal
// window [start, end).
func (r *RenewalInfo) IsRecommended(ctx context.Context, now time.Time) (bool, error) {
	start, end, err := r.window(ctx)
	if err != nil {
		return false, err
	}
	return !now.Before(start) && now.Before(end), nil
}

// IsOverdue reports whether now falls at or after the suggested renewal
// window's end.
func (r *RenewalInfo) IsOverdue(ctx context.Context, now time.Time) (bool, error) {
	_, end, err := r.window(ctx)
	if err != nil {
		return false, err
	}
	return !now.Before(end), nil
}

// GetRandomProposal returns a uniformly random instant in
// [start, end - leadTime), drawn from the Session's Rng so test callers
// can make it deterministic. It returns ok=false if that interval is empty
// (leadTime consumes the whole window) or end has already passed on the
// Session's Clock.
func (r *RenewalInfo) GetRandomProposal(ctx context.Context, leadTime time.Duration) (time.Time, bool, error) {
	start, end, err := r.window(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	sess := r.login.Session()
	if sess.Clock().Now().After(end) {
		return time.Time{}, false, nil
	}
	latest := end.Add(-leadTime)
	span := latest.Sub(start)
	if span <= 0 {
		return time.Time{}, false, nil
	}
	offset := time.Duration(sess.Rng().Int63n(int64(span)))
	return start.Add(offset), true, nil
}
