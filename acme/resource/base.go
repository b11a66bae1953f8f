// Package resource implements the lazily-loaded resource graph:
// Account, Order, Authorization, Challenge (and its http-01/dns-01/
// tls-alpn-01/dns-account-01/email-reply-00 variants), Certificate and
// RenewalInfo, all sharing the same invalid/valid lazy-load lifecycle and
// the waitUntilStatus polling state machine.
package resource

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/connection"
	"github.com/shred/acme4j-go/acme/login"
)

// base implements the abstract lazy-load lifecycle every concrete resource
// embeds (invariant 2: a Resource is either invalid, with no cached JSON,
// or valid, with JSON). The mutex additionally guards whatever wire fields
// the embedding type decodes its JSON into, so getters and update() never
// race.
type base struct {
	location string
	login    *login.Login

	mu          sync.RWMutex
	loaded      bool
	lastRetryAt time.Time
}

func newBase(location string, lg *login.Login) base {
	return base{location: location, login: lg}
}

// Location returns the resource's absolute location URL (invariant 1: every
// Resource has a non-null location).
func (b *base) Location() string { return b.location }

// isValid reports whether JSON is currently cached.
func (b *base) isValid() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loaded
}

// invalidate drops the cached JSON, marking the resource invalid. The next
// read triggers a reload. Idempotent.
func (b *base) invalidate() {
	b.mu.Lock()
	b.loaded = false
	b.mu.Unlock()
}

func (b *base) conn() *connection.Connection { return b.login.Session().Connection() }

// setJSON decodes raw via decode (called with the write lock held) and
// marks the resource valid. It never makes a network call and is
// idempotent: calling it again with the same bytes leaves the same state.
func (b *base) setJSON(raw json.RawMessage, decode func(json.RawMessage) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := decode(raw); err != nil {
		return err
	}
	b.loaded = true
	return nil
}

// update performs a POST-as-GET against location and decodes the response
// via decode; a 404 response becomes acme.NotFoundError.
func (b *base) update(ctx context.Context, decode func(json.RawMessage) error) error {
	resp, err := b.conn().PostAsGet(ctx, b.location, b.login)
	if err != nil {
		if se, ok := err.(*acme.ServerError); (ok && se.StatusCode == 404) || (resp != nil && resp.StatusCode == 404) {
			return &acme.NotFoundError{URL: b.location}
		}
		return err
	}
	b.mu.Lock()
	if !resp.RetryAfter.IsZero() {
		b.lastRetryAt = resp.RetryAfter
	}
	b.mu.Unlock()
	return b.setJSON(resp.Body, decode)
}

// ensureLoaded triggers update() iff the resource is currently invalid; the
// hook every field getter calls before reading its decoded wire state.
func (b *base) ensureLoaded(ctx context.Context, decode func(json.RawMessage) error) error {
	if b.isValid() {
		return nil
	}
	return b.update(ctx, decode)
}

func (b *base) retryAfter() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastRetryAt
}

func (b *base) clock() acme.Clock { return b.login.Session().Clock() }

// pollable is implemented by every concrete resource that has a status
// field and supports waitUntilStatus.
type pollable interface {
	currentStatus(ctx context.Context) (acme.Status, error)
	cachedStatus() (acme.Status, bool)
	pollUpdate(ctx context.Context) error
	retryAfter() time.Time
	clock() acme.Clock
	Location() string
}

// waitUntilStatus polls r until its status is a member of targets, a
// terminal failure status is reached, or timeout elapses. It backs off
// exponentially starting at 3s capped at 30s, honoring a server
// Retry-After hint in place of the computed delay when present, and never
// sleeps past the deadline. timeout=0 returns immediately without a
// network call.
func waitUntilStatus(ctx context.Context, r pollable, targets []acme.Status, timeout time.Duration) error {
	if timeout <= 0 {
		// No time to poll in means no network call either: decide from the
		// cached snapshot alone.
		status, ok := r.cachedStatus()
		if ok && (containsStatus(targets, status) || status.IsTerminalFailure()) {
			return nil
		}
		return &acme.TimeoutExceededError{ResourceURL: r.Location(), LastStatus: status}
	}

	clock := r.clock()
	deadline := clock.Now().Add(timeout)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 3 * time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // the deadline below governs overall duration
	bo.Reset()

	for {
		status, err := r.currentStatus(ctx)
		if err != nil {
			return err
		}
		if containsStatus(targets, status) || status.IsTerminalFailure() {
			return nil
		}

		delay := bo.NextBackOff()
		if ra := r.retryAfter(); !ra.IsZero() {
			if untilRA := ra.Sub(clock.Now()); untilRA > 0 {
				delay = untilRA
			}
		}
		if remaining := deadline.Sub(clock.Now()); delay > remaining {
			delay = remaining
		}
		if delay <= 0 {
			return &acme.TimeoutExceededError{ResourceURL: r.Location(), LastStatus: status}
		}

		select {
		case <-ctx.Done():
			return &acme.TimeoutExceededError{ResourceURL: r.Location(), LastStatus: status}
		case <-clock.After(delay):
		}

		if err := r.pollUpdate(ctx); err != nil {
			return err
		}
	}
}

func containsStatus(set []acme.Status, s acme.Status) bool {
	for _, t := range set {
		if t == s {
			return true
		}
	}
	return false
}
