// Package nonce implements the replay-nonce pool (RFC 8555 §6.5): a
// single-slot cell that every signed request consumes from and every
// response (success or error) refills.
package nonce

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/shred/acme4j-go/acme"
)

// Refiller fetches a fresh nonce out of band, used when the pool is empty
// and a caller needs one immediately (a HEAD to the directory's "newNonce"
// URL, in the default Session wiring).
type Refiller interface {
	RefillNonce() (string, error)
}

// Pool is a one-shot replay-nonce cell guarded by a mutex (invariant 4: a
// nonce is consumed by at most one request). It satisfies go-jose's
// NonceSource interface (Nonce() (string, error)) so it can be passed
// directly as a jose.SignerOptions.NonceSource.
type Pool struct {
	mu       sync.Mutex
	nonce    string
	refiller Refiller
}

// NewPool constructs an empty Pool that refills via refiller when drained.
// refiller may be nil and set later via SetRefiller, for callers that need
// to construct the Pool before the object that will serve as its Refiller
// exists.
func NewPool(refiller Refiller) *Pool {
	return &Pool{refiller: refiller}
}

// SetRefiller installs (or replaces) the Pool's Refiller.
func (p *Pool) SetRefiller(refiller Refiller) {
	p.mu.Lock()
	p.refiller = refiller
	p.mu.Unlock()
}

// Nonce returns a nonce for immediate use, consuming it from the pool (or
// fetching one via the Refiller if the pool is empty). It implements
// go-jose's NonceSource interface.
func (p *Pool) Nonce() (string, error) {
	p.mu.Lock()
	if p.nonce != "" {
		n := p.nonce
		p.nonce = ""
		p.mu.Unlock()
		return n, nil
	}
	refiller := p.refiller
	p.mu.Unlock()

	if refiller == nil {
		return "", &acme.ProtocolError{Op: "nonce", Message: "pool empty and no refiller configured"}
	}
	n, err := refiller.RefillNonce()
	if err != nil {
		return "", err
	}
	if err := validate(n); err != nil {
		return "", err
	}
	return n, nil
}

// Put stores nonce for the next consumer, overwriting whatever slot
// contents it finds (last-write-wins, matching every response refilling the
// same shared pool). An invalid nonce is dropped rather than stored, and
// reported via the returned error so the caller (Connection) can surface a
// protocolError without losing whatever nonce was already cached.
func (p *Pool) Put(raw string) error {
	if raw == "" {
		return nil
	}
	if err := validate(raw); err != nil {
		return err
	}
	p.mu.Lock()
	p.nonce = raw
	p.mu.Unlock()
	return nil
}

// validate checks that n looks like a base64url (no padding) token, the
// shape RFC 8555 §6.5.1 requires for a Replay-Nonce header value.
func validate(n string) error {
	if n == "" {
		return &acme.ProtocolError{Op: "nonce", Message: "empty nonce"}
	}
	if _, err := base64.RawURLEncoding.DecodeString(n); err != nil {
		return &acme.ProtocolError{Op: "nonce", Message: fmt.Sprintf("malformed nonce %q: %s", n, err)}
	}
	return nil
}
