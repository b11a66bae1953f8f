// Package login implements the Login: the binding of a
// Session, an account URL, and the account's key pair. It signs
// account-bound requests with kid and is the factory for resource handles.
package login

import (
	"sync"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/session"
)

// Login binds a Session to one ACME account. It is the only place the
// account's key pair is held (invariant 3: a Resource never serializes a
// key pair).
type Login struct {
	session    *session.Session
	accountURL string

	mu      sync.RWMutex
	keyPair acme.Signer
}

// New binds a Login to an already-known account URL and key pair, with no
// network round trip. Use an AccountBuilder instead to create a new
// account via a registration round trip.
func New(sess *session.Session, accountURL string, keyPair acme.Signer) *Login {
	return &Login{session: sess, accountURL: accountURL, keyPair: keyPair}
}

// Session returns the owning Session.
func (l *Login) Session() *session.Session { return l.session }

// KeyID implements connection.Signer: the account URL is the JWS "kid".
func (l *Login) KeyID() string { return l.accountURL }

// Key implements connection.Signer: the account's current private key.
func (l *Login) Key() acme.Signer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.keyPair
}

// AccountURL returns the location URL of the bound account.
func (l *Login) AccountURL() string { return l.accountURL }

// SetKeyPair atomically swaps the Login's key pair. Called by
// Account.ChangeKey once the keyChange request has succeeded; not meant to
// be called directly by applications.
func (l *Login) SetKeyPair(newKey acme.Signer) {
	l.mu.Lock()
	l.keyPair = newKey
	l.mu.Unlock()
}
