package acme

import (
	"fmt"
	"time"
)

// ErrorKind distinguishes the broad categories of failure the core can
// surface to a caller. It is exposed on every error type below via the
// Kind() method so callers that want a single switch can do one without
// type-asserting each concrete error.
type ErrorKind string

const (
	KindTransport       ErrorKind = "transport"
	KindProtocol        ErrorKind = "protocol"
	KindServerProblem   ErrorKind = "server_problem"
	KindNotSupported    ErrorKind = "not_supported"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindTimeoutExceeded ErrorKind = "timeout_exceeded"
)

// TransportError wraps a failure in the underlying HttpTransport: a
// connection failure, timeout, or TLS failure that never produced an HTTP
// response.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("acme: transport error during %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Kind() ErrorKind { return KindTransport }

// ProtocolError reports a malformed response, a missing required header, an
// invalid nonce, or an unexpected HTTP status that isn't accompanied by an
// RFC 7807 problem document.
type ProtocolError struct {
	Op      string
	URL     string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("acme: protocol error during %s %s: %s", e.Op, e.URL, e.Message)
}
func (e *ProtocolError) Kind() ErrorKind { return KindProtocol }

// ServerError wraps a Problem returned by the ACME server and exposes the
// typed subkinds a caller can branch on. Use errors.As to recover it from an
// operation's returned error.
type ServerError struct {
	Problem    Problem
	StatusCode int

	// TermsOfServiceURL is populated for userActionRequired problems, taken
	// from the response's Link: rel="termsOfService" header.
	TermsOfServiceURL string
	// RetryAfter is populated for rateLimited problems.
	RetryAfter time.Time
	// HelpURLs is populated for rateLimited problems, from Link: rel="help".
	HelpURLs []string
}

func (e *ServerError) Error() string {
	if e.Problem.Type == "" {
		return fmt.Sprintf("acme: server error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("acme: server problem %s: %s", e.Problem.Type, e.Problem.Message())
}

func (e *ServerError) Kind() ErrorKind { return KindServerProblem }

// Subkind returns the URN tail of the wrapped Problem's Type, e.g.
// "badNonce", "rateLimited", "userActionRequired".
func (e *ServerError) Subkind() string { return e.Problem.Kind() }

// IsBadNonce reports whether this ServerError represents the server
// rejecting the replay nonce that was used to sign the request.
func (e *ServerError) IsBadNonce() bool { return e.Subkind() == "badNonce" }

// IsRateLimited reports whether this ServerError represents a rate-limit
// rejection.
func (e *ServerError) IsRateLimited() bool { return e.Subkind() == "rateLimited" }

// IsUserActionRequired reports whether the CA is asking the caller to take
// an out-of-band action (typically: agree to updated terms of service).
func (e *ServerError) IsUserActionRequired() bool { return e.Subkind() == "userActionRequired" }

// NotSupportedError is returned when a feature was requested but the CA's
// directory metadata doesn't advertise support for it.
type NotSupportedError struct {
	Feature string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("acme: not supported by this CA: %s", e.Feature)
}
func (e *NotSupportedError) Kind() ErrorKind { return KindNotSupported }

// InvalidArgumentError is returned for client-side precondition failures
// caught before any network round-trip is attempted.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("acme: invalid argument: %s", e.Message)
}
func (e *InvalidArgumentError) Kind() ErrorKind { return KindInvalidArgument }

// NewInvalidArgument is a convenience constructor for InvalidArgumentError.
func NewInvalidArgument(format string, args ...interface{}) error {
	return &InvalidArgumentError{Message: fmt.Sprintf(format, args...)}
}

// TimeoutExceededError is returned by waitUntilStatus when its deadline
// elapses before the target resource reaches one of the requested statuses.
type TimeoutExceededError struct {
	ResourceURL string
	LastStatus  Status
}

func (e *TimeoutExceededError) Error() string {
	return fmt.Sprintf("acme: timed out waiting for %s to leave status %q", e.ResourceURL, e.LastStatus)
}
func (e *TimeoutExceededError) Kind() ErrorKind { return KindTimeoutExceeded }

// NotFoundError is returned by Resource.Update when the server responds 404
// to a POST-as-GET, meaning the resource no longer exists server-side.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("acme: resource not found: %s", e.URL)
}
func (e *NotFoundError) Kind() ErrorKind { return KindProtocol }

// UnsupportedKeyError is returned by the JOSE envelope when asked to sign
// with a key type/curve combination that has no JWS algorithm mapping.
type UnsupportedKeyError struct {
	KeyType string
}

func (e *UnsupportedKeyError) Error() string {
	return fmt.Sprintf("acme: unsupported signing key: %s", e.KeyType)
}
func (e *UnsupportedKeyError) Kind() ErrorKind { return KindProtocol }
