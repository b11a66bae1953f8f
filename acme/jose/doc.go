// Package jose builds the JWS Flattened JSON envelopes an ACME client sends
// to a CA (RFC 8555 §6.2), on top of go-jose/v4. It covers the two
// request-signing shapes (embedded "jwk" for pre-account requests, "kid" for
// account-bound ones) plus the inner-JWS construction used by key-change and
// external-account-binding requests. It signs only; it has no routine that
// verifies a JWS.
package jose
