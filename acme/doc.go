// Package acme provides the core types of an ACME (RFC 8555) client: the
// Status enum, the Identifier and Problem value types, the directory
// Metadata structure, the typed error taxonomy, and the small pluggable
// interfaces (Clock, Rng, HttpTransport, Signer, PkiCodec) that the rest of
// the client is built around.
//
// The protocol engine itself lives in the sibling packages: jose (JWS
// envelope), nonce (replay-nonce pool), directory (directory cache),
// connection (wire-level requests), session (per-CA configuration),
// login (account-bound request signing), resource (Account, Order,
// Authorization, Challenge, Certificate, RenewalInfo, OrderBuilder) and
// builder (AccountBuilder).
package acme
