// Package token provides the opaque token primitives shared by every session kind.
//
// A token handed to a client is `<id>.<secret>` where both halves are base64url
// (no padding). The id is a lookup key and is safe to log. The secret is never
// persisted: only its digest (SHA-256, or HMAC-SHA256 when a key is configured)
// is stored and compared in constant time.
//
// The same two-part shape is reused for HMAC-signed state values
// (`<payload>.<mac>`) carried through OAuth redirects.
//
// Environment:
//   - MONACA_TOKEN_HMAC_KEY: when set, secrets are hashed with HMAC-SHA256.
package token
