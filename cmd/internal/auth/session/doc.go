// Package session implements the token-backed session lifecycle for monaca.
//
// Every session kind (login Session, signup, email verification, password
// reset, account association) is addressed by a random id and authenticated by
// a random secret. Clients hold the token "id.secret"; stores keep only the
// secret's digest.
//
// Validation is strictly sequential: parse, lookup by id, verify the secret,
// check expiry, then refresh. Not-found and wrong-secret return the same
// invalid code.
package session
