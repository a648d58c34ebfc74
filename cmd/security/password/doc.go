// Package password hashes and verifies user passwords.
//
// Hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// A server-wide pepper is appended to the password before derivation and is
// never stored alongside the hash. Stored hashes are treated as untrusted input
// during Verify: malformed or out-of-bounds parameters verify false.
package password
