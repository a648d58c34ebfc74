// Package identity owns users and their linked external (OAuth) identities.
//
// An ExternalIdentity is unique on (provider, provider_user_id) and on
// (user_id, provider). Stores reject a second link with a ConflictError
// instead of overwriting the first.
package identity
