package session

import "time"

// Policy is the expiry policy of one session kind.
type Policy struct {
	TTL time.Duration
	// RefreshWindow enables sliding refresh when > 0 (login sessions only).
	RefreshWindow time.Duration
	// VerifiedExtension is added once on code verification (ephemeral kinds only).
	VerifiedExtension time.Duration
}

// ExpiresAt returns the expiry of a record created at now.
func (p Policy) ExpiresAt(now time.Time) time.Time { return now.Add(p.TTL) }

// IsExpired reports now >= expiresAt.
func (p Policy) IsExpired(expiresAt, now time.Time) bool { return !now.Before(expiresAt) }

// ShouldRefresh reports now >= expiresAt - RefreshWindow. The boundary itself refreshes.
func (p Policy) ShouldRefresh(expiresAt, now time.Time) bool {
	if p.RefreshWindow <= 0 {
		return false
	}
	return !now.Before(expiresAt.Add(-p.RefreshWindow))
}

// Refreshed returns the new expiry after a refresh at now. It never moves backwards.
func (p Policy) Refreshed(expiresAt, now time.Time) time.Time {
	return later(expiresAt, now.Add(p.TTL))
}

// Verified returns the expiry after a successful code verification at now.
func (p Policy) Verified(expiresAt, now time.Time) time.Time {
	return later(expiresAt, now).Add(p.VerifiedExtension)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
