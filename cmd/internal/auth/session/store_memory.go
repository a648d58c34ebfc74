package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-process development.
type MemoryStore[R Record] struct {
	mu   sync.Mutex
	rows map[string]R
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore[R Record]() *MemoryStore[R] {
	return &MemoryStore[R]{rows: make(map[string]R)}
}

func (s *MemoryStore[R]) Get(ctx context.Context, id string) (R, error) {
	var zero R
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return zero, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore[R]) Insert(ctx context.Context, rec R) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[rec.RecordID()]; ok {
		return ErrDuplicateID
	}
	s.rows[rec.RecordID()] = rec
	return nil
}

func (s *MemoryStore[R]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *MemoryStore[R]) DeleteAllForUser(ctx context.Context, userID string) error {
	return s.deleteWhere(ctx, func(r R) bool { return userID != "" && r.RecordUserID() == userID })
}

func (s *MemoryStore[R]) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if !r.RecordExpiresAt().After(now) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (s *MemoryStore[R]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *MemoryStore[R]) deleteWhere(ctx context.Context, match func(R) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if match(r) {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *MemoryStore[R]) update(ctx context.Context, id string, fn func(*R)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	fn(&rec)
	s.rows[id] = rec
	return nil
}

// MemorySessionStore is a SessionStore kept in memory.
type MemorySessionStore struct {
	*MemoryStore[Session]
}

var _ SessionStore = MemorySessionStore{}

// NewMemorySessionStore returns an empty MemorySessionStore.
func NewMemorySessionStore() MemorySessionStore {
	return MemorySessionStore{NewMemoryStore[Session]()}
}

func (s MemorySessionStore) UpdateExpiry(ctx context.Context, id string, up ExpiryUpdate) error {
	return s.update(ctx, id, func(r *Session) { r.ExpiresAt = later(r.ExpiresAt, up.ExpiresAt) })
}

// MemoryEphemeralStore is an EphemeralStore kept in memory.
type MemoryEphemeralStore struct {
	*MemoryStore[Ephemeral]
}

var _ EphemeralStore = MemoryEphemeralStore{}

// NewMemoryEphemeralStore returns an empty MemoryEphemeralStore.
func NewMemoryEphemeralStore() MemoryEphemeralStore {
	return MemoryEphemeralStore{NewMemoryStore[Ephemeral]()}
}

func (s MemoryEphemeralStore) MarkVerified(ctx context.Context, id string, up VerifiedUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok || rec.EmailVerified {
		return ErrNotFound
	}
	rec.EmailVerified = true
	rec.ExpiresAt = later(rec.ExpiresAt, up.ExpiresAt)
	s.rows[id] = rec
	return nil
}

func (s MemoryEphemeralStore) DeleteAllForEmail(ctx context.Context, email string) error {
	return s.deleteWhere(ctx, func(r Ephemeral) bool { return r.Email == email })
}

// MemoryAssociationStore is an AssociationStore kept in memory.
type MemoryAssociationStore struct {
	*MemoryStore[AccountAssociation]
}

var _ AssociationStore = MemoryAssociationStore{}

// NewMemoryAssociationStore returns an empty MemoryAssociationStore.
func NewMemoryAssociationStore() MemoryAssociationStore {
	return MemoryAssociationStore{NewMemoryStore[AccountAssociation]()}
}
