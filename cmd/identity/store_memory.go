package identity

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity/ids"
)

type identityKey struct {
	provider       Provider
	providerUserID string
}

type userProviderKey struct {
	userID   string
	provider Provider
}

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]User
	byEmail      map[string]string
	identities   map[identityKey]ExternalIdentity
	userProvider map[userProviderKey]identityKey
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]User),
		byEmail:      make(map[string]string),
		identities:   make(map[identityKey]ExternalIdentity),
		userProvider: make(map[userProviderKey]identityKey),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, err := ValidateCreate(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[in.Email]; ok {
		return User{}, ConflictError{Op: op, Field: FieldEmail}
	}
	if in.Identity != nil {
		if _, ok := s.identities[identityKey{in.Identity.Provider, in.Identity.ProviderUserID}]; ok {
			return User{}, ConflictError{Op: op, Field: FieldProviderIdentity}
		}
	}

	u := User{
		ID:            id,
		Email:         in.Email,
		EmailVerified: in.EmailVerified,
		Name:          strings.TrimSpace(in.Name),
		PasswordHash:  copyStr(in.PasswordHash),
		CreatedAt:     in.Now,
		UpdatedAt:     in.Now,
	}
	s.users[id] = u
	s.byEmail[u.Email] = id
	if in.Identity != nil {
		s.linkLocked(ExternalIdentity{
			Provider:       in.Identity.Provider,
			ProviderUserID: in.Identity.ProviderUserID,
			UserID:         id,
			LinkedAt:       in.Now,
		})
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUser", Resource: "user"}
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByEmail", Resource: "user"}
	}
	return cloneUser(s.users[id]), nil
}

func (s *MemoryStore) UpdateEmail(ctx context.Context, id string, up EmailUpdate) error {
	const op = "identity.UpdateEmail"
	if err := ctx.Err(); err != nil {
		return err
	}
	email := NormalizeEmail(up.Email)
	if email == "" {
		return invalid(op, "email is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if owner, taken := s.byEmail[email]; taken && owner != id {
		return ConflictError{Op: op, Field: FieldEmail}
	}
	delete(s.byEmail, u.Email)
	u.Email = email
	u.EmailVerified = up.Verified
	u.UpdatedAt = pgNow(up.UpdatedAt)
	s.users[id] = u
	s.byEmail[email] = id
	return nil
}

func (s *MemoryStore) UpdatePassword(ctx context.Context, id string, up PasswordUpdate) error {
	const op = "identity.UpdatePassword"
	if err := ctx.Err(); err != nil {
		return err
	}
	if up.PasswordHash == "" {
		return invalid(op, "password hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	h := up.PasswordHash
	u.PasswordHash = &h
	u.UpdatedAt = pgNow(up.UpdatedAt)
	s.users[id] = u
	return nil
}

func (s *MemoryStore) GetIdentity(ctx context.Context, provider Provider, providerUserID string) (ExternalIdentity, error) {
	if err := ctx.Err(); err != nil {
		return ExternalIdentity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ei, ok := s.identities[identityKey{provider, providerUserID}]
	if !ok {
		return ExternalIdentity{}, NotFoundError{Op: "identity.GetIdentity", Resource: "external_identity"}
	}
	return ei, nil
}

func (s *MemoryStore) GetIdentityForUser(ctx context.Context, userID string, provider Provider) (ExternalIdentity, error) {
	if err := ctx.Err(); err != nil {
		return ExternalIdentity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.userProvider[userProviderKey{userID, provider}]
	if !ok {
		return ExternalIdentity{}, NotFoundError{Op: "identity.GetIdentityForUser", Resource: "external_identity"}
	}
	return s.identities[k], nil
}

func (s *MemoryStore) ListIdentities(ctx context.Context, userID string) ([]ExternalIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ExternalIdentity
	for upk, k := range s.userProvider {
		if upk.userID == userID {
			out = append(out, s.identities[k])
		}
	}
	slices.SortFunc(out, func(a, b ExternalIdentity) int { return strings.Compare(string(a.Provider), string(b.Provider)) })
	return out, nil
}

func (s *MemoryStore) LinkIdentity(ctx context.Context, in ExternalIdentity) error {
	const op = "identity.LinkIdentity"
	if err := ctx.Err(); err != nil {
		return err
	}
	if !in.Provider.Valid() || in.ProviderUserID == "" || in.UserID == "" {
		return invalid(op, "invalid external identity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[in.UserID]; !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if _, ok := s.identities[identityKey{in.Provider, in.ProviderUserID}]; ok {
		return ConflictError{Op: op, Field: FieldProviderIdentity}
	}
	if _, ok := s.userProvider[userProviderKey{in.UserID, in.Provider}]; ok {
		return ConflictError{Op: op, Field: FieldUserProvider}
	}
	in.LinkedAt = pgNow(in.LinkedAt)
	s.linkLocked(in)
	return nil
}

func (s *MemoryStore) UnlinkIdentity(ctx context.Context, userID string, provider Provider) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	upk := userProviderKey{userID, provider}
	k, ok := s.userProvider[upk]
	if !ok {
		return NotFoundError{Op: "identity.UnlinkIdentity", Resource: "external_identity"}
	}
	delete(s.userProvider, upk)
	delete(s.identities, k)
	return nil
}

func (s *MemoryStore) linkLocked(ei ExternalIdentity) {
	k := identityKey{ei.Provider, ei.ProviderUserID}
	s.identities[k] = ei
	s.userProvider[userProviderKey{ei.UserID, ei.Provider}] = k
}

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneUser(u User) User {
	u.PasswordHash = copyStr(u.PasswordHash)
	return u
}
