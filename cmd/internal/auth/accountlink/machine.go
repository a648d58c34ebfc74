// Package accountlink decides what an OAuth callback does to local accounts.
//
// A callback either logs into the user already linked to the external
// identity, creates a new user with the identity linked, or, when the
// external email belongs to an existing local user, opens a link proposal
// that must be confirmed with an emailed code. Nothing is linked silently.
package accountlink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
)

// Profile is what a provider callback proved about the external account.
type Profile struct {
	Provider       identity.Provider
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

// Outcome names the branch a callback took.
type Outcome int

const (
	// OutcomeLogin logged into the user already linked to the identity.
	OutcomeLogin Outcome = iota + 1
	// OutcomeSignup created a new user with the identity linked.
	OutcomeSignup
	// OutcomeLinkRequired opened a link proposal for an existing user.
	OutcomeLinkRequired
	// OutcomeConnected linked the identity to a signed-in user.
	OutcomeConnected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLogin:
		return "login"
	case OutcomeSignup:
		return "signup"
	case OutcomeLinkRequired:
		return "link_required"
	case OutcomeConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Result is the outcome of a callback or a confirmation.
type Result struct {
	Outcome Outcome
	User    identity.User
	// Session is set for OutcomeLogin and OutcomeSignup.
	Session session.Issued
	// Proposal is set for OutcomeLinkRequired. Proposal.Record.Code must be emailed.
	Proposal session.IssuedAssociation
}

// Machine runs the account link state machine.
type Machine struct {
	users        identity.Store
	sessions     *session.Sessions
	associations *session.Associations
	logger       *slog.Logger
}

// New wires a Machine. A nil logger discards.
func New(users identity.Store, sessions *session.Sessions, associations *session.Associations, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Machine{users: users, sessions: sessions, associations: associations, logger: logger}
}

// Callback handles a successful provider callback.
func (m *Machine) Callback(ctx context.Context, p Profile) (Result, error) {
	if !p.Provider.Valid() || p.ProviderUserID == "" || identity.NormalizeEmail(p.Email) == "" {
		return Result{}, codes.New(codes.ProviderError)
	}

	// One retry covers a concurrent signup winning the identity or email insert.
	for attempt := 0; ; attempt++ {
		res, err := m.callback(ctx, p)
		if err != nil && attempt == 0 && identity.IsConflict(err) {
			continue
		}
		return res, err
	}
}

func (m *Machine) callback(ctx context.Context, p Profile) (Result, error) {
	ei, err := m.users.GetIdentity(ctx, p.Provider, p.ProviderUserID)
	switch {
	case err == nil:
		return m.login(ctx, ei.UserID, OutcomeLogin)
	case !identity.IsNotFound(err):
		return Result{}, err
	}

	existing, err := m.users.GetUserByEmail(ctx, p.Email)
	switch {
	case identity.IsNotFound(err):
		return m.signup(ctx, p)
	case err != nil:
		return Result{}, err
	}

	if _, err := m.users.GetIdentityForUser(ctx, existing.ID, p.Provider); err == nil {
		return Result{}, codes.New(codes.AccountAlreadyLinked)
	} else if !identity.IsNotFound(err) {
		return Result{}, err
	}

	return m.propose(ctx, existing, session.AssociationInput{
		UserID:         existing.ID,
		Provider:       p.Provider,
		ProviderUserID: p.ProviderUserID,
		Email:          existing.Email,
	})
}

func (m *Machine) signup(ctx context.Context, p Profile) (Result, error) {
	u, err := m.users.CreateUser(ctx, identity.CreateUserInput{
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		Name:          p.Name,
		Identity:      &identity.NewExternalIdentity{Provider: p.Provider, ProviderUserID: p.ProviderUserID},
		Now:           m.associations.Now(),
	})
	if err != nil {
		return Result{}, err
	}
	m.logger.Info("accountlink.signup", "user_id", u.ID, "provider", p.Provider)
	return m.issue(ctx, u, OutcomeSignup)
}

func (m *Machine) propose(ctx context.Context, u identity.User, in session.AssociationInput) (Result, error) {
	if err := m.associations.RevokeAllForUser(ctx, u.ID); err != nil {
		return Result{}, err
	}
	issued, err := m.associations.Create(ctx, in)
	if err != nil {
		return Result{}, err
	}
	m.logger.Info("accountlink.proposal.create", "user_id", u.ID, "provider", in.Provider, "association_id", issued.Record.ID)
	return Result{Outcome: OutcomeLinkRequired, User: u, Proposal: issued}, nil
}

// Connect links p to the signed-in user userID. No session is issued.
// A user with another identity at the provider gets PROVIDER_ALREADY_LINKED;
// an identity owned by anyone gets ACCOUNT_LINKED_ELSEWHERE.
func (m *Machine) Connect(ctx context.Context, userID string, p Profile) (Result, error) {
	if !p.Provider.Valid() || p.ProviderUserID == "" {
		return Result{}, codes.New(codes.ProviderError)
	}
	u, err := m.users.GetUser(ctx, userID)
	if identity.IsNotFound(err) {
		return Result{}, codes.New(codes.UserNotFound)
	}
	if err != nil {
		return Result{}, err
	}

	if _, err := m.users.GetIdentityForUser(ctx, u.ID, p.Provider); err == nil {
		return Result{}, codes.New(codes.ProviderAlreadyLinked)
	} else if !identity.IsNotFound(err) {
		return Result{}, err
	}
	if _, err := m.users.GetIdentity(ctx, p.Provider, p.ProviderUserID); err == nil {
		return Result{}, codes.New(codes.AccountLinkedElsewhere)
	} else if !identity.IsNotFound(err) {
		return Result{}, err
	}

	err = m.users.LinkIdentity(ctx, identity.ExternalIdentity{
		Provider:       p.Provider,
		ProviderUserID: p.ProviderUserID,
		UserID:         u.ID,
		LinkedAt:       m.associations.Now(),
	})
	if err != nil {
		field, conflict := identity.ConflictField(err)
		switch {
		case conflict && field == identity.FieldUserProvider:
			return Result{}, codes.New(codes.ProviderAlreadyLinked)
		case conflict:
			return Result{}, codes.New(codes.AccountLinkedElsewhere)
		case identity.IsNotFound(err):
			return Result{}, codes.New(codes.UserNotFound)
		default:
			return Result{}, err
		}
	}
	m.logger.Info("accountlink.connect", "user_id", u.ID, "provider", p.Provider)
	return Result{Outcome: OutcomeConnected, User: u}, nil
}

// Preview validates a proposal token and returns the proposal. A proposal
// whose user is gone or now uses a different email is deleted and reported invalid.
func (m *Machine) Preview(ctx context.Context, tok string) (session.AccountAssociation, error) {
	rec, _, err := m.current(ctx, tok)
	return rec, err
}

// Challenge replaces the proposal behind tok with a fresh one carrying a new code.
func (m *Machine) Challenge(ctx context.Context, tok string) (Result, error) {
	rec, u, err := m.current(ctx, tok)
	if err != nil {
		return Result{}, err
	}
	return m.propose(ctx, u, session.AssociationInput{
		UserID:         rec.UserID,
		Provider:       rec.Provider,
		ProviderUserID: rec.ProviderUserID,
		Email:          rec.Email,
	})
}

func (m *Machine) current(ctx context.Context, tok string) (session.AccountAssociation, identity.User, error) {
	rec, err := m.associations.Validate(ctx, tok)
	if err != nil {
		return session.AccountAssociation{}, identity.User{}, err
	}
	u, err := m.users.GetUser(ctx, rec.UserID)
	switch {
	case identity.IsNotFound(err):
	case err != nil:
		return session.AccountAssociation{}, identity.User{}, err
	case identity.NormalizeEmail(u.Email) == rec.Email:
		return rec, u, nil
	}

	if err := m.associations.Revoke(ctx, rec.ID); err != nil {
		return session.AccountAssociation{}, identity.User{}, err
	}
	m.logger.Info("accountlink.proposal.stale", "user_id", rec.UserID, "association_id", rec.ID)
	return session.AccountAssociation{}, identity.User{}, codes.New(codes.AccountAssociationSessionInvalid)
}

// Reject deletes the proposal behind tok.
func (m *Machine) Reject(ctx context.Context, tok string) error {
	rec, err := m.associations.Validate(ctx, tok)
	if err != nil {
		return err
	}
	return m.associations.Revoke(ctx, rec.ID)
}

// Confirm links the proposed identity when code matches, then logs the user in.
// Every link check re-reads the store; a link created after the proposal is
// reported as ACCOUNT_LINKED_ELSEWHERE and is never modified.
func (m *Machine) Confirm(ctx context.Context, rec session.AccountAssociation, code string) (Result, error) {
	if !session.CodeMatches(rec, code) {
		return Result{}, codes.New(codes.InvalidAssociationCode)
	}

	if err := m.checkLinkable(ctx, rec); err != nil {
		return Result{}, err
	}

	err := m.users.LinkIdentity(ctx, identity.ExternalIdentity{
		Provider:       rec.Provider,
		ProviderUserID: rec.ProviderUserID,
		UserID:         rec.UserID,
		LinkedAt:       m.associations.Now(),
	})
	if err != nil {
		field, conflict := identity.ConflictField(err)
		switch {
		case conflict && field == identity.FieldUserProvider:
			return Result{}, codes.New(codes.AccountAlreadyLinked)
		case conflict:
			if cerr := m.checkLinkable(ctx, rec); cerr != nil {
				return Result{}, cerr
			}
			return Result{}, codes.New(codes.AccountLinkedElsewhere)
		case identity.IsNotFound(err):
			return Result{}, codes.New(codes.UserNotFound)
		default:
			return Result{}, err
		}
	}

	if err := m.associations.Revoke(ctx, rec.ID); err != nil {
		return Result{}, err
	}
	m.logger.Info("accountlink.confirm", "user_id", rec.UserID, "provider", rec.Provider)
	return m.login(ctx, rec.UserID, OutcomeLogin)
}

func (m *Machine) checkLinkable(ctx context.Context, rec session.AccountAssociation) error {
	ei, err := m.users.GetIdentity(ctx, rec.Provider, rec.ProviderUserID)
	switch {
	case err == nil && ei.UserID == rec.UserID:
		return codes.New(codes.AccountAlreadyLinked)
	case err == nil:
		return codes.New(codes.AccountLinkedElsewhere)
	case !identity.IsNotFound(err):
		return err
	}

	_, err = m.users.GetIdentityForUser(ctx, rec.UserID, rec.Provider)
	switch {
	case err == nil:
		return codes.New(codes.AccountAlreadyLinked)
	case identity.IsNotFound(err):
		return nil
	default:
		return err
	}
}

func (m *Machine) login(ctx context.Context, userID string, outcome Outcome) (Result, error) {
	u, err := m.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Result{}, codes.New(codes.UserNotFound)
		}
		return Result{}, err
	}
	return m.issue(ctx, u, outcome)
}

func (m *Machine) issue(ctx context.Context, u identity.User, outcome Outcome) (Result, error) {
	s, err := m.sessions.Create(ctx, u.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: outcome, User: u, Session: s}, nil
}
