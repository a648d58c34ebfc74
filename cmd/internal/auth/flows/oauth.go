package flows

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/accountlink"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/mailer"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/oauthprovider"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/ratelimit"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

// Client is the kind of app driving a flow.
type Client string

const (
	ClientWeb    Client = "web"
	ClientMobile Client = "mobile"
)

// Valid reports whether c is a known client type.
func (c Client) Valid() bool { return c == ClientWeb || c == ClientMobile }

const maxRedirectLength = 200

func validTarget(client Client, redirect string) bool {
	return client.Valid() && len(redirect) <= maxRedirectLength && !strings.ContainsAny(redirect, "\r\n")
}

// OAuthState is the signed round-trip state of an authorization request.
type OAuthState struct {
	Provider identity.Provider `json:"p"`
	Client   Client            `json:"c"`
	Redirect string            `json:"r,omitempty"`
	// UserID is set when a signed-in user is connecting the provider.
	UserID    string `json:"uid,omitempty"`
	ExpiresAt int64  `json:"exp"`
	Nonce     string `json:"n"`
}

// OAuthStart is everything the caller needs to send the user to the provider.
// Verifier must be kept by the caller, never shown to the provider, and
// presented again on the callback.
type OAuthStart struct {
	URL      string
	State    string
	Verifier string
}

// OAuthRequest builds the provider consent URL with signed state and a PKCE verifier.
func (s *Service) OAuthRequest(ctx context.Context, ip string, p identity.Provider, client Client, redirect string) (OAuthStart, error) {
	if !validTarget(client, redirect) {
		return OAuthStart{}, codes.New(codes.InvalidRequest)
	}
	return s.startOAuth(ctx, ip, OAuthState{Provider: p, Client: client, Redirect: redirect})
}

func (s *Service) startOAuth(ctx context.Context, ip string, st OAuthState) (OAuthStart, error) {
	if err := s.consume(ctx, ratelimit.PrefixOAuthRequest, ip, 1); err != nil {
		return OAuthStart{}, err
	}
	g, err := s.gateway(st.Provider)
	if err != nil {
		return OAuthStart{}, err
	}

	st.Nonce, err = token.NewID()
	if err != nil {
		return OAuthStart{}, err
	}
	st.ExpiresAt = s.Now().Add(s.StateTTL).Unix()
	payload, err := json.Marshal(st)
	if err != nil {
		return OAuthStart{}, err
	}
	state := token.Sign(s.StateKey, payload)
	verifier := oauthprovider.NewVerifier()
	return OAuthStart{URL: g.AuthCodeURL(state, verifier), State: state, Verifier: verifier}, nil
}

func (s *Service) gateway(p identity.Provider) (oauthprovider.Gateway, error) {
	if !p.Valid() {
		return nil, codes.New(codes.InvalidRequest)
	}
	g, err := s.Providers.Get(p)
	if errors.Is(err, oauthprovider.ErrUnknownProvider) {
		return nil, codes.New(codes.InvalidRequest)
	}
	return g, err
}

// OpenState verifies a state value for provider p.
func (s *Service) OpenState(p identity.Provider, raw string) (OAuthState, error) {
	payload, err := token.Open(s.StateKey, raw)
	if err != nil {
		return OAuthState{}, codes.New(codes.InvalidState)
	}
	var st OAuthState
	if err := json.Unmarshal(payload, &st); err != nil {
		return OAuthState{}, codes.New(codes.InvalidState)
	}
	if st.Provider != p || !st.Client.Valid() || s.Now().Unix() >= st.ExpiresAt {
		return OAuthState{}, codes.New(codes.InvalidState)
	}
	return st, nil
}

// OAuthCallbackInput is what the provider redirect carried, plus the verifier
// kept since OAuthRequest. ProviderError is the provider's error parameter, if any.
type OAuthCallbackInput struct {
	State         string
	Code          string
	Verifier      string
	ProviderError string
}

// OAuthCallbackResult is the outcome of a callback. A state carrying a user
// id ends in the connected outcome with no session.
type OAuthCallbackResult struct {
	State   OAuthState
	Outcome accountlink.Outcome
	User    identity.User
	// Session is set for the login and signup outcomes.
	Session session.Issued
	// Association is set for the link-required outcome.
	Association Pending
}

// OAuthCallback completes an authorization round trip. Once the state has
// been verified, the returned result carries it even when err is non-nil so
// the caller can send the user back to the right client.
func (s *Service) OAuthCallback(ctx context.Context, ip string, p identity.Provider, in OAuthCallbackInput) (OAuthCallbackResult, error) {
	if err := s.consume(ctx, ratelimit.PrefixOAuthCallback, ip, 1); err != nil {
		return OAuthCallbackResult{}, err
	}
	st, err := s.OpenState(p, in.State)
	if err != nil {
		return OAuthCallbackResult{}, err
	}
	res := OAuthCallbackResult{State: st}

	if in.ProviderError != "" || in.Code == "" {
		s.Logger.Info("auth.oauth.callback.denied", "provider", p, "provider_error", in.ProviderError)
		return res, codes.New(codes.ProviderError)
	}
	if in.Verifier == "" {
		return res, codes.New(codes.InvalidState)
	}
	g, err := s.gateway(p)
	if err != nil {
		return res, err
	}

	info, err := g.Exchange(ctx, in.Code, in.Verifier)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.Logger.Warn("auth.oauth.exchange.fail", "provider", p, "err", err)
		return res, codes.New(codes.ProviderError)
	}

	profile := accountlink.Profile{
		Provider:       p,
		ProviderUserID: info.ProviderUserID,
		Email:          info.Email,
		EmailVerified:  info.EmailVerified,
		Name:           info.Name,
	}
	if st.UserID != "" {
		lr, err := s.Links.Connect(ctx, st.UserID, profile)
		if err != nil {
			return res, err
		}
		res.Outcome, res.User = lr.Outcome, lr.User
		s.Logger.Info("auth.oauth.connect.ok", "provider", p, "user_id", lr.User.ID)
		return res, nil
	}

	lr, err := s.Links.Callback(ctx, profile)
	if err != nil {
		return res, err
	}
	res.Outcome = lr.Outcome
	res.User = lr.User

	switch lr.Outcome {
	case accountlink.OutcomeLinkRequired:
		rec := lr.Proposal.Record
		if err := s.sendCode(ctx, rec.Email, rec.Code, mailer.PurposeAccountAssociation); err != nil {
			_ = s.Associations.Revoke(ctx, rec.ID)
			return res, err
		}
		res.Association = Pending{Token: lr.Proposal.Token, ExpiresAt: rec.ExpiresAt}
	default:
		res.Session = lr.Session
		s.observeSession("oauth_" + lr.Outcome.String())
	}
	s.Logger.Info("auth.oauth.callback.ok", "provider", p, "user_id", lr.User.ID, "outcome", lr.Outcome.String())
	return res, nil
}

// AssociationSummary describes a pending link proposal without revealing the full email.
type AssociationSummary struct {
	Provider    identity.Provider
	MaskedEmail string
	ExpiresAt   time.Time
}

// AssociationPreview validates tok and describes its proposal.
func (s *Service) AssociationPreview(ctx context.Context, tok string) (AssociationSummary, error) {
	rec, err := s.Links.Preview(ctx, tok)
	if err != nil {
		return AssociationSummary{}, err
	}
	return AssociationSummary{Provider: rec.Provider, MaskedEmail: identity.MaskEmail(rec.Email), ExpiresAt: rec.ExpiresAt}, nil
}

// AssociationChallenge replaces the proposal behind tok and mails the new code.
func (s *Service) AssociationChallenge(ctx context.Context, tok string) (Pending, error) {
	rec, err := s.Links.Preview(ctx, tok)
	if err != nil {
		return Pending{}, err
	}
	if err := s.consume(ctx, ratelimit.PrefixAccountAssociationChallenge, rec.UserID, 1); err != nil {
		return Pending{}, err
	}
	lr, err := s.Links.Challenge(ctx, tok)
	if err != nil {
		return Pending{}, err
	}
	next := lr.Proposal.Record
	if err := s.sendCode(ctx, next.Email, next.Code, mailer.PurposeAccountAssociation); err != nil {
		_ = s.Associations.Revoke(ctx, next.ID)
		return Pending{}, err
	}
	return Pending{Token: lr.Proposal.Token, ExpiresAt: next.ExpiresAt}, nil
}

// AssociationConfirm links the proposed identity when code matches and logs the user in.
func (s *Service) AssociationConfirm(ctx context.Context, tok, code string) (LoginResult, error) {
	rec, err := s.Links.Preview(ctx, tok)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.consume(ctx, ratelimit.PrefixAccountAssociationConfirm, rec.ID, ratelimit.CostCodeAttempt); err != nil {
		return LoginResult{}, err
	}
	lr, err := s.Links.Confirm(ctx, rec, strings.TrimSpace(code))
	if err != nil {
		return LoginResult{}, err
	}
	s.observeSession("association")
	return LoginResult{User: lr.User, Session: lr.Session}, nil
}

// AssociationReject discards the proposal behind tok.
func (s *Service) AssociationReject(ctx context.Context, tok string) error {
	return s.Links.Reject(ctx, tok)
}

// Unlink removes the user's identity at p. Accounts without a password keep
// their identity so they are never locked out.
func (s *Service) Unlink(ctx context.Context, userID string, p identity.Provider) error {
	if !p.Valid() {
		return codes.New(codes.InvalidRequest)
	}
	u, err := s.loadUser(ctx, userID, codes.UserNotFound)
	if err != nil {
		return err
	}
	if !u.HasPassword() {
		return codes.New(codes.PasswordNotSet)
	}
	err = s.Users.UnlinkIdentity(ctx, u.ID, p)
	if identity.IsNotFound(err) {
		return codes.New(codes.IdentityNotLinked)
	}
	if err != nil {
		return err
	}
	s.Logger.Info("auth.identity.unlink", "user_id", u.ID, "provider", p)
	return nil
}
