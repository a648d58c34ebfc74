package flows

import (
	"context"
	"encoding/json"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

// connectTicketTTL bounds the hop from the signed-in app to the browser.
const connectTicketTTL = time.Minute

const ticketKindConnect = "connect"

// connectTicket carries the signed-in user into a browser that holds no session.
type connectTicket struct {
	Kind      string            `json:"k"`
	UserID    string            `json:"uid"`
	Provider  identity.Provider `json:"p"`
	ExpiresAt int64             `json:"exp"`
	Nonce     string            `json:"n"`
}

// ConnectTicket lets userID start connecting provider p from a browser.
// A user who already has an identity at p gets PROVIDER_ALREADY_LINKED.
func (s *Service) ConnectTicket(ctx context.Context, userID string, p identity.Provider) (Pending, error) {
	if _, err := s.gateway(p); err != nil {
		return Pending{}, err
	}
	u, err := s.loadUser(ctx, userID, codes.UserNotFound)
	if err != nil {
		return Pending{}, err
	}
	if _, err := s.Users.GetIdentityForUser(ctx, u.ID, p); err == nil {
		return Pending{}, codes.New(codes.ProviderAlreadyLinked)
	} else if !identity.IsNotFound(err) {
		return Pending{}, err
	}

	nonce, err := token.NewID()
	if err != nil {
		return Pending{}, err
	}
	exp := s.Now().Add(connectTicketTTL)
	payload, err := json.Marshal(connectTicket{
		Kind:      ticketKindConnect,
		UserID:    u.ID,
		Provider:  p,
		ExpiresAt: exp.Unix(),
		Nonce:     nonce,
	})
	if err != nil {
		return Pending{}, err
	}
	return Pending{Token: token.Sign(s.StateKey, payload), ExpiresAt: exp}, nil
}

func (s *Service) openTicket(p identity.Provider, raw string) (connectTicket, error) {
	payload, err := token.Open(s.StateKey, raw)
	if err != nil {
		return connectTicket{}, codes.New(codes.SessionInvalid)
	}
	var t connectTicket
	if err := json.Unmarshal(payload, &t); err != nil {
		return connectTicket{}, codes.New(codes.SessionInvalid)
	}
	if t.Kind != ticketKindConnect || t.UserID == "" || t.Provider != p {
		return connectTicket{}, codes.New(codes.SessionInvalid)
	}
	if s.Now().Unix() >= t.ExpiresAt {
		return connectTicket{}, codes.New(codes.SessionExpired)
	}
	return t, nil
}

// ConnectRequest starts the provider round trip for the ticket's user. The
// callback links the identity to that user instead of signing anyone in.
func (s *Service) ConnectRequest(ctx context.Context, ip, ticket string, p identity.Provider, client Client, redirect string) (OAuthStart, error) {
	if !validTarget(client, redirect) {
		return OAuthStart{}, codes.New(codes.InvalidRequest)
	}
	t, err := s.openTicket(p, ticket)
	if err != nil {
		return OAuthStart{}, err
	}
	return s.startOAuth(ctx, ip, OAuthState{Provider: p, Client: client, Redirect: redirect, UserID: t.UserID})
}

// Connections lists how a user can sign in.
type Connections struct {
	HasPassword bool
	Identities  []identity.ExternalIdentity
}

// ListConnections returns the user's password flag and linked identities.
func (s *Service) ListConnections(ctx context.Context, userID string) (Connections, error) {
	u, err := s.loadUser(ctx, userID, codes.UserNotFound)
	if err != nil {
		return Connections{}, err
	}
	ids, err := s.Users.ListIdentities(ctx, u.ID)
	if err != nil {
		return Connections{}, err
	}
	return Connections{HasPassword: u.HasPassword(), Identities: ids}, nil
}
