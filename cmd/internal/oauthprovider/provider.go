// Package oauthprovider exchanges OAuth authorization codes for the external
// account behind them.
//
// Gateways only talk to the provider. Deciding what the external account
// means for local users is done by the account link state machine.
package oauthprovider

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
)

var (
	// ErrInvalidCode is returned when the provider rejects the code or verifier.
	ErrInvalidCode = errors.New("oauthprovider: invalid authorization code")
	// ErrUserInfo is returned when the provider profile is missing or malformed.
	ErrUserInfo = errors.New("oauthprovider: invalid user info")
	// ErrUnknownProvider is returned for providers without a configured gateway.
	ErrUnknownProvider = errors.New("oauthprovider: unknown provider")
)

// UserInfo is the part of the provider profile the auth flows use.
type UserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

// Gateway talks to one provider.
type Gateway interface {
	// AuthCodeURL returns the consent URL for state, bound to verifier with PKCE S256.
	AuthCodeURL(state, verifier string) string
	// Exchange trades code for tokens and fetches the user profile.
	Exchange(ctx context.Context, code, verifier string) (UserInfo, error)
}

// Registry maps providers to gateways.
type Registry map[identity.Provider]Gateway

// Get returns the gateway for p.
func (r Registry) Get(p identity.Provider) (Gateway, error) {
	g, ok := r[p]
	if !ok || g == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	return g, nil
}

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string { return oauth2.GenerateVerifier() }

// exchangeErr classifies a token endpoint failure.
func exchangeErr(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: %s", ErrInvalidCode, re.ErrorCode)
	}
	return fmt.Errorf("oauthprovider: exchange: %w", err)
}
