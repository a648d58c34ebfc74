package oauthprovider

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleIssuer  = "https://accounts.google.com"
	googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// Google is the Google gateway. The profile comes from the verified ID token.
type Google struct {
	cfg      *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

var _ Gateway = (*Google)(nil)

// NewGoogle returns a Google gateway for c. Signing keys are fetched lazily,
// so construction does not touch the network.
func NewGoogle(ctx context.Context, c ClientConfig) *Google {
	keys := oidc.NewRemoteKeySet(ctx, googleJWKSURL)
	return newGoogle(c, google.Endpoint, oidc.NewVerifier(googleIssuer, keys, &oidc.Config{ClientID: c.ClientID}))
}

func newGoogle(c ClientConfig, ep oauth2.Endpoint, v *oidc.IDTokenVerifier) *Google {
	return &Google{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     ep,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: v,
	}
}

func (g *Google) AuthCodeURL(state, verifier string) string {
	return g.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

type googleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (g *Google) Exchange(ctx context.Context, code, verifier string) (UserInfo, error) {
	tok, err := g.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return UserInfo{}, exchangeErr(err)
	}

	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return UserInfo{}, fmt.Errorf("%w: missing id_token", ErrUserInfo)
	}
	idTok, err := g.verifier.Verify(ctx, raw)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}

	var c googleClaims
	if err := idTok.Claims(&c); err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	if c.Sub == "" || c.Email == "" {
		return UserInfo{}, ErrUserInfo
	}
	return UserInfo{
		ProviderUserID: c.Sub,
		Email:          c.Email,
		EmailVerified:  c.EmailVerified,
		Name:           c.Name,
	}, nil
}
