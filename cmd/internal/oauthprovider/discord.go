package oauthprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const discordUserURL = "https://discord.com/api/v10/users/@me"

var discordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Discord is the Discord gateway.
type Discord struct {
	cfg     *oauth2.Config
	userURL string
}

var _ Gateway = (*Discord)(nil)

// NewDiscord returns a Discord gateway for c.
func NewDiscord(c ClientConfig) *Discord {
	return newDiscord(c, discordEndpoint, discordUserURL)
}

func newDiscord(c ClientConfig, ep oauth2.Endpoint, userURL string) *Discord {
	return &Discord{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     ep,
			Scopes:       []string{"identify", "email"},
		},
		userURL: userURL,
	}
}

func (d *Discord) AuthCodeURL(state, verifier string) string {
	return d.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

type discordUser struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name"`
	Email      *string `json:"email"`
	Verified   *bool   `json:"verified"`
}

func (d *Discord) Exchange(ctx context.Context, code, verifier string) (UserInfo, error) {
	tok, err := d.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return UserInfo{}, exchangeErr(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.userURL, nil)
	if err != nil {
		return UserInfo{}, err
	}
	res, err := d.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("oauthprovider: discord user: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("%w: discord status %d", ErrUserInfo, res.StatusCode)
	}

	var u discordUser
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&u); err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	if u.ID == "" || u.Email == nil || strings.TrimSpace(*u.Email) == "" {
		return UserInfo{}, ErrUserInfo
	}

	name := u.Username
	if u.GlobalName != nil && *u.GlobalName != "" {
		name = *u.GlobalName
	}
	return UserInfo{
		ProviderUserID: u.ID,
		Email:          *u.Email,
		EmailVerified:  u.Verified != nil && *u.Verified,
		Name:           name,
	}, nil
}
