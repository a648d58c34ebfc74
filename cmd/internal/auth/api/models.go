package authapi

import (
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/flows"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Token string `json:"token,omitempty"`
	Code  string `json:"code"`
}

type signupConfirmRequest struct {
	Token    string `json:"token,omitempty"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type passwordResetCompleteRequest struct {
	Token       string `json:"token,omitempty"`
	NewPassword string `json:"new_password"`
}

type updatePasswordRequest struct {
	CurrentPassword *string `json:"current_password"`
	NewPassword     string  `json:"new_password"`
}

type emailVerificationRequest struct {
	Email *string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token,omitempty"`
}

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	Name          string    `json:"name"`
	HasPassword   bool      `json:"has_password"`
	CreatedAt     time.Time `json:"created_at"`
}

type sessionResponse struct {
	// Token is omitted for web clients, which receive it as a cookie.
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type loginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type pendingResponse struct {
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type associationPreviewResponse struct {
	Provider    identity.Provider `json:"provider"`
	MaskedEmail string            `json:"masked_email"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

type identityResponse struct {
	Provider identity.Provider `json:"provider"`
	LinkedAt time.Time         `json:"linked_at"`
}

type connectionsResponse struct {
	HasPassword bool               `json:"has_password"`
	Identities  []identityResponse `json:"identities"`
}

type connectTicketResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toConnectionsResponse(c flows.Connections) connectionsResponse {
	out := connectionsResponse{HasPassword: c.HasPassword, Identities: make([]identityResponse, 0, len(c.Identities))}
	for _, ei := range c.Identities {
		out.Identities = append(out.Identities, identityResponse{Provider: ei.Provider, LinkedAt: ei.LinkedAt})
	}
	return out
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Name:          u.Name,
		HasPassword:   u.HasPassword(),
		CreatedAt:     u.CreatedAt,
	}
}

func toLoginResponse(res flows.LoginResult, client flows.Client) loginResponse {
	out := loginResponse{
		User:    toUserResponse(res.User),
		Session: sessionResponse{ExpiresAt: res.Session.Session.ExpiresAt},
	}
	if client == flows.ClientMobile {
		out.Session.Token = res.Session.Token
	}
	return out
}

func toPendingResponse(p flows.Pending, client flows.Client) pendingResponse {
	out := pendingResponse{ExpiresAt: p.ExpiresAt}
	if client == flows.ClientMobile {
		out.Token = p.Token
	}
	return out
}
