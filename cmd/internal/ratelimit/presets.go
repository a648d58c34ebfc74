package ratelimit

import "time"

// Call site prefixes.
const (
	PrefixLogin                       = "login"
	PrefixSignupRequest               = "signup-request"
	PrefixSignupVerifyEmail           = "signup-verify-email"
	PrefixSignupConfirm               = "signup-confirm"
	PrefixPasswordResetRequest        = "forgot-password-request"
	PrefixPasswordResetVerifyEmail    = "forgot-password-verify-email"
	PrefixPasswordResetComplete       = "forgot-password-reset"
	PrefixEmailVerificationRequest    = "email-verification-request"
	PrefixEmailVerificationConfirm    = "email-verification-confirm"
	PrefixUpdatePassword              = "me-update-password"
	PrefixOAuthRequest                = "oauth-provider-request"
	PrefixOAuthCallback               = "oauth-provider-callback"
	PrefixAccountAssociationChallenge = "account-association-challenge"
	PrefixAccountAssociationConfirm   = "account-association-confirm"
)

// Presets maps every call site to its bucket shape.
var Presets = map[string]Config{
	PrefixLogin:                       {MaxTokens: 1000, RefillRate: 500, RefillInterval: 30 * time.Minute},
	PrefixSignupRequest:               {MaxTokens: 5, RefillRate: 5, RefillInterval: 10 * time.Minute},
	PrefixSignupVerifyEmail:           {MaxTokens: 1000, RefillRate: 500, RefillInterval: 10 * time.Minute},
	PrefixSignupConfirm:               {MaxTokens: 100, RefillRate: 10, RefillInterval: time.Minute},
	PrefixPasswordResetRequest:        {MaxTokens: 100, RefillRate: 50, RefillInterval: 30 * time.Minute},
	PrefixPasswordResetVerifyEmail:    {MaxTokens: 1000, RefillRate: 500, RefillInterval: 10 * time.Minute},
	PrefixPasswordResetComplete:       {MaxTokens: 100, RefillRate: 10, RefillInterval: time.Minute},
	PrefixEmailVerificationRequest:    {MaxTokens: 5, RefillRate: 5, RefillInterval: 10 * time.Minute},
	PrefixEmailVerificationConfirm:    {MaxTokens: 1000, RefillRate: 500, RefillInterval: 10 * time.Minute},
	PrefixUpdatePassword:              {MaxTokens: 100, RefillRate: 10, RefillInterval: time.Minute},
	PrefixOAuthRequest:                {MaxTokens: 100, RefillRate: 50, RefillInterval: 10 * time.Minute},
	PrefixOAuthCallback:               {MaxTokens: 100, RefillRate: 10, RefillInterval: time.Minute},
	PrefixAccountAssociationChallenge: {MaxTokens: 5, RefillRate: 5, RefillInterval: 10 * time.Minute},
	PrefixAccountAssociationConfirm:   {MaxTokens: 1000, RefillRate: 500, RefillInterval: 10 * time.Minute},
}

// Costs used by call sites that charge more than one token per attempt.
const (
	// CostPerEmail is charged against the per-email login bucket.
	CostPerEmail int64 = 100
	// CostCodeAttempt is charged per code guess against a session-keyed bucket.
	CostCodeAttempt int64 = 100
)

// Set holds one limiter per preset.
type Set struct {
	byPrefix map[string]*Limiter
}

// NewSet builds every preset limiter with f.
func NewSet(f *Factory) *Set {
	s := &Set{byPrefix: make(map[string]*Limiter, len(Presets))}
	for prefix, c := range Presets {
		s.byPrefix[prefix] = f.New(prefix, c)
	}
	return s
}

// Get returns the limiter for prefix. It panics for unknown prefixes.
func (s *Set) Get(prefix string) *Limiter {
	l, ok := s.byPrefix[prefix]
	if !ok {
		panic("ratelimit: unknown prefix " + prefix)
	}
	return l
}
