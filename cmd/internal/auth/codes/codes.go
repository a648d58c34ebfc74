// Package codes defines the closed set of auth outcome codes exposed on the wire.
//
// Every expected failure of an auth use case is a *Error carrying one Code.
// Anything else returned alongside is an unexpected failure and must be
// propagated as such.
package codes

import (
	"errors"
	"fmt"
	"time"
)

// Code is a stable wire identifier. Values never change once released.
type Code string

const (
	SessionInvalid Code = "SESSION_INVALID"
	SessionExpired Code = "SESSION_EXPIRED"

	SignupSessionInvalid Code = "SIGNUP_SESSION_INVALID"
	SignupSessionExpired Code = "SIGNUP_SESSION_EXPIRED"

	EmailVerificationSessionInvalid Code = "EMAIL_VERIFICATION_SESSION_INVALID"
	EmailVerificationSessionExpired Code = "EMAIL_VERIFICATION_SESSION_EXPIRED"

	PasswordResetSessionInvalid Code = "PASSWORD_RESET_SESSION_INVALID"
	PasswordResetSessionExpired Code = "PASSWORD_RESET_SESSION_EXPIRED"

	AccountAssociationSessionInvalid Code = "ACCOUNT_ASSOCIATION_SESSION_INVALID"
	AccountAssociationSessionExpired Code = "ACCOUNT_ASSOCIATION_SESSION_EXPIRED"

	InvalidVerificationCode Code = "INVALID_VERIFICATION_CODE"
	InvalidAssociationCode  Code = "INVALID_ASSOCIATION_CODE"
	AlreadyVerified         Code = "ALREADY_VERIFIED"
	EmailNotVerified        Code = "EMAIL_NOT_VERIFIED"

	AccountAlreadyLinked   Code = "ACCOUNT_ALREADY_LINKED"
	AccountLinkedElsewhere Code = "ACCOUNT_LINKED_ELSEWHERE"
	ProviderAlreadyLinked  Code = "PROVIDER_ALREADY_LINKED"
	IdentityNotLinked      Code = "IDENTITY_NOT_LINKED"
	PasswordNotSet         Code = "PASSWORD_NOT_SET"

	EmailAlreadyRegistered Code = "EMAIL_ALREADY_REGISTERED"
	InvalidCredentials     Code = "INVALID_CREDENTIALS"
	InvalidCurrentPassword Code = "INVALID_CURRENT_PASSWORD"
	PasswordTooWeak        Code = "PASSWORD_TOO_WEAK"
	UserNotFound           Code = "USER_NOT_FOUND"

	InvalidRequest Code = "INVALID_REQUEST"
	InvalidState   Code = "INVALID_STATE"
	ProviderError  Code = "PROVIDER_ERROR"

	TooManyRequests Code = "TOO_MANY_REQUESTS"
)

// All lists every Code. Tests rely on it to check exhaustive handling.
var All = []Code{
	SessionInvalid, SessionExpired,
	SignupSessionInvalid, SignupSessionExpired,
	EmailVerificationSessionInvalid, EmailVerificationSessionExpired,
	PasswordResetSessionInvalid, PasswordResetSessionExpired,
	AccountAssociationSessionInvalid, AccountAssociationSessionExpired,
	InvalidVerificationCode, InvalidAssociationCode, AlreadyVerified, EmailNotVerified,
	AccountAlreadyLinked, AccountLinkedElsewhere, ProviderAlreadyLinked, IdentityNotLinked, PasswordNotSet,
	EmailAlreadyRegistered, InvalidCredentials, InvalidCurrentPassword, PasswordTooWeak, UserNotFound,
	InvalidRequest, InvalidState, ProviderError,
	TooManyRequests,
}

// Error is the typed result of an expected auth failure.
type Error struct {
	Code Code
	// RetryAfter is set only for TooManyRequests.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Code == TooManyRequests && e.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s", e.Code, e.RetryAfter)
	}
	return string(e.Code)
}

// Is matches another *Error with the same Code, so errors.Is(err, codes.New(X)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New returns an *Error for c.
func New(c Code) *Error { return &Error{Code: c} }

// RateLimited returns a TooManyRequests error carrying retryAfter.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Code: TooManyRequests, RetryAfter: retryAfter}
}

// From extracts the *Error from err. ok is false for unexpected errors.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Has reports whether err carries code c.
func Has(err error, c Code) bool {
	e, ok := From(err)
	return ok && e.Code == c
}

// Pair holds the invalid/expired codes of one session kind.
type Pair struct {
	Invalid Code
	Expired Code
}

var (
	SessionPair                   = Pair{SessionInvalid, SessionExpired}
	SignupSessionPair             = Pair{SignupSessionInvalid, SignupSessionExpired}
	EmailVerificationSessionPair  = Pair{EmailVerificationSessionInvalid, EmailVerificationSessionExpired}
	PasswordResetSessionPair      = Pair{PasswordResetSessionInvalid, PasswordResetSessionExpired}
	AccountAssociationSessionPair = Pair{AccountAssociationSessionInvalid, AccountAssociationSessionExpired}
)
