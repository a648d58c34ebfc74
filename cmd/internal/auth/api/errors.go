package authapi

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
)

// statusFor maps every wire code to its HTTP status.
func statusFor(c codes.Code) int {
	switch c {
	case codes.SessionInvalid, codes.SessionExpired,
		codes.SignupSessionInvalid, codes.SignupSessionExpired,
		codes.EmailVerificationSessionInvalid, codes.EmailVerificationSessionExpired,
		codes.PasswordResetSessionInvalid, codes.PasswordResetSessionExpired,
		codes.AccountAssociationSessionInvalid, codes.AccountAssociationSessionExpired,
		codes.InvalidCredentials:
		return http.StatusUnauthorized
	case codes.InvalidVerificationCode, codes.InvalidAssociationCode,
		codes.InvalidCurrentPassword, codes.PasswordTooWeak,
		codes.InvalidRequest, codes.InvalidState:
		return http.StatusBadRequest
	case codes.EmailNotVerified, codes.PasswordNotSet:
		return http.StatusForbidden
	case codes.UserNotFound, codes.IdentityNotLinked:
		return http.StatusNotFound
	case codes.AlreadyVerified, codes.AccountAlreadyLinked, codes.AccountLinkedElsewhere, codes.ProviderAlreadyLinked, codes.EmailAlreadyRegistered:
		return http.StatusConflict
	case codes.ProviderError:
		return http.StatusBadGateway
	case codes.TooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var messages = map[codes.Code]string{
	codes.SessionInvalid:                   "session is invalid",
	codes.SessionExpired:                   "session has expired",
	codes.SignupSessionInvalid:             "signup session is invalid",
	codes.SignupSessionExpired:             "signup session has expired",
	codes.EmailVerificationSessionInvalid:  "email verification session is invalid",
	codes.EmailVerificationSessionExpired:  "email verification session has expired",
	codes.PasswordResetSessionInvalid:      "password reset session is invalid",
	codes.PasswordResetSessionExpired:      "password reset session has expired",
	codes.AccountAssociationSessionInvalid: "account association session is invalid",
	codes.AccountAssociationSessionExpired: "account association session has expired",
	codes.InvalidVerificationCode:          "verification code is invalid",
	codes.InvalidAssociationCode:           "association code is invalid",
	codes.AlreadyVerified:                  "email is already verified",
	codes.EmailNotVerified:                 "email is not verified",
	codes.AccountAlreadyLinked:             "provider account is already linked",
	codes.AccountLinkedElsewhere:           "provider account is linked to another user",
	codes.ProviderAlreadyLinked:            "another account of this provider is already connected",
	codes.IdentityNotLinked:                "provider is not linked",
	codes.PasswordNotSet:                   "set a password before unlinking the last sign-in method",
	codes.EmailAlreadyRegistered:           "email is already registered",
	codes.InvalidCredentials:               "invalid credentials",
	codes.InvalidCurrentPassword:           "current password is incorrect",
	codes.PasswordTooWeak:                  "password does not meet the policy",
	codes.UserNotFound:                     "user not found",
	codes.InvalidRequest:                   "invalid request",
	codes.InvalidState:                     "oauth state is invalid",
	codes.ProviderError:                    "identity provider error",
	codes.TooManyRequests:                  "too many requests",
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	return int64(math.Ceil(d.Seconds()))
}

// fail writes err to w. Expected outcomes become their wire code; anything
// else is logged and hidden behind a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	span := trace.SpanFromContext(r.Context())
	ce, ok := codes.From(err)
	if !ok {
		if errors.Is(err, context.Canceled) {
			h.observe(op, "CANCELED")
			return
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "unexpected")
		h.observe(op, "INTERNAL")
		h.log.Error("auth."+op+".fail", "err", err, "request_id", r.Header.Get("X-Request-ID"))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	span.SetAttributes(attribute.String("auth.code", string(ce.Code)))
	h.observe(op, string(ce.Code))
	if ce.Code == codes.TooManyRequests {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(ce.RetryAfter), 10))
	}
	writeError(w, statusFor(ce.Code), string(ce.Code), messages[ce.Code])
}

func (h *Handler) invalidRequest(w http.ResponseWriter, r *http.Request, op string) {
	h.fail(w, r, op, codes.New(codes.InvalidRequest))
}
