package authapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
)

func TestStatusFor_CoversEveryCode(t *testing.T) {
	for _, c := range codes.All {
		if got := statusFor(c); got == http.StatusInternalServerError {
			t.Fatalf("%s maps to 500", c)
		}
		if messages[c] == "" {
			t.Fatalf("%s has no message", c)
		}
	}
}

func TestStatusFor_Classes(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.InvalidCredentials, http.StatusUnauthorized},
		{codes.SignupSessionExpired, http.StatusUnauthorized},
		{codes.InvalidVerificationCode, http.StatusBadRequest},
		{codes.EmailNotVerified, http.StatusForbidden},
		{codes.EmailAlreadyRegistered, http.StatusConflict},
		{codes.IdentityNotLinked, http.StatusNotFound},
		{codes.ProviderError, http.StatusBadGateway},
		{codes.TooManyRequests, http.StatusTooManyRequests},
	}
	for _, tc := range tests {
		if got := statusFor(tc.code); got != tc.want {
			t.Fatalf("statusFor(%s)=%d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int64
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{30 * time.Minute, 1800},
	}
	for _, tc := range tests {
		if got := retryAfterSeconds(tc.in); got != tc.want {
			t.Fatalf("retryAfterSeconds(%v)=%d, want %d", tc.in, got, tc.want)
		}
	}
}
