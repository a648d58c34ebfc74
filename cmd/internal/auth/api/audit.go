package authapi

import (
	"net/http"
	"strings"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
)

// audit records a security-relevant event. Tokens and codes never appear here.
func (h *Handler) audit(r *http.Request, action, userID string, kv ...any) {
	args := []any{
		"user_id", userID,
		"ip", h.ip(r),
		"user_agent", trimUA(r.UserAgent()),
		"request_id", r.Header.Get("X-Request-ID"),
	}
	h.log.InfoContext(r.Context(), action, append(args, kv...)...)
}

// auditLoginFailed logs the failure reason without revealing which part of
// the credentials was wrong; the email is reduced to its masked form.
func (h *Handler) auditLoginFailed(r *http.Request, email string, err error) {
	ce, ok := codes.From(err)
	if !ok {
		return
	}
	h.log.WarnContext(r.Context(), "auth.login.fail",
		"code", string(ce.Code),
		"email", identity.MaskEmail(identity.NormalizeEmail(email)),
		"ip", h.ip(r),
		"user_agent", trimUA(r.UserAgent()),
		"request_id", r.Header.Get("X-Request-ID"),
	)
}

func trimUA(ua string) string {
	ua = strings.TrimSpace(ua)
	if len(ua) > 256 {
		return ua[:256]
	}
	return ua
}
