package authapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/flows"
)

const clientTypeHeader = "X-Client-Type"

// clientOf reads the declared client type. The header is not CORS-safelisted,
// so cross-site callers cannot send it without passing preflight.
func clientOf(r *http.Request) (flows.Client, bool) {
	c := flows.Client(strings.ToLower(strings.TrimSpace(r.Header.Get(clientTypeHeader))))
	return c, c.Valid()
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.sameSite,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.sameSite,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// sessionToken returns the login session token: the cookie for web, the bearer for mobile.
func (h *Handler) sessionToken(r *http.Request, client flows.Client) string {
	if client == flows.ClientWeb {
		return cookieValue(r, h.cfg.SessionCookie)
	}
	return bearerToken(r)
}

// flowToken returns an ephemeral session token. Web clients hold it in cookie;
// mobile clients send it in the body, or as the bearer on body-less requests.
func (h *Handler) flowToken(r *http.Request, client flows.Client, cookie, fromBody string) string {
	if client == flows.ClientWeb {
		return cookieValue(r, cookie)
	}
	if t := strings.TrimSpace(fromBody); t != "" {
		return t
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return "unknown"
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
