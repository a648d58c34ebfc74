// Package authapi serves the auth flows over HTTP.
//
// Clients declare themselves with X-Client-Type. Web clients get every token
// as an HttpOnly cookie; mobile clients get tokens in JSON bodies and send the
// login session back as a bearer token.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/flows"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
)

const instrumentationName = "github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/api"

// Recorder counts auth outcomes per operation.
type Recorder interface {
	ObserveAuth(op, code string)
}

// Handler wires HTTP auth endpoints to the flows service.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	svc    *flows.Service
	rec    Recorder
	tracer trace.Tracer
	now    func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) HandlerOption {
	return func(h *Handler) { h.rec = r }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) HandlerOption {
	return func(h *Handler) {
		if tp != nil {
			h.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithClock sets the clock used for cookie expiry.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler over svc.
func NewHandler(svc *flows.Service, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("authapi: nil flows service")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	h := &Handler{
		log:    slog.New(slog.DiscardHandler),
		cfg:    cfg,
		svc:    svc,
		tracer: otel.Tracer(instrumentationName),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /auth/login", h.route("login", h.handleLogin))
	mux.Handle("POST /auth/logout", h.route("logout", h.handleLogout))
	mux.Handle("POST /auth/logout-all", h.route("logout_all", h.handleLogoutAll))

	mux.Handle("POST /auth/signup/request", h.route("signup_request", h.handleSignupRequest))
	mux.Handle("POST /auth/signup/verify-email", h.route("signup_verify_email", h.handleSignupVerifyEmail))
	mux.Handle("POST /auth/signup/confirm", h.route("signup_confirm", h.handleSignupConfirm))

	mux.Handle("POST /auth/password-reset/request", h.route("password_reset_request", h.handlePasswordResetRequest))
	mux.Handle("POST /auth/password-reset/verify-email", h.route("password_reset_verify_email", h.handlePasswordResetVerifyEmail))
	mux.Handle("POST /auth/password-reset/complete", h.route("password_reset_complete", h.handlePasswordResetComplete))

	mux.Handle("GET /auth/oauth/{provider}", h.route("oauth_request", h.handleOAuthRequest))
	mux.Handle("GET /auth/oauth/{provider}/callback", h.route("oauth_callback", h.handleOAuthCallback))
	mux.Handle("GET /auth/oauth/{provider}/connect", h.route("oauth_connect_request", h.handleConnectRequest))

	mux.Handle("GET /auth/association/preview", h.route("association_preview", h.handleAssociationPreview))
	mux.Handle("POST /auth/association/challenge", h.route("association_challenge", h.handleAssociationChallenge))
	mux.Handle("POST /auth/association/confirm", h.route("association_confirm", h.handleAssociationConfirm))
	mux.Handle("POST /auth/association/reject", h.route("association_reject", h.handleAssociationReject))

	mux.Handle("GET /me", h.route("me", h.handleMe))
	mux.Handle("POST /me/password", h.route("me_update_password", h.handleUpdatePassword))
	mux.Handle("POST /me/email/verification", h.route("me_email_verification_request", h.handleEmailVerificationRequest))
	mux.Handle("POST /me/email/verification/confirm", h.route("me_email_verification_confirm", h.handleEmailVerificationConfirm))
	mux.Handle("GET /me/identities", h.route("me_identities", h.handleIdentities))
	mux.Handle("POST /me/identities/{provider}/connect", h.route("me_connect_ticket", h.handleConnectTicket))
	mux.Handle("DELETE /me/identities/{provider}", h.route("me_unlink", h.handleUnlink))
}

// errRedirected means the handler already answered with a redirect carrying the outcome.
var errRedirected = errors.New("redirected")

// route wraps fn in a span and turns its error into the wire response.
func (h *Handler) route(op string, fn func(http.ResponseWriter, *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "auth."+op,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.route", r.Pattern)))
		defer span.End()
		r = r.WithContext(ctx)

		err := fn(w, r)
		switch {
		case err == nil:
			h.observe(op, "OK")
		case errors.Is(err, errRedirected):
		default:
			h.fail(w, r, op, err)
		}
	})
}

func (h *Handler) observe(op, code string) {
	if h.rec != nil {
		h.rec.ObserveAuth(op, code)
	}
}

func requireClient(r *http.Request) (flows.Client, error) {
	c, ok := clientOf(r)
	if !ok {
		return "", codes.New(codes.InvalidRequest)
	}
	return c, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		return codes.New(codes.InvalidRequest)
	}
	return nil
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst)
	if err == nil || errors.Is(err, errEmptyBody) {
		return nil
	}
	return codes.New(codes.InvalidRequest)
}

func (h *Handler) ip(r *http.Request) string { return clientIP(r, h.cfg.TrustProxy) }

// issueSession hands a new login session to the client.
func (h *Handler) issueSession(w http.ResponseWriter, client flows.Client, issued session.Issued) {
	if client == flows.ClientWeb {
		h.setCookie(w, h.cfg.SessionCookie, issued.Token, issued.Session.ExpiresAt)
	}
}

// holdFlow hands an ephemeral token to a web client. The cookie has no
// expiry of its own; the server enforces the session lifetime.
func (h *Handler) holdFlow(w http.ResponseWriter, client flows.Client, cookie, tok string) {
	if client == flows.ClientWeb {
		h.setCookie(w, cookie, tok, time.Time{})
	}
}

func (h *Handler) dropFlow(w http.ResponseWriter, client flows.Client, cookie string) {
	if client == flows.ClientWeb {
		h.expireCookie(w, cookie)
	}
}

// authenticate resolves the caller's login session. Web clients get their
// cookie re-issued when the session was extended, and dropped when it is gone.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, client flows.Client) (flows.Auth, error) {
	tok := h.sessionToken(r, client)
	if tok == "" {
		return flows.Auth{}, codes.New(codes.SessionInvalid)
	}
	a, err := h.svc.Authenticate(r.Context(), tok)
	if err != nil {
		if codes.Has(err, codes.SessionInvalid) || codes.Has(err, codes.SessionExpired) {
			h.dropFlow(w, client, h.cfg.SessionCookie)
		}
		return flows.Auth{}, err
	}
	if a.Session.Refreshed && client == flows.ClientWeb {
		h.setCookie(w, h.cfg.SessionCookie, tok, a.Session.ExpiresAt)
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("auth.user_id", a.User.ID))
	return a, nil
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}

	res, err := h.svc.Login(r.Context(), h.ip(r), req.Email, req.Password)
	if err != nil {
		h.auditLoginFailed(r, req.Email, err)
		return err
	}
	h.audit(r, "auth.login.success", res.User.ID)

	h.issueSession(w, client, res.Session)
	writeJSON(w, http.StatusOK, toLoginResponse(res, client))
	return nil
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	if tok := h.sessionToken(r, client); tok != "" {
		if err := h.svc.Logout(r.Context(), tok); err != nil {
			return err
		}
	}
	h.dropFlow(w, client, h.cfg.SessionCookie)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	a, err := h.authenticate(w, r, client)
	if err != nil {
		return err
	}
	if err := h.svc.LogoutAll(r.Context(), a.User.ID); err != nil {
		return err
	}
	h.audit(r, "auth.logout_all", a.User.ID)
	h.dropFlow(w, client, h.cfg.SessionCookie)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handleSignupRequest(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req emailRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}
	p, err := h.svc.SignupRequest(r.Context(), h.ip(r), req.Email)
	if err != nil {
		return err
	}
	h.holdFlow(w, client, h.cfg.SignupCookie, p.Token)
	writeJSON(w, http.StatusOK, toPendingResponse(p, client))
	return nil
}

func (h *Handler) handleSignupVerifyEmail(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req codeRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}
	tok := h.flowToken(r, client, h.cfg.SignupCookie, req.Token)
	if err := h.svc.SignupVerifyEmail(r.Context(), tok, req.Code); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handleSignupConfirm(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req signupConfirmRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}
	res, err := h.svc.SignupConfirm(r.Context(), h.ip(r), flows.SignupInput{
		Token:    h.flowToken(r, client, h.cfg.SignupCookie, req.Token),
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	h.audit(r, "auth.signup", res.User.ID)

	h.dropFlow(w, client, h.cfg.SignupCookie)
	h.issueSession(w, client, res.Session)
	writeJSON(w, http.StatusCreated, toLoginResponse(res, client))
	return nil
}

func (h *Handler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req emailRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}
	p, err := h.svc.PasswordResetRequest(r.Context(), h.ip(r), req.Email)
	if err != nil {
		return err
	}
	h.holdFlow(w, client, h.cfg.PasswordResetCookie, p.Token)
	writeJSON(w, http.StatusOK, toPendingResponse(p, client))
	return nil
}

func (h *Handler) handlePasswordResetVerifyEmail(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req codeRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}
	tok := h.flowToken(r, client, h.cfg.PasswordResetCookie, req.Token)
	if err := h.svc.PasswordResetVerifyEmail(r.Context(), tok, req.Code); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handlePasswordResetComplete(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req passwordResetCompleteRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}
	tok := h.flowToken(r, client, h.cfg.PasswordResetCookie, req.Token)
	res, err := h.svc.PasswordResetComplete(r.Context(), h.ip(r), tok, req.NewPassword)
	if err != nil {
		return err
	}
	h.audit(r, "auth.password_reset", res.User.ID)

	h.dropFlow(w, client, h.cfg.PasswordResetCookie)
	h.issueSession(w, client, res.Session)
	writeJSON(w, http.StatusOK, toLoginResponse(res, client))
	return nil
}
