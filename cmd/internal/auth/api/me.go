package authapi

import (
	"net/http"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/flows"
)

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	a, err := h.authenticate(w, r, client)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(a.User)})
	return nil
}

func (h *Handler) handleUpdatePassword(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	a, err := h.authenticate(w, r, client)
	if err != nil {
		return err
	}
	var req updatePasswordRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}

	issued, err := h.svc.UpdatePassword(r.Context(), a.User.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return err
	}
	h.audit(r, "auth.password_update", a.User.ID)

	h.issueSession(w, client, issued)
	res := sessionResponse{ExpiresAt: issued.Session.ExpiresAt}
	if client == flows.ClientMobile {
		res.Token = issued.Token
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (h *Handler) handleEmailVerificationRequest(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	a, err := h.authenticate(w, r, client)
	if err != nil {
		return err
	}
	var req emailVerificationRequest
	if err := h.decodeOptional(w, r, &req); err != nil {
		return err
	}

	p, err := h.svc.EmailVerificationRequest(r.Context(), a.User.ID, req.Email)
	if err != nil {
		return err
	}
	h.holdFlow(w, client, h.cfg.EmailVerificationCookie, p.Token)
	writeJSON(w, http.StatusOK, toPendingResponse(p, client))
	return nil
}

func (h *Handler) handleEmailVerificationConfirm(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	a, err := h.authenticate(w, r, client)
	if err != nil {
		return err
	}
	var req codeRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}

	// The bearer already carries the login session, so mobile sends this token in the body.
	tok := req.Token
	if client == flows.ClientWeb {
		tok = cookieValue(r, h.cfg.EmailVerificationCookie)
	}
	u, err := h.svc.EmailVerificationConfirm(r.Context(), a.User.ID, tok, req.Code)
	if err != nil {
		return err
	}
	h.audit(r, "auth.email_verified", u.ID)

	h.dropFlow(w, client, h.cfg.EmailVerificationCookie)
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
	return nil
}

func (h *Handler) handleUnlink(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	a, err := h.authenticate(w, r, client)
	if err != nil {
		return err
	}
	p := identity.Provider(r.PathValue("provider"))
	if err := h.svc.Unlink(r.Context(), a.User.ID, p); err != nil {
		return err
	}
	h.audit(r, "auth.unlink", a.User.ID, "provider", string(p))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handleIdentities(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	a, err := h.authenticate(w, r, client)
	if err != nil {
		return err
	}
	conns, err := h.svc.ListConnections(r.Context(), a.User.ID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toConnectionsResponse(conns))
	return nil
}

func (h *Handler) handleConnectTicket(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	a, err := h.authenticate(w, r, client)
	if err != nil {
		return err
	}
	// Both clients get the ticket in JSON: it travels in the connect URL.
	t, err := h.svc.ConnectTicket(r.Context(), a.User.ID, identity.Provider(r.PathValue("provider")))
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, connectTicketResponse{Ticket: t.Token, ExpiresAt: t.ExpiresAt})
	return nil
}
