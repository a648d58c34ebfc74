package authapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/accountlink"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/flows"
)

// safeRedirectPath accepts only same-app absolute paths.
func safeRedirectPath(p string) bool {
	if p == "" {
		return true
	}
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// appTarget joins the client's app base with the path carried in the state.
func (h *Handler) appTarget(st flows.OAuthState, params url.Values) string {
	base := h.cfg.WebAppURL
	if st.Client == flows.ClientMobile {
		base = h.cfg.MobileAppURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	if st.Redirect != "" {
		if ref, err := url.Parse(st.Redirect); err == nil {
			u = u.ResolveReference(ref)
		}
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// oauthTarget reads the client type and app path of a browser navigation.
func oauthTarget(r *http.Request) (flows.Client, string, error) {
	q := r.URL.Query()
	client := flows.Client(q.Get("client"))
	if client == "" {
		client = flows.ClientWeb
	}
	redirect := q.Get("redirect_uri")
	if !safeRedirectPath(redirect) {
		return "", "", codes.New(codes.InvalidRequest)
	}
	return client, redirect, nil
}

// toProvider sends the browser to the consent page. The verifier rides in a
// cookie for both client types: the whole round trip happens in a browser.
func (h *Handler) toProvider(w http.ResponseWriter, r *http.Request, start flows.OAuthStart) {
	h.setCookie(w, h.cfg.VerifierCookie, start.Verifier, h.now().Add(h.cfg.VerifierTTL))
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, start.URL, http.StatusFound)
}

func (h *Handler) handleOAuthRequest(w http.ResponseWriter, r *http.Request) error {
	client, redirect, err := oauthTarget(r)
	if err != nil {
		return err
	}
	start, err := h.svc.OAuthRequest(r.Context(), h.ip(r), identity.Provider(r.PathValue("provider")), client, redirect)
	if err != nil {
		return err
	}
	h.toProvider(w, r, start)
	return nil
}

// handleConnectRequest is opened in a browser with a ticket from
// POST /me/identities/{provider}/connect.
func (h *Handler) handleConnectRequest(w http.ResponseWriter, r *http.Request) error {
	client, redirect, err := oauthTarget(r)
	if err != nil {
		return err
	}
	p := identity.Provider(r.PathValue("provider"))
	start, err := h.svc.ConnectRequest(r.Context(), h.ip(r), r.URL.Query().Get("ticket"), p, client, redirect)
	if err != nil {
		return err
	}
	h.toProvider(w, r, start)
	return nil
}

func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	verifier := cookieValue(r, h.cfg.VerifierCookie)
	h.expireCookie(w, h.cfg.VerifierCookie)

	p := identity.Provider(r.PathValue("provider"))
	res, err := h.svc.OAuthCallback(r.Context(), h.ip(r), p, flows.OAuthCallbackInput{
		State:         q.Get("state"),
		Code:          q.Get("code"),
		Verifier:      verifier,
		ProviderError: q.Get("error"),
	})
	if res.State.Client == "" {
		// No verified state: there is no trustworthy place to send the user.
		return err
	}

	const op = "oauth_callback"
	params := url.Values{}
	if err != nil {
		ce, ok := codes.From(err)
		if !ok {
			return err
		}
		h.observe(op, string(ce.Code))
		params.Set("error", string(ce.Code))
		http.Redirect(w, r, h.appTarget(res.State, params), http.StatusFound)
		return errRedirected
	}

	client := res.State.Client
	params.Set("outcome", res.Outcome.String())
	switch res.Outcome {
	case accountlink.OutcomeConnected:
		h.audit(r, "auth.connect", res.User.ID, "provider", string(p))
	case accountlink.OutcomeLinkRequired:
		h.holdFlow(w, client, h.cfg.AssociationCookie, res.Association.Token)
		if client == flows.ClientMobile {
			params.Set("association_token", res.Association.Token)
		}
	default:
		h.audit(r, "auth.oauth."+res.Outcome.String(), res.User.ID)
		h.issueSession(w, client, res.Session)
		if client == flows.ClientMobile {
			params.Set("session_token", res.Session.Token)
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.appTarget(res.State, params), http.StatusFound)
	return nil
}

func (h *Handler) handleAssociationPreview(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	sum, err := h.svc.AssociationPreview(r.Context(), h.flowToken(r, client, h.cfg.AssociationCookie, ""))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, associationPreviewResponse{
		Provider:    sum.Provider,
		MaskedEmail: sum.MaskedEmail,
		ExpiresAt:   sum.ExpiresAt,
	})
	return nil
}

func (h *Handler) handleAssociationChallenge(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req tokenRequest
	if err := h.decodeOptional(w, r, &req); err != nil {
		return err
	}
	p, err := h.svc.AssociationChallenge(r.Context(), h.flowToken(r, client, h.cfg.AssociationCookie, req.Token))
	if err != nil {
		return err
	}
	h.holdFlow(w, client, h.cfg.AssociationCookie, p.Token)
	writeJSON(w, http.StatusOK, toPendingResponse(p, client))
	return nil
}

func (h *Handler) handleAssociationConfirm(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req codeRequest
	if err := h.decode(w, r, &req); err != nil {
		return err
	}
	res, err := h.svc.AssociationConfirm(r.Context(), h.flowToken(r, client, h.cfg.AssociationCookie, req.Token), req.Code)
	if err != nil {
		return err
	}
	h.audit(r, "auth.association.confirm", res.User.ID)

	h.dropFlow(w, client, h.cfg.AssociationCookie)
	h.issueSession(w, client, res.Session)
	writeJSON(w, http.StatusOK, toLoginResponse(res, client))
	return nil
}

func (h *Handler) handleAssociationReject(w http.ResponseWriter, r *http.Request) error {
	client, err := requireClient(r)
	if err != nil {
		return err
	}
	var req tokenRequest
	if err := h.decodeOptional(w, r, &req); err != nil {
		return err
	}
	if err := h.svc.AssociationReject(r.Context(), h.flowToken(r, client, h.cfg.AssociationCookie, req.Token)); err != nil {
		return err
	}
	h.dropFlow(w, client, h.cfg.AssociationCookie)
	w.WriteHeader(http.StatusNoContent)
	return nil
}
