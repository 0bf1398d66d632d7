package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/oauth"
)

const (
	grantTypeAuthorizationCode = "authorization_code"
	responseTypeCode           = "code"
)

// RFC 6749 error codes.
const (
	errInvalidRequest          = "invalid_request"
	errInvalidGrant            = "invalid_grant"
	errInvalidScope            = "invalid_scope"
	errUnsupportedGrantType    = "unsupported_grant_type"
	errUnsupportedResponseType = "unsupported_response_type"
	errServerError             = "server_error"
	errLoginRequired           = "login_required"
)

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()
	query := r.URL.Query()
	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	state := query.Get("state")

	client, ok, err := h.server.ValidateClient(r.Context(), clientID, redirectURI)
	if err != nil {
		h.observer.ObserveOperation(r.Context(), startedAt, "authorize", err, map[string]any{"client_id": clientID})
		writeError(w, http.StatusInternalServerError, errServerError, "")
		return
	}
	if !ok {
		// never redirect to a URI that was not registered
		h.observer.Info(r.Context(), "authorize rejected", map[string]any{"client_id": clientID, "reason": "invalid_client_or_redirect"})
		writeError(w, http.StatusBadRequest, errInvalidRequest, "unknown client or redirect_uri")
		return
	}
	if query.Get("response_type") != responseTypeCode {
		redirectError(w, r, redirectURI, errUnsupportedResponseType, state)
		return
	}

	userID, signedIn := h.users(r)
	if !signedIn || strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusUnauthorized, errLoginRequired, "")
		return
	}

	code, err := h.server.GenerateAuthorizationCode(r.Context(), client, userID, oauth.ParseScopes(query.Get("scope")))
	h.observer.ObserveOperation(r.Context(), startedAt, "authorize", err, map[string]any{"client_id": clientID})
	if errors.Is(err, oauth.ErrInvalidScope) {
		redirectError(w, r, redirectURI, errInvalidScope, state)
		return
	}
	if err != nil {
		redirectError(w, r, redirectURI, errServerError, state)
		return
	}

	params := url.Values{}
	params.Set("code", code)
	if state != "" {
		params.Set("state", state)
	}
	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}
	if grant := r.PostForm.Get("grant_type"); grant != grantTypeAuthorizationCode {
		writeError(w, http.StatusBadRequest, errUnsupportedGrantType, "")
		return
	}
	code := r.PostForm.Get("code")
	clientID, clientSecret := clientCredentials(r)
	if code == "" || clientID == "" {
		writeError(w, http.StatusBadRequest, errInvalidRequest, "code and client_id are required")
		return
	}

	bundle, err := h.server.ExchangeCode(r.Context(), code, clientID, clientSecret)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, bundle)
	case errors.Is(err, oauth.ErrInvalidGrant), errors.Is(err, oauth.ErrInvalidClient):
		writeError(w, http.StatusBadRequest, errInvalidGrant, "")
	default:
		h.observer.Error(r.Context(), "token exchange failed", map[string]any{"client_id": clientID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, errServerError, "")
	}
}

// revoke follows RFC 7009: unknown tokens still answer 200.
func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, errInvalidRequest, "token is required")
		return
	}
	if err := h.server.RevokeToken(r.Context(), token); err != nil {
		h.observer.Error(r.Context(), "token revocation failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, errServerError, "")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// clientCredentials prefers HTTP Basic auth and falls back to form fields.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		if decodedID, err := url.QueryUnescape(id); err == nil {
			id = decodedID
		}
		if decodedSecret, err := url.QueryUnescape(secret); err == nil {
			secret = decodedSecret
		}
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, code, state string) {
	params := url.Values{}
	params.Set("error", code)
	if state != "" {
		params.Set("state", state)
	}
	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

func appendQuery(target string, params url.Values) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return target
	}
	query := parsed.Query()
	for key, values := range params {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorBody{Error: code, Description: description})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
