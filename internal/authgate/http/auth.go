package http

import (
	"encoding/json"
	"net/http"

	"github.com/opsledger/authgate/internal/authgate/domain"
	"github.com/opsledger/authgate/internal/authgate/service"
	"github.com/opsledger/authgate/pkg/httpx"
)

// AuthHandler serves the credential lifecycle endpoints under /v1/auth.
// Token pairs go out both in the JSON body and as session cookies.
type AuthHandler struct {
	Tokens  *service.TokenService
	Cookies *CookieManager
}

type signUpRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleSignUp serves POST /v1/auth/sign-up.
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.ErrInvalidJSON.Write(w)
		return
	}

	pair, err := h.Tokens.SignUp(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.writePair(w, http.StatusCreated, pair)
}

// HandleSignIn serves POST /v1/auth/sign-in/password.
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.ErrInvalidJSON.Write(w)
		return
	}

	pair, err := h.Tokens.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.writePair(w, http.StatusOK, pair)
}

// HandleRefresh serves POST /v1/auth/refresh. The refresh token comes from
// the JSON body, or from the refresh cookie for browser clients.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	opaque, ok := h.refreshTokenFromRequest(r)
	if !ok {
		httpx.NewAPIError(http.StatusBadRequest, "invalid_request",
			"refresh_token is required (body or cookie)").Write(w)
		return
	}

	pair, err := h.Tokens.Refresh(r.Context(), opaque)
	if err != nil {
		// A dead chain means any session cookies are dead too.
		h.Cookies.ClearSession(w)
		writeServiceError(w, r, err)
		return
	}

	h.writePair(w, http.StatusOK, pair)
}

// HandleLogout serves POST /v1/auth/logout. Idempotent: unknown or missing
// tokens still clear the cookies and return success.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if opaque, ok := h.refreshTokenFromRequest(r); ok {
		if err := h.Tokens.Logout(r.Context(), opaque); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	h.Cookies.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

type validateResponse struct {
	Active bool   `json:"active"`
	Sub    string `json:"sub,omitempty"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source,omitempty"`
}

// HandleValidate serves GET /v1/auth/validate. An explicit ?token= wins;
// otherwise the credential is resolved the same way the authn middleware
// does, and the verified subject is reported.
func (h *AuthHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	source := "query"
	if token == "" {
		cred := httpx.ResolveCredential(r, AccessCookieName)
		if cred.Source == httpx.SourceAbsent {
			httpx.NewAPIError(http.StatusUnauthorized, "invalid_token",
				"no credential presented").Write(w)
			return
		}
		token = cred.Token
		source = cred.Source.String()
	}

	claims, err := h.Tokens.Validate(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, validateResponse{
		Active: true,
		Sub:    claims.Subject,
		Email:  claims.Email,
		Source: source,
	})
}

func (h *AuthHandler) refreshTokenFromRequest(r *http.Request) (string, bool) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken, true
	}
	if c, err := r.Cookie(RefreshCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func (h *AuthHandler) writePair(w http.ResponseWriter, status int, pair *domain.TokenPair) {
	h.Cookies.SetSession(w, pair)
	httpx.NoCache(w)
	httpx.WriteJSON(w, status, pair)
}
