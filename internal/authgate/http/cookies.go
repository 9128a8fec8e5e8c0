package http

import (
	"net/http"
	"time"

	"github.com/opsledger/authgate/internal/authgate/domain"
)

const (
	// AccessCookieName carries the provider's JWT for browser clients.
	AccessCookieName = "access_token"

	// RefreshCookieName carries the local opaque refresh token. It is
	// scoped to the auth routes so it never rides along on API traffic.
	RefreshCookieName = "refresh_token"

	refreshCookiePath = "/v1/auth"
)

// CookieManager mirrors issued token pairs into HttpOnly cookies, so both
// bearer-header and cookie clients work against the same endpoints.
type CookieManager struct {
	Secure     bool
	RefreshTTL time.Duration
}

// SetSession writes both session cookies from a freshly issued pair.
func (c *CookieManager) SetSession(w http.ResponseWriter, pair *domain.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(pair.ExpiresIn),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(c.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSession expires both session cookies.
func (c *CookieManager) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
