package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/opsledger/authgate/pkg/jwtx"
	"github.com/opsledger/authgate/pkg/slogx"
)

// AuthnMiddleware resolves the bearer credential (header over cookie),
// verifies it against the identity provider's keys and injects the subject
// into the request context. Requests without a valid credential never reach
// the wrapped handler.
func AuthnMiddleware(v *jwtx.Verifier, cookieName string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			cred := ResolveCredential(r, cookieName)
			if cred.Source == SourceAbsent {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, err := v.Verify(ctx, cred.Token)
			if err != nil {
				switch {
				case errors.Is(err, jwtx.ErrExpired):
					writeBearerError(w, "token expired")
				case errors.Is(err, jwtx.ErrProviderUnavailable):
					log.Error("key fetch failed during verification", "err", err)
					NewAPIError(http.StatusBadGateway, "provider_unavailable",
						"identity provider keys are unavailable").Write(w)
				default:
					writeBearerError(w, "token verification failed")
				}
				log.Warn("jwt verify failed", "source", cred.Source.String(), "err", err)
				return
			}

			ctx = contextWithAuth(ctx, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contextWithAuth(ctx context.Context, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, CtxKeyUserID, c.Subject)
	ctx = context.WithValue(ctx, CtxKeyEmail, c.Email)
	ctx = context.WithValue(ctx, CtxKeyClaims, c)
	return ctx
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	NewAPIError(http.StatusUnauthorized, "invalid_token", desc).Write(w)
}
