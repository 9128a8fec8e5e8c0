package http

import (
	"errors"
	"net/http"

	"github.com/opsledger/authgate/internal/authgate/service"
	"github.com/opsledger/authgate/pkg/httpx"
	"github.com/opsledger/authgate/pkg/jwtx"
	"github.com/opsledger/authgate/pkg/slogx"
)

// writeServiceError maps service sentinels onto the wire error taxonomy.
// Anything unmapped is a 500 and gets logged with the real cause.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.NewAPIError(http.StatusUnauthorized, "invalid_credentials",
			"email or password is incorrect").Write(w)
	case errors.Is(err, service.ErrUnknownRefreshToken):
		httpx.NewAPIError(http.StatusUnauthorized, "invalid_refresh_token",
			"refresh token is unknown, expired, or revoked").Write(w)
	case errors.Is(err, service.ErrRefreshReuseDetected):
		httpx.NewAPIError(http.StatusUnauthorized, "invalid_refresh_token",
			"refresh token has already been used; session revoked").Write(w)
	case errors.Is(err, service.ErrProviderUnavailable):
		httpx.NewAPIError(http.StatusBadGateway, "provider_unavailable",
			"identity provider is unavailable, try again later").Write(w)
	case errors.Is(err, service.ErrNotFound):
		httpx.NewAPIError(http.StatusNotFound, "not_found",
			"resource does not exist").Write(w)
	case errors.Is(err, service.ErrNotAMember):
		httpx.NewAPIError(http.StatusForbidden, "not_a_member",
			"caller is not a member of this organization").Write(w)
	case errors.Is(err, service.ErrForbidden):
		httpx.NewAPIError(http.StatusForbidden, "forbidden",
			"caller is not allowed to perform this operation").Write(w)
	case errors.Is(err, service.ErrConflict):
		httpx.NewAPIError(http.StatusConflict, "conflict",
			"resource already exists").Write(w)
	case errors.Is(err, service.ErrInvalidInvite):
		httpx.NewAPIError(http.StatusUnprocessableEntity, "invalid_invite",
			"invite token is unknown, expired, used, or issued to another address").Write(w)
	case errors.Is(err, service.ErrInvalidInput):
		httpx.NewAPIError(http.StatusUnprocessableEntity, "invalid_input",
			"request fields failed validation").Write(w)
	case errors.Is(err, jwtx.ErrExpired):
		httpx.NewAPIError(http.StatusUnauthorized, "invalid_token",
			"token expired").Write(w)
	case errors.Is(err, jwtx.ErrMalformed),
		errors.Is(err, jwtx.ErrInvalidSig),
		errors.Is(err, jwtx.ErrUnknownKID),
		errors.Is(err, jwtx.ErrNotYetValid),
		errors.Is(err, jwtx.ErrIssuer):
		httpx.NewAPIError(http.StatusUnauthorized, "invalid_token",
			"token verification failed").Write(w)
	default:
		slogx.FromContext(r.Context()).Error("unhandled service error", "err", err)
		httpx.ErrServerError.Write(w)
	}
}
