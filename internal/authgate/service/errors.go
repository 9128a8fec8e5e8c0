package service

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrUnknownRefreshToken covers unknown, expired, and upstream-rejected
	// refresh tokens. Callers cannot distinguish the cases on purpose.
	ErrUnknownRefreshToken = errors.New("invalid_refresh_token")

	// ErrRefreshReuseDetected reports that an already-rotated refresh token
	// was presented again. The whole rotation chain is revoked as a result.
	ErrRefreshReuseDetected = errors.New("refresh_reuse_detected")

	// ErrProviderUnavailable reports that the identity provider could not be
	// reached. Local state is left intact so the operation can be retried.
	ErrProviderUnavailable = errors.New("provider_unavailable")

	ErrNotFound      = errors.New("not_found")
	ErrNotAMember    = errors.New("not_a_member")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInvite = errors.New("invalid_invite")
	ErrInvalidInput  = errors.New("invalid_input")
)
