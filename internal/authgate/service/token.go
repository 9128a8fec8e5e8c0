package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/opsledger/authgate/internal/authgate/domain"
	"github.com/opsledger/authgate/internal/authgate/idp"
	"github.com/opsledger/authgate/internal/authgate/store"
	"github.com/opsledger/authgate/pkg/cryptox"
	"github.com/opsledger/authgate/pkg/idx"
	"github.com/opsledger/authgate/pkg/jwtx"
	"github.com/opsledger/authgate/pkg/slogx"
)

// maxChainWalk bounds the successor walk during chain revocation so a
// corrupted parent link can never loop forever.
const maxChainWalk = 100

// IdentityProvider is the slice of the upstream provider the services use.
// *idp.Client satisfies it; tests substitute a local double.
type IdentityProvider interface {
	AuthenticateUser(ctx context.Context, email, password string) (*idp.TokenResponse, error)
	RefreshGrant(ctx context.Context, refreshToken string) (*idp.TokenResponse, error)
	RevokeRefreshToken(ctx context.Context, refreshToken string) error
	CreateUser(ctx context.Context, email, name, password string) (string, error)
	GetUserByID(ctx context.Context, id string) (*idp.User, error)
}

// TokenService owns the credential lifecycle: sign-up and sign-in against
// the identity provider, local refresh token rotation chains, logout, and
// access token validation.
type TokenService struct {
	Store      store.Store
	IdP        IdentityProvider
	Verifier   *jwtx.Verifier
	RefreshTTL time.Duration
}

// SignUp registers the user upstream and then signs them in. Registration
// against an already-existing account resolves to that account, so the
// password grant below is what actually decides success.
func (s *TokenService) SignUp(ctx context.Context, email, name, password string) (*domain.TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	if _, err := s.IdP.CreateUser(ctx, email, name, password); err != nil {
		return nil, mapIdPError(err)
	}

	return s.SignIn(ctx, email, password)
}

// SignIn performs a password grant, provisions the local user row on first
// contact, and mints the root of a new refresh rotation chain.
func (s *TokenService) SignIn(ctx context.Context, email, password string) (*domain.TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	resp, err := s.IdP.AuthenticateUser(ctx, email, password)
	if err != nil {
		return nil, mapIdPError(err)
	}

	// The access token carries the provider-assigned subject; verifying it
	// is also what pins the local user id to a signed assertion.
	claims, err := s.Verifier.Verify(ctx, resp.AccessToken)
	if err != nil {
		if errors.Is(err, jwtx.ErrProviderUnavailable) {
			return nil, ErrProviderUnavailable
		}
		return nil, err
	}

	if err := s.ensureLocalUser(ctx, claims); err != nil {
		return nil, err
	}
	if err := s.Store.Users().UpdateLastLogin(ctx, claims.Subject); err != nil {
		return nil, err
	}

	opaque, err := s.mintChainRoot(ctx, claims.Subject, resp.RefreshToken)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: opaque,
		TokenType:    "Bearer",
		ExpiresIn:    resp.ExpiresIn,
	}, nil
}

// Refresh redeems a local opaque refresh token: exchange upstream first,
// then rotate locally. The upstream call happens before any local mutation
// so a provider outage leaves the chain fully intact for a retry.
func (s *TokenService) Refresh(ctx context.Context, opaque string) (*domain.TokenPair, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	fp := cryptox.FingerprintToken(opaque)
	rec, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownRefreshToken
		}
		return nil, err
	}
	// A revoked token showing up again means the opaque value leaked or the
	// client is replaying. Kill every live descendant of the chain. This
	// outranks the expiry check: a replayed token is replay evidence even
	// after its own window has passed, and successors carry fresh TTLs.
	if rec.Revoked {
		if err := s.Store.WithTx(ctx, func(tx store.Tx) error {
			return revokeChain(ctx, tx, rec)
		}); err != nil {
			return nil, err
		}
		l.Warn("refresh token reuse detected, chain revoked",
			"user_id", rec.UserID, "token_id", rec.ID)
		return nil, ErrRefreshReuseDetected
	}

	if now.After(rec.ExpiresAt) {
		return nil, ErrUnknownRefreshToken
	}

	upstream, err := s.IdP.RefreshGrant(ctx, rec.IdPRefreshToken)
	if err != nil {
		if errors.Is(err, idp.ErrInvalidGrant) {
			// Upstream session is dead; the local chain is worthless.
			if txErr := s.Store.WithTx(ctx, func(tx store.Tx) error {
				return revokeChain(ctx, tx, rec)
			}); txErr != nil {
				return nil, txErr
			}
			return nil, ErrUnknownRefreshToken
		}
		return nil, mapIdPError(err)
	}

	newOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	successor := domain.RefreshToken{
		ID:              idx.New().String(),
		UserID:          rec.UserID,
		TokenHash:       cryptox.FingerprintToken(newOpaque),
		ParentID:        rec.ID,
		IdPRefreshToken: upstream.RefreshToken,
		ExpiresAt:       now.Add(s.RefreshTTL),
	}

	var lostRace bool
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		won, err := tx.RefreshTokens().RevokeRefreshTokenIfActive(ctx, rec.ID)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent redeemer rotated first. Indistinguishable from
			// replay, so the whole chain goes.
			lostRace = true
			return revokeChain(ctx, tx, rec)
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, successor)
	})
	if err != nil {
		return nil, err
	}
	if lostRace {
		// Best effort: the upstream pair we just minted has no owner.
		if err := s.IdP.RevokeRefreshToken(ctx, upstream.RefreshToken); err != nil {
			l.Warn("failed to revoke orphaned upstream token", "err", err)
		}
		l.Warn("concurrent refresh lost rotation race, chain revoked",
			"user_id", rec.UserID, "token_id", rec.ID)
		return nil, ErrRefreshReuseDetected
	}

	return &domain.TokenPair{
		AccessToken:  upstream.AccessToken,
		RefreshToken: newOpaque,
		TokenType:    "Bearer",
		ExpiresIn:    upstream.ExpiresIn,
	}, nil
}

// Logout revokes the presented refresh token's chain locally and ends the
// upstream session. Unknown tokens are a no-op, logout is idempotent.
func (s *TokenService) Logout(ctx context.Context, opaque string) error {
	l := slogx.FromContext(ctx)

	fp := cryptox.FingerprintToken(opaque)
	rec, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		return revokeChain(ctx, tx, rec)
	}); err != nil {
		return err
	}

	// Upstream revocation is best effort; the local chain is already dead.
	if rec.IdPRefreshToken != "" {
		if err := s.IdP.RevokeRefreshToken(ctx, rec.IdPRefreshToken); err != nil {
			l.Warn("upstream logout failed", "user_id", rec.UserID, "err", err)
		}
	}
	return nil
}

// Validate verifies an access token and returns its claims.
func (s *TokenService) Validate(ctx context.Context, accessToken string) (jwtx.Claims, error) {
	claims, err := s.Verifier.Verify(ctx, accessToken)
	if err != nil {
		if errors.Is(err, jwtx.ErrProviderUnavailable) {
			return jwtx.Claims{}, ErrProviderUnavailable
		}
		return jwtx.Claims{}, err
	}
	return claims, nil
}

// ensureLocalUser provisions the local user row from verified claims on
// first sign-in.
func (s *TokenService) ensureLocalUser(ctx context.Context, claims jwtx.Claims) error {
	_, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	err = s.Store.Users().CreateUser(ctx, domain.User{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		// Concurrent first sign-in; someone else won the insert.
		return nil
	}
	return err
}

// mintChainRoot stores a fresh rotation chain root and returns its opaque value.
func (s *TokenService) mintChainRoot(ctx context.Context, userID, idpRefreshToken string) (string, error) {
	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	rt := domain.RefreshToken{
		ID:              idx.New().String(),
		UserID:          userID,
		TokenHash:       cryptox.FingerprintToken(opaque),
		IdPRefreshToken: idpRefreshToken,
		ExpiresAt:       time.Now().Add(s.RefreshTTL),
	}
	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return "", err
	}
	return opaque, nil
}

// revokeChain revokes rec and walks forward through its successors revoking
// each. Ancestors are already revoked by construction, so a forward walk
// covers every live token in the chain.
func revokeChain(ctx context.Context, tx store.Tx, rec domain.RefreshToken) error {
	cur := rec
	for i := 0; i < maxChainWalk; i++ {
		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, cur.ID); err != nil {
			return err
		}
		child, err := tx.RefreshTokens().GetChildRefreshToken(ctx, cur.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		cur = child
	}
	return nil
}

func mapIdPError(err error) error {
	switch {
	case errors.Is(err, idp.ErrInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, idp.ErrUnavailable):
		return ErrProviderUnavailable
	default:
		return err
	}
}
