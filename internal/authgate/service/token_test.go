package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opsledger/authgate/internal/authgate/store"
	"github.com/opsledger/authgate/pkg/cryptox"
	"github.com/opsledger/authgate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestSignInProvisionsLocalUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	acc, _ := env.signIn(t, "alice@example.com", "Alice")

	u, err := env.store.Users().GetUserByID(ctx, acc.id)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)
	require.Equal(t, "Alice", u.Name)
	require.NotNil(t, u.LastLoginAt, "sign-in stamps last_login_at")
}

func TestSignInBadPassword(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.idp.register("alice@example.com", "Alice", "password1")

	_, err := env.tokens.SignIn(context.Background(), "alice@example.com", "nope")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignUpExistingAccountStillNeedsPassword(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	pair, err := env.tokens.SignUp(ctx, "bob@example.com", "Bob", "secret-pw")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	// Signing up again with the right password resolves to the same account.
	_, err = env.tokens.SignUp(ctx, "bob@example.com", "Bob", "secret-pw")
	require.NoError(t, err)

	// But the wrong password fails at the grant, not at registration.
	_, err = env.tokens.SignUp(ctx, "bob@example.com", "Bob", "wrong-pw")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	_, opaque := env.signIn(t, "alice@example.com", "Alice")

	pair, err := env.tokens.Refresh(ctx, opaque)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEqual(t, opaque, pair.RefreshToken, "rotation mints a new opaque token")

	// The successor is linked to its predecessor and carries a fresh
	// upstream token.
	old, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(opaque))
	require.NoError(t, err)
	require.True(t, old.Revoked)

	successor, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, old.ID, successor.ParentID)
	require.False(t, successor.Revoked)
	require.NotEqual(t, old.IdPRefreshToken, successor.IdPRefreshToken)

	// The successor itself redeems fine.
	_, err = env.tokens.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshReuseRevokesChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	_, root := env.signIn(t, "alice@example.com", "Alice")

	first, err := env.tokens.Refresh(ctx, root)
	require.NoError(t, err)
	second, err := env.tokens.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	// Replaying the root nukes everything, including the live tip.
	_, err = env.tokens.Refresh(ctx, root)
	require.ErrorIs(t, err, ErrRefreshReuseDetected)

	tip, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(second.RefreshToken))
	require.NoError(t, err)
	require.True(t, tip.Revoked, "reuse revokes the whole chain")
}

func TestRefreshReplayOfExpiredRevokedTokenKillsChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	// Mint a short-lived root and rotate it while still valid; the successor
	// gets the normal long TTL.
	env.tokens.RefreshTTL = 200 * time.Millisecond
	_, root := env.signIn(t, "alice@example.com", "Alice")

	env.tokens.RefreshTTL = 24 * time.Hour
	successor, err := env.tokens.Refresh(ctx, root)
	require.NoError(t, err)

	// Let the root's own window lapse. The revoked row outlives it.
	time.Sleep(250 * time.Millisecond)

	// Replaying the expired, revoked root is still replay evidence and
	// outranks the expiry check.
	_, err = env.tokens.Refresh(ctx, root)
	require.ErrorIs(t, err, ErrRefreshReuseDetected)

	// The long-lived successor died with the chain.
	_, err = env.tokens.Refresh(ctx, successor.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshReuseDetected)
}

func TestRefreshUnknownToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.tokens.Refresh(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrUnknownRefreshToken)
}

func TestRefreshProviderOutageLeavesChainIntact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	_, opaque := env.signIn(t, "alice@example.com", "Alice")

	env.idp.mu.Lock()
	env.idp.down = true
	env.idp.mu.Unlock()

	_, err := env.tokens.Refresh(ctx, opaque)
	require.ErrorIs(t, err, ErrProviderUnavailable)

	// The same token redeems once the provider is back.
	env.idp.mu.Lock()
	env.idp.down = false
	env.idp.mu.Unlock()

	_, err = env.tokens.Refresh(ctx, opaque)
	require.NoError(t, err)
}

func TestRefreshUpstreamInvalidGrantKillsChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	_, opaque := env.signIn(t, "alice@example.com", "Alice")

	// Kill the upstream session out-of-band (e.g. admin console logout).
	rec, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(opaque))
	require.NoError(t, err)
	require.NoError(t, env.idp.RevokeRefreshToken(ctx, rec.IdPRefreshToken))

	_, err = env.tokens.Refresh(ctx, opaque)
	require.ErrorIs(t, err, ErrUnknownRefreshToken)

	rec, err = env.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(opaque))
	require.NoError(t, err)
	require.True(t, rec.Revoked)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	_, opaque := env.signIn(t, "alice@example.com", "Alice")

	const redeemers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.tokens.Refresh(ctx, opaque)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				require.ErrorIs(t, err, ErrRefreshReuseDetected)
				failures++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes, "exactly one concurrent redeemer wins")
	require.Equal(t, redeemers-1, failures)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	_, opaque := env.signIn(t, "alice@example.com", "Alice")

	require.NoError(t, env.tokens.Logout(ctx, opaque))

	rec, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(opaque))
	require.NoError(t, err)
	require.True(t, rec.Revoked)
	require.True(t, env.idp.revoked[rec.IdPRefreshToken], "logout propagates upstream")

	// Logging out again, or with a token that never existed, is a no-op.
	require.NoError(t, env.tokens.Logout(ctx, opaque))
	require.NoError(t, env.tokens.Logout(ctx, "never-issued"))
}

func TestLogoutRevokesWholeChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	_, root := env.signIn(t, "alice@example.com", "Alice")

	pair, err := env.tokens.Refresh(ctx, root)
	require.NoError(t, err)

	// Logging out with the stale predecessor still ends the live session.
	require.NoError(t, env.tokens.Logout(ctx, root))

	_, err = env.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshReuseDetected)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	acc := env.idp.register("alice@example.com", "Alice", "password1")

	resp, err := env.idp.AuthenticateUser(ctx, "alice@example.com", "password1")
	require.NoError(t, err)

	claims, err := env.tokens.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, acc.id, claims.Subject)
	require.Equal(t, "alice@example.com", claims.Email)

	_, err = env.tokens.Validate(ctx, "not-a-jwt")
	require.ErrorIs(t, err, jwtx.ErrMalformed)
}

func TestSignInExpiredTokensAreHousekept(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	_, opaque := env.signIn(t, "alice@example.com", "Alice")

	// Not expired yet, housekeeping keeps it.
	require.NoError(t, env.store.RefreshTokens().DeleteExpiredRefreshTokens(ctx))
	_, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(opaque))
	require.NoError(t, err)
	require.NotErrorIs(t, err, store.ErrNotFound)
}
