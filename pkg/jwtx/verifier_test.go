package jwtx

import (
	"context"
	"crypto/rsa"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://idp.example.com/realms/main"

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func baseClaims(sub string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: sub + "@example.com",
	}
}

func staticKeySet(key *rsa.PrivateKey, kid string) *CachedKeySet {
	return NewCachedKeySet(func(ctx context.Context) (JWKS, error) {
		return JWKS{Keys: []JWK{jwkFor(kid, &key.PublicKey)}}, nil
	}, time.Hour, 24*time.Hour)
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	v := NewVerifier(staticKeySet(key, "kid-1"), testIssuer)

	raw := signToken(t, key, "kid-1", baseClaims("user-1", time.Minute))
	claims, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "user-1@example.com", claims.Email)
}

func TestVerifierRejectsMalformed(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	v := NewVerifier(staticKeySet(key, "kid-1"), testIssuer)

	_, err := v.Verify(context.Background(), "not.a.jwt")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVerifierRejectsBadSignature(t *testing.T) {
	t.Parallel()

	signing := testRSAKey(t)
	published := testRSAKey(t) // keyset publishes a different key under the same kid
	v := NewVerifier(staticKeySet(published, "kid-1"), testIssuer)

	raw := signToken(t, signing, "kid-1", baseClaims("user-1", time.Minute))
	_, err := v.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidSig)
}

func TestVerifierRejectsExpiredAndNotYetValid(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	v := NewVerifier(staticKeySet(key, "kid-1"), testIssuer)
	ctx := context.Background()

	expired := baseClaims("user-1", time.Minute)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-5 * time.Minute))
	_, err := v.Verify(ctx, signToken(t, key, "kid-1", expired))
	require.ErrorIs(t, err, ErrExpired)

	future := baseClaims("user-1", time.Hour)
	future.NotBefore = jwt.NewNumericDate(time.Now().Add(10 * time.Minute))
	_, err = v.Verify(ctx, signToken(t, key, "kid-1", future))
	require.ErrorIs(t, err, ErrNotYetValid)
}

func TestVerifierAllowsBoundedClockSkew(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	v := NewVerifier(staticKeySet(key, "kid-1"), testIssuer)

	// Expired 30s ago is inside the 60s leeway.
	skewed := baseClaims("user-1", time.Minute)
	skewed.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-30 * time.Second))
	_, err := v.Verify(context.Background(), signToken(t, key, "kid-1", skewed))
	require.NoError(t, err)
}

func TestVerifierRejectsIssuerMismatch(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	v := NewVerifier(staticKeySet(key, "kid-1"), "https://other-issuer.example.com")

	raw := signToken(t, key, "kid-1", baseClaims("user-1", time.Minute))
	_, err := v.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrIssuer)
}

func TestVerifierForcesSingleRefreshOnUnknownKid(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	var fetches atomic.Int32
	rotated := false

	ks := NewCachedKeySet(func(ctx context.Context) (JWKS, error) {
		fetches.Add(1)
		kid := "kid-old"
		if rotated {
			kid = "kid-new"
		}
		return JWKS{Keys: []JWK{jwkFor(kid, &key.PublicKey)}}, nil
	}, time.Hour, 24*time.Hour)
	v := NewVerifier(ks, testIssuer)
	ctx := context.Background()

	// Warm the cache with the old key.
	_, err := ks.Get(ctx, "kid-old")
	require.NoError(t, err)

	// Provider rotates; a token under the new kid forces exactly one refetch.
	rotated = true
	raw := signToken(t, key, "kid-new", baseClaims("user-1", time.Minute))
	claims, err := v.Verify(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, int32(2), fetches.Load())

	// A kid nobody ever published fails with ErrUnknownKID after one refresh.
	ghost := signToken(t, key, "kid-ghost", baseClaims("user-1", time.Minute))
	_, err = v.Verify(ctx, ghost)
	require.ErrorIs(t, err, ErrUnknownKID)
	require.Equal(t, int32(3), fetches.Load())
}
