package jwtx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func jwkFor(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func TestCachedKeySetGetFetchesOnce(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	var fetches atomic.Int32

	ks := NewCachedKeySet(func(ctx context.Context) (JWKS, error) {
		fetches.Add(1)
		return JWKS{Keys: []JWK{jwkFor("kid-1", &key.PublicKey)}}, nil
	}, time.Hour, 24*time.Hour)

	ctx := context.Background()

	got, err := ks.Get(ctx, "kid-1")
	require.NoError(t, err)
	require.Equal(t, key.PublicKey.N, got.N)

	// Fresh cache hits never refetch.
	_, err = ks.Get(ctx, "kid-1")
	require.NoError(t, err)
	require.Equal(t, int32(1), fetches.Load())

	// Fresh cache missing the kid reports ErrNoKey without a refetch.
	_, err = ks.Get(ctx, "kid-unknown")
	require.ErrorIs(t, err, ErrNoKey)
	require.Equal(t, int32(1), fetches.Load())
}

func TestCachedKeySetSingleFlight(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	var fetches atomic.Int32

	ks := NewCachedKeySet(func(ctx context.Context) (JWKS, error) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the fetch open so callers pile up
		return JWKS{Keys: []JWK{jwkFor("kid-1", &key.PublicKey)}}, nil
	}, time.Hour, 24*time.Hour)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ks.Get(context.Background(), "kid-1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), fetches.Load(), "concurrent cold gets share one fetch")
}

func TestCachedKeySetServesStaleUntilHardExpiry(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	healthy := true

	ks := NewCachedKeySet(func(ctx context.Context) (JWKS, error) {
		if !healthy {
			return JWKS{}, errors.New("connection refused")
		}
		return JWKS{Keys: []JWK{jwkFor("kid-1", &key.PublicKey)}}, nil
	}, time.Minute, time.Hour)

	ctx := context.Background()
	_, err := ks.Get(ctx, "kid-1")
	require.NoError(t, err)

	// Move past the soft TTL with the provider down: stale copy still serves.
	healthy = false
	now := time.Now()
	ks.now = func() time.Time { return now.Add(10 * time.Minute) }
	_, err = ks.Get(ctx, "kid-1")
	require.NoError(t, err)

	// Past the hard TTL the failure propagates.
	ks.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = ks.Get(ctx, "kid-1")
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestCachedKeySetIsReady(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	ks := NewCachedKeySet(func(ctx context.Context) (JWKS, error) {
		return JWKS{Keys: []JWK{jwkFor("kid-1", &key.PublicKey)}}, nil
	}, 0, 0)
	require.False(t, ks.IsReady())

	require.NoError(t, ks.Refresh(context.Background()))
	require.True(t, ks.IsReady())
}

func TestKeysFromJWKSSkipsEncryptionKeys(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t)
	sig := jwkFor("sig-key", &key.PublicKey)
	enc := jwkFor("enc-key", &key.PublicKey)
	enc.Use = "enc"

	keys, err := keysFromJWKS(JWKS{Keys: []JWK{sig, enc}})
	require.NoError(t, err)
	require.Contains(t, keys, "sig-key")
	require.NotContains(t, keys, "enc-key")
}
