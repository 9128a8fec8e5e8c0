package jwtx

import (
	"context"
	"crypto/rsa"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoKey reports that a kid is not present in the cached key set.
	ErrNoKey = errors.New("jwtx: key not found")

	// ErrProviderUnavailable reports that the key set could not be fetched
	// and no cached keys were usable.
	ErrProviderUnavailable = errors.New("jwtx: key provider unavailable")
)

// FetchFunc retrieves the identity provider's current JWKS.
type FetchFunc func(ctx context.Context) (JWKS, error)

// Default cache windows. Within TTL keys are served from memory; between
// TTL and HardTTL a failed refetch falls back to the stale copy.
const (
	DefaultKeyTTL     = time.Hour
	DefaultKeyHardTTL = 24 * time.Hour
)

// CachedKeySet caches the identity provider's verification keys, keyed by
// kid. Refreshes go through a singleflight group so concurrent callers
// hitting the same expired state share one outbound JWKS fetch.
type CachedKeySet struct {
	fetch   FetchFunc
	ttl     time.Duration
	hardTTL time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	group singleflight.Group
	now   func() time.Time
}

// NewCachedKeySet builds an empty cache around fetch. Zero durations take
// the package defaults. No fetch happens until the first Get.
func NewCachedKeySet(fetch FetchFunc, ttl, hardTTL time.Duration) *CachedKeySet {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	if hardTTL <= 0 {
		hardTTL = DefaultKeyHardTTL
	}
	return &CachedKeySet{
		fetch:   fetch,
		ttl:     ttl,
		hardTTL: hardTTL,
		now:     time.Now,
	}
}

// Get returns the public key for kid, refreshing the cache when stale.
// A fresh cache that simply lacks the kid returns ErrNoKey without a
// refetch; callers decide whether to force one (see Verifier).
func (k *CachedKeySet) Get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.keys[kid]
	fresh := k.fetchedAt.Add(k.ttl).After(k.now())
	k.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if !fresh {
		if err := k.Refresh(ctx); err != nil {
			// Stale-but-present keys still serve until hard expiry.
			k.mu.RLock()
			key, ok = k.keys[kid]
			withinHard := k.fetchedAt.Add(k.hardTTL).After(k.now())
			k.mu.RUnlock()
			if ok && withinHard {
				return key, nil
			}
			return nil, err
		}
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	return nil, ErrNoKey
}

// Refresh fetches the JWKS and replaces the cached keys. Concurrent calls
// collapse into a single outbound fetch.
func (k *CachedKeySet) Refresh(ctx context.Context) error {
	_, err, _ := k.group.Do("jwks", func() (any, error) {
		set, err := k.fetch(ctx)
		if err != nil {
			return nil, errors.Join(ErrProviderUnavailable, err)
		}
		keys, err := keysFromJWKS(set)
		if err != nil {
			return nil, err
		}

		k.mu.Lock()
		k.keys = keys
		k.fetchedAt = k.now()
		k.mu.Unlock()
		return nil, nil
	})
	return err
}

// IsReady reports whether at least one key has been loaded.
func (k *CachedKeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) > 0
}
