package jwtx

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrUnknownKID  = errors.New("jwtx: unknown signing key")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
)

// Verifier validates RS256 tokens against the cached identity provider
// key set. An unknown kid triggers exactly one forced key refresh before
// the token is rejected.
type Verifier struct {
	Keys   *CachedKeySet
	Issuer string
	Leeway time.Duration // zero means DefaultLeeway
}

func NewVerifier(keys *CachedKeySet, issuer string) *Verifier {
	return &Verifier{Keys: keys, Issuer: issuer, Leeway: DefaultLeeway}
}

// Verify parses and validates tokenStr, returning its claims.
// Failure kinds are distinct: ErrMalformed, ErrUnknownKID, ErrInvalidSig,
// ErrExpired, ErrNotYetValid, ErrIssuer, ErrProviderUnavailable.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (Claims, error) {
	leeway := v.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(leeway),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKID
		}
		return v.lookupKey(ctx, kid)
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrMalformed
	}

	if err := claims.ValidateIssuer(v.Issuer); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}

// lookupKey resolves a kid, forcing a single key refresh when the cached
// set does not know it. Still-unknown after the refresh means the token
// was signed by a key the provider no longer publishes.
func (v *Verifier) lookupKey(ctx context.Context, kid string) (any, error) {
	key, err := v.Keys.Get(ctx, kid)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNoKey) {
		return nil, err
	}

	if err := v.Keys.Refresh(ctx); err != nil {
		return nil, err
	}
	key, err = v.Keys.Get(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrNoKey) {
			return nil, ErrUnknownKID
		}
		return nil, err
	}
	return key, nil
}

// mapParseError reduces golang-jwt's wrapped errors to this package's
// failure kinds so callers can switch on errors.Is.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return ErrProviderUnavailable
	case errors.Is(err, ErrUnknownKID):
		return ErrUnknownKID
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrMalformed
	}
}
