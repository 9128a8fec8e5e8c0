package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/opsledger/authgate/internal/authgate/idp"
	"github.com/opsledger/authgate/internal/authgate/store/drivers/sqlite"
	"github.com/opsledger/authgate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer = "https://idp.example.com/realms/main"
	testKid    = "test-kid"
)

type fakeAccount struct {
	id       string
	email    string
	name     string
	password string
}

// fakeIdP is an in-memory double for the upstream provider. It mints real
// RS256 tokens so the services exercise the genuine verification path, and
// it rotates upstream refresh tokens the way the provider does.
type fakeIdP struct {
	mu sync.Mutex

	key      *rsa.PrivateKey
	accounts map[string]*fakeAccount // by email
	byID     map[string]*fakeAccount

	liveRefresh map[string]string // upstream refresh token -> account id
	revoked     map[string]bool

	down    bool // simulate outage
	counter int

	refreshCalls int
	revokeCalls  int
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return &fakeIdP{
		key:         key,
		accounts:    map[string]*fakeAccount{},
		byID:        map[string]*fakeAccount{},
		liveRefresh: map[string]string{},
		revoked:     map[string]bool{},
	}
}

func (f *fakeIdP) register(email, name, password string) *fakeAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc, ok := f.accounts[email]; ok {
		return acc
	}
	acc := &fakeAccount{id: uuid.NewString(), email: email, name: name, password: password}
	f.accounts[email] = acc
	f.byID[acc.id] = acc
	return acc
}

func (f *fakeIdP) mintPair(acc *fakeAccount) *idp.TokenResponse {
	f.counter++
	rt := fmt.Sprintf("idp-rt-%d", f.counter)
	f.liveRefresh[rt] = acc.id
	return &idp.TokenResponse{
		AccessToken:  f.accessForLocked(acc),
		RefreshToken: rt,
		TokenType:    "Bearer",
		ExpiresIn:    300,
	}
}

// accessForLocked signs without require, for use under the mutex.
func (f *fakeIdP) accessForLocked(acc *fakeAccount) string {
	now := time.Now()
	claims := jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.id,
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
		Email: acc.email,
		Name:  acc.name,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	signed, _ := tok.SignedString(f.key)
	return signed
}

func (f *fakeIdP) AuthenticateUser(ctx context.Context, email, password string) (*idp.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, idp.ErrUnavailable
	}
	acc, ok := f.accounts[email]
	if !ok || acc.password != password {
		return nil, idp.ErrInvalidCredentials
	}
	return f.mintPair(acc), nil
}

func (f *fakeIdP) RefreshGrant(ctx context.Context, refreshToken string) (*idp.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.down {
		return nil, idp.ErrUnavailable
	}
	if f.revoked[refreshToken] {
		return nil, idp.ErrInvalidGrant
	}
	id, ok := f.liveRefresh[refreshToken]
	if !ok {
		return nil, idp.ErrInvalidGrant
	}
	return f.mintPair(f.byID[id]), nil
}

func (f *fakeIdP) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	if f.down {
		return idp.ErrUnavailable
	}
	f.revoked[refreshToken] = true
	delete(f.liveRefresh, refreshToken)
	return nil
}

func (f *fakeIdP) CreateUser(ctx context.Context, email, name, password string) (string, error) {
	f.mu.Lock()
	if f.down {
		f.mu.Unlock()
		return "", idp.ErrUnavailable
	}
	if acc, ok := f.accounts[email]; ok {
		f.mu.Unlock()
		return acc.id, nil
	}
	f.mu.Unlock()
	return f.register(email, name, password).id, nil
}

func (f *fakeIdP) GetUserByID(ctx context.Context, id string) (*idp.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, idp.ErrUnavailable
	}
	acc, ok := f.byID[id]
	if !ok {
		return nil, idp.ErrNotFound
	}
	return &idp.User{ID: acc.id, Username: acc.email, Email: acc.email, FirstName: acc.name, Enabled: true}, nil
}

// jwks publishes the fake provider's signing key the way a realm would.
func (f *fakeIdP) jwks() jwtx.JWKS {
	pub := &f.key.PublicKey
	return jwtx.JWKS{Keys: []jwtx.JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: testKid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

type testEnv struct {
	store  *sqlite.Store
	idp    *fakeIdP
	tokens *TokenService
	orgs   *OrgService
	users  *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	provider := newFakeIdP(t)
	keys := jwtx.NewCachedKeySet(func(ctx context.Context) (jwtx.JWKS, error) {
		return provider.jwks(), nil
	}, 0, 0)
	verifier := jwtx.NewVerifier(keys, testIssuer)

	return &testEnv{
		store: st,
		idp:   provider,
		tokens: &TokenService{
			Store:      st,
			IdP:        provider,
			Verifier:   verifier,
			RefreshTTL: 24 * time.Hour,
		},
		orgs: &OrgService{
			Store:     st,
			InviteTTL: 48 * time.Hour,
		},
		users: &UserService{
			Store: st,
			IdP:   provider,
		},
	}
}

// signIn registers the account upstream and runs the full sign-in flow.
func (e *testEnv) signIn(t *testing.T, email, name string) (*fakeAccount, string) {
	t.Helper()

	acc := e.idp.register(email, name, "password1")
	pair, err := e.tokens.SignIn(context.Background(), email, "password1")
	require.NoError(t, err)
	return acc, pair.RefreshToken
}
