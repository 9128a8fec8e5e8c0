package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/opsledger/authgate/internal/authgate/idp"
	"github.com/opsledger/authgate/internal/authgate/service"
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

// fakeIdP doubles the upstream provider behind the service layer so the
// router tests run the full stack below the HTTP surface.
type fakeIdP struct {
	mu sync.Mutex

	key      *rsa.PrivateKey
	accounts map[string]*fakeAccount
	byID     map[string]*fakeAccount

	liveRefresh map[string]string
	revoked     map[string]bool
	counter     int
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

	return &idp.TokenResponse{
		AccessToken:  signed,
		RefreshToken: rt,
		TokenType:    "Bearer",
		ExpiresIn:    300,
	}
}

func (f *fakeIdP) AuthenticateUser(ctx context.Context, email, password string) (*idp.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[email]
	if !ok || acc.password != password {
		return nil, idp.ErrInvalidCredentials
	}
	return f.mintPair(acc), nil
}

func (f *fakeIdP) RefreshGrant(ctx context.Context, refreshToken string) (*idp.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.revoked[refreshToken] = true
	delete(f.liveRefresh, refreshToken)
	return nil
}

func (f *fakeIdP) CreateUser(ctx context.Context, email, name, password string) (string, error) {
	return f.register(email, name, password).id, nil
}

func (f *fakeIdP) GetUserByID(ctx context.Context, id string) (*idp.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.byID[id]
	if !ok {
		return nil, idp.ErrNotFound
	}
	return &idp.User{ID: acc.id, Username: acc.email, Email: acc.email, FirstName: acc.name, Enabled: true}, nil
}

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

type testServer struct {
	srv      *httptest.Server
	provider *fakeIdP
}

func newTestServer(t *testing.T) *testServer {
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

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cookies := &CookieManager{RefreshTTL: 24 * time.Hour}

	router := NewRouter(keys, verifier, cookies, "test", st, logger)
	router.TokenService = &service.TokenService{
		Store:      st,
		IdP:        provider,
		Verifier:   verifier,
		RefreshTTL: 24 * time.Hour,
	}
	router.OrgService = &service.OrgService{Store: st, InviteTTL: 48 * time.Hour}
	router.UserService = &service.UserService{Store: st, IdP: provider}
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, provider: provider}
}

// request sends a JSON request and decodes the JSON response, if any.
func (ts *testServer) request(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

// signUp runs the sign-up endpoint and returns the issued pair.
func (ts *testServer) signUp(t *testing.T, email, name string) (access, refresh string) {
	t.Helper()

	code, body := ts.request(t, http.MethodPost, "/v1/auth/sign-up", "", map[string]string{
		"email": email, "name": name, "password": "password1",
	})
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, body["access_token"])
	require.NotEmpty(t, body["refresh_token"])
	return body["access_token"].(string), body["refresh_token"].(string)
}

func TestFullMembershipFlow(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	ownerAccess, _ := ts.signUp(t, "alice@example.com", "Alice Smith")

	// Fresh user: profile exists, no organizations yet.
	code, body := ts.request(t, http.MethodGet, "/v1/client/me", ownerAccess, nil)
	require.Equal(t, http.StatusOK, code)
	user := body["user"].(map[string]any)
	require.Equal(t, "alice@example.com", user["email"])
	require.Empty(t, body["organizations"])

	// Create an organization; creator becomes owner and it becomes active.
	code, body = ts.request(t, http.MethodPost, "/v1/org", ownerAccess, map[string]string{
		"name": "Acme Rockets",
	})
	require.Equal(t, http.StatusCreated, code)
	orgID := body["id"].(string)
	require.Equal(t, "acme-rockets", body["slug"])

	code, body = ts.request(t, http.MethodGet, "/v1/client/me", ownerAccess, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, orgID, body["active_org_id"])
	orgs := body["organizations"].([]any)
	require.Len(t, orgs, 1)
	require.Equal(t, true, orgs[0].(map[string]any)["is_owner"])

	// Invite a second user and redeem the opaque token as them.
	code, body = ts.request(t, http.MethodPost, "/v1/org/"+orgID+"/invite", ownerAccess, map[string]string{
		"email": "bob@example.com", "role": "member",
	})
	require.Equal(t, http.StatusCreated, code)
	inviteToken := body["invite_token"].(string)
	require.NotEmpty(t, inviteToken)

	bobAccess, _ := ts.signUp(t, "bob@example.com", "Bob Jones")

	code, body = ts.request(t, http.MethodPost, "/v1/invite/accept", bobAccess, map[string]string{
		"token": inviteToken,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, orgID, body["org_id"])
	require.Equal(t, "member", body["role"])

	// Owner is listed first.
	code, body = ts.request(t, http.MethodGet, "/v1/org/"+orgID+"/members", ownerAccess, nil)
	require.Equal(t, http.StatusOK, code)
	members := body["members"].([]any)
	require.Len(t, members, 2)
	require.Equal(t, "alice@example.com", members[0].(map[string]any)["email"])

	// A plain member cannot delete the organization.
	code, _ = ts.request(t, http.MethodDelete, "/v1/org/"+orgID, bobAccess, nil)
	require.Equal(t, http.StatusForbidden, code)

	// The invite was consumed on redemption.
	code, body = ts.request(t, http.MethodPost, "/v1/invite/accept", bobAccess, map[string]string{
		"token": inviteToken,
	})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "invalid_invite", body["error"])
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	_, refresh := ts.signUp(t, "carol@example.com", "Carol White")

	// Rotate once.
	code, body := ts.request(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusOK, code)
	next := body["refresh_token"].(string)
	require.NotEqual(t, refresh, next)

	// Replaying the consumed token kills the chain.
	code, body = ts.request(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "invalid_refresh_token", body["error"])

	// The successor died with it.
	code, _ = ts.request(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": next,
	})
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestLogoutEndsSession(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	_, refresh := ts.signUp(t, "dave@example.com", "Dave Green")

	code, _ := ts.request(t, http.MethodPost, "/v1/auth/logout", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusNoContent, code)

	code, _ = ts.request(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusUnauthorized, code)

	// Logout is idempotent.
	code, _ = ts.request(t, http.MethodPost, "/v1/auth/logout", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusNoContent, code)
}

func TestSessionCookiesRoundTrip(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.provider.register("erin@example.com", "Erin Black", "password1")

	// Sign in and capture cookies off the raw response.
	raw, err := json.Marshal(map[string]string{"email": "erin@example.com", "password": "password1"})
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+"/v1/auth/sign-in/password", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var accessCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == AccessCookieName {
			accessCookie = c
		}
	}
	require.NotNil(t, accessCookie)
	require.True(t, accessCookie.HttpOnly)

	// The cookie alone authenticates API calls.
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/v1/client/me", nil)
	require.NoError(t, err)
	req.AddCookie(accessCookie)

	meResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer meResp.Body.Close()
	require.Equal(t, http.StatusOK, meResp.StatusCode)
}

func TestUnauthenticatedRequests(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	code, body := ts.request(t, http.MethodGet, "/v1/client/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "invalid_token", body["error"])

	code, _ = ts.request(t, http.MethodGet, "/v1/client/me", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestValidateEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	access, _ := ts.signUp(t, "frank@example.com", "Frank Stone")

	code, body := ts.request(t, http.MethodGet, "/v1/auth/validate", access, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["active"])
	require.Equal(t, "frank@example.com", body["email"])
	require.Equal(t, "header", body["source"])

	code, _ = ts.request(t, http.MethodGet, "/v1/auth/validate", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	code, body := ts.request(t, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	code, body = ts.request(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}
