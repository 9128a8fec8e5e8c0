package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opsledger/authgate/pkg/jwtx"
)

var (
	// ErrUnavailable reports that the provider could not be reached or
	// answered with a server-side failure.
	ErrUnavailable = errors.New("idp: provider unavailable")

	// ErrInvalidCredentials reports a rejected password grant.
	ErrInvalidCredentials = errors.New("idp: invalid credentials")

	// ErrInvalidGrant reports a rejected refresh grant. The upstream token is
	// dead and the local chain must be treated the same way.
	ErrInvalidGrant = errors.New("idp: invalid grant")

	// ErrNotFound reports a missing account on the admin API.
	ErrNotFound = errors.New("idp: user not found")
)

const requestTimeout = 10 * time.Second

// Client talks to a Keycloak-compatible identity provider: the realm's
// OpenID Connect endpoints for grants and the admin REST API for account
// management.
type Client struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	AdminUser    string
	AdminPass    string

	HTTPClient *http.Client

	mu           sync.Mutex
	adminToken   string
	adminExpires time.Time
}

// Config carries the provider connection settings.
type Config struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	AdminUser    string
	AdminPass    string
}

func NewClient(cfg Config) *Client {
	return &Client{
		BaseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		Realm:        cfg.Realm,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AdminUser:    cfg.AdminUser,
		AdminPass:    cfg.AdminPass,
		HTTPClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

func (c *Client) realmURL(path string) string {
	return c.BaseURL + "/realms/" + c.Realm + path
}

func (c *Client) adminURL(path string) string {
	return c.BaseURL + "/admin/realms/" + c.Realm + path
}

// AuthenticateUser performs a password grant for the user.
func (c *Client) AuthenticateUser(ctx context.Context, email, password string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"username":      {email},
		"password":      {password},
	}
	resp, err := c.requestToken(ctx, c.realmURL("/protocol/openid-connect/token"), data)
	if err != nil && errors.Is(err, ErrInvalidGrant) {
		// A rejected password grant means bad credentials, not a dead token.
		return nil, ErrInvalidCredentials
	}
	return resp, err
}

// RefreshGrant exchanges the provider's refresh token for a fresh pair.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"refresh_token": {refreshToken},
	}
	return c.requestToken(ctx, c.realmURL("/protocol/openid-connect/token"), data)
}

// RevokeRefreshToken invalidates the upstream session via the logout
// endpoint. An already-dead token is not an error.
func (c *Client) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	data := url.Values{
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.realmURL("/protocol/openid-connect/logout"),
		strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		// Token already expired or revoked upstream; logout is idempotent.
		return nil
	case resp.StatusCode >= 500:
		return ErrUnavailable
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("logout failed with status %d: %s", resp.StatusCode, string(body))
	}
}

func (c *Client) requestToken(ctx context.Context, endpoint string, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, ErrUnavailable
		}
		var te tokenError
		if json.Unmarshal(body, &te) == nil && te.Error == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, te.Description)
		}
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &tokenResp, nil
}

// CreateUser registers an account through the admin API and returns the
// provider-assigned id. An existing account with the same email resolves to
// that account's id instead of failing.
func (c *Client) CreateUser(ctx context.Context, email, name, password string) (string, error) {
	first, last := splitName(name)
	payload := createUserRequest{
		Username:      email,
		Email:         email,
		FirstName:     first,
		LastName:      last,
		Enabled:       true,
		EmailVerified: true,
		Credentials: []userCredential{
			{Type: "password", Value: password, Temporary: false},
		},
	}

	resp, err := c.doAdmin(ctx, http.MethodPost, c.adminURL("/users"), payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		// Keycloak returns the new user's URL in Location, id is the last segment.
		loc := resp.Header.Get("Location")
		if i := strings.LastIndex(loc, "/"); i >= 0 && i < len(loc)-1 {
			return loc[i+1:], nil
		}
		// No Location header; fall back to a lookup.
		u, err := c.FindUserByEmail(ctx, email)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	case http.StatusConflict:
		u, err := c.FindUserByEmail(ctx, email)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	default:
		if resp.StatusCode >= 500 {
			return "", ErrUnavailable
		}
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create user failed with status %d: %s", resp.StatusCode, string(body))
	}
}

// FindUserByEmail resolves an account by exact email match.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	endpoint := c.adminURL("/users") + "?exact=true&email=" + url.QueryEscape(email)
	resp, err := c.doAdmin(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("user search failed with status %d", resp.StatusCode)
	}

	var users []User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("failed to decode user search response: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

// GetUserByID fetches an account by its provider-assigned id.
func (c *Client) GetUserByID(ctx context.Context, id string) (*User, error) {
	resp, err := c.doAdmin(ctx, http.MethodGet, c.adminURL("/users/"+url.PathEscape(id)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var u User
		if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
			return nil, fmt.Errorf("failed to decode user response: %w", err)
		}
		return &u, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("user fetch failed with status %d", resp.StatusCode)
	}
}

// doAdmin sends an admin API request carrying a cached admin bearer token.
func (c *Client) doAdmin(ctx context.Context, method, endpoint string, payload any) (*http.Response, error) {
	token, err := c.adminAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return resp, nil
}

// adminAccessToken returns a valid admin token, reusing the cached one while
// it has at least 30 seconds of life left.
func (c *Client) adminAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.adminToken != "" && time.Now().Add(30*time.Second).Before(c.adminExpires) {
		return c.adminToken, nil
	}

	data := url.Values{
		"grant_type": {"password"},
		"client_id":  {"admin-cli"},
		"username":   {c.AdminUser},
		"password":   {c.AdminPass},
	}
	resp, err := c.requestToken(ctx, c.BaseURL+"/realms/master/protocol/openid-connect/token", data)
	if err != nil {
		return "", err
	}

	c.adminToken = resp.AccessToken
	c.adminExpires = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return c.adminToken, nil
}

// FetchJWKS pulls the realm's signing keys, resolving the JWKS URI from the
// discovery document each time. Fetches retry because they are idempotent
// and everything downstream stalls without keys.
func (c *Client) FetchJWKS(ctx context.Context) (jwtx.JWKS, error) {
	const attempts = 3

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return jwtx.JWKS{}, ctx.Err()
			case <-time.After(time.Duration(i) * 500 * time.Millisecond):
			}
		}

		set, err := c.fetchJWKSOnce(ctx)
		if err == nil {
			return set, nil
		}
		lastErr = err
	}
	return jwtx.JWKS{}, lastErr
}

func (c *Client) fetchJWKSOnce(ctx context.Context) (jwtx.JWKS, error) {
	doc, err := c.discover(ctx)
	if err != nil {
		return jwtx.JWKS{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.JWKSURI, nil)
	if err != nil {
		return jwtx.JWKS{}, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return jwtx.JWKS{}, errors.Join(ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return jwtx.JWKS{}, fmt.Errorf("%w: jwks fetch returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var set jwtx.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jwtx.JWKS{}, fmt.Errorf("failed to decode jwks: %w", err)
	}
	return set, nil
}

func (c *Client) discover(ctx context.Context) (discoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.realmURL("/.well-known/openid-configuration"), nil)
	if err != nil {
		return discoveryDocument{}, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return discoveryDocument{}, errors.Join(ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return discoveryDocument{}, fmt.Errorf("%w: discovery returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return discoveryDocument{}, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	return doc, nil
}

func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
