package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// ErrUnauthorized is returned when the server rejects the request and the
// session could not be recovered by a refresh.
var ErrUnauthorized = errors.New("unauthorized")

// Client is the API client for the auth backend. It holds the access token
// in memory only, carries the refresh cookie in its jar, and transparently
// refreshes an expired access token exactly once per expiry event no matter
// how many requests fail concurrently.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	plainClient *http.Client
	coordinator *Coordinator
}

// Option configures a Client.
type Option func(*Client)

// WithAuthFailureHandler installs a callback invoked when a refresh fails
// and the application should treat the session as over.
func WithAuthFailureHandler(fn func()) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport.(*Transport)
		prev := transport.OnAuthFailure
		transport.OnAuthFailure = func() {
			if prev != nil {
				prev()
			}
			fn()
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{baseURL: baseURL}
	c.coordinator = NewCoordinator(c.doRefresh)

	// The plain client shares the cookie jar but bypasses the auth
	// transport: refresh and login must never recurse into the retry path.
	c.plainClient = &http.Client{
		Timeout: 30 * time.Second,
		Jar:     jar,
	}
	c.httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Jar:     jar,
		Transport: &Transport{
			Coordinator: c.coordinator,
			OnAuthFailure: func() {
				c.coordinator.Clear()
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessToken returns the currently cached access token, if any.
func (c *Client) AccessToken() string {
	return c.coordinator.Current()
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Login authenticates and caches the returned access token; the refresh
// cookie lands in the jar.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(credentialsRequest{Email: email, Password: password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.plainClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var tokenResp accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return err
	}
	if tokenResp.AccessToken == "" {
		return errors.New("no access token in login response")
	}

	c.coordinator.SetToken(tokenResp.AccessToken)
	return nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, password string) error {
	body, err := json.Marshal(credentialsRequest{Email: email, Password: password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.plainClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("register failed: status %d", resp.StatusCode)
	}
	return nil
}

// Logout clears the cached token immediately and revokes the refresh
// session server-side. A refresh already in flight resolves its waiters
// with failure rather than leaving them suspended.
func (c *Client) Logout(ctx context.Context) error {
	c.coordinator.Clear()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/logout", nil)
	if err != nil {
		return err
	}

	resp, err := c.plainClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// doRefresh exchanges the refresh cookie for a new access token. Only the
// coordinator calls this, and only once per refresh cycle.
func (c *Client) doRefresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.plainClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ErrUnauthorized
	}

	var tokenResp accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", err
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("no access token in refresh response")
	}
	return tokenResp.AccessToken, nil
}

// Do issues an arbitrary request through the token-attaching, retry-once
// transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Protected calls the demo protected endpoint and returns the subject user
// id the server resolved from the access token.
func (c *Client) Protected(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/protected", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("protected call failed: status %d", resp.StatusCode)
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.UserID, nil
}
