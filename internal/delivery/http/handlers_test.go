package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selffetch-portal/auth/internal/logger"
	"github.com/selffetch-portal/auth/internal/middleware"
	"github.com/selffetch-portal/auth/internal/repository/memory"
	"github.com/selffetch-portal/auth/internal/token"
	"github.com/selffetch-portal/auth/internal/usecase"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	ledger *memory.RefreshTokenRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ledger := memory.NewRefreshTokenRepository(time.Hour)
	issuer := token.NewIssuer(testSecret, 5*time.Minute)
	u := usecase.NewAuthUsecase(memory.NewUserRepository(), ledger, issuer, logger.New(8))

	_, err := u.Register(context.Background(), "user@example.com", "password")
	require.NoError(t, err)

	handler := NewHandler(u, CookieConfig{
		Name:       "refreshToken",
		Path:       "/api/v1/auth",
		RefreshTTL: time.Hour,
	})
	router := NewRouter(handler, middleware.NewAuthMiddleware(u), []string{"http://localhost:3000"})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, ledger: ledger}
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func login(t *testing.T, srv *testServer) (accessToken string, refreshCookie *http.Cookie) {
	t.Helper()

	resp := postJSON(t, srv.URL+"/api/v1/auth/login", map[string]string{
		"email":    "user@example.com",
		"password": "password",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.AccessToken)

	for _, c := range resp.Cookies() {
		if c.Name == "refreshToken" {
			refreshCookie = c
		}
	}
	require.NotNil(t, refreshCookie, "login must set the refresh cookie")
	return body.AccessToken, refreshCookie
}

func refreshWith(t *testing.T, srv *testServer, cookie *http.Cookie) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/auth/refresh", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func getProtected(t *testing.T, srv *testServer, accessToken string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/protected", nil)
	require.NoError(t, err)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLoginSetsRefreshCookie(t *testing.T) {
	srv := newTestServer(t)

	_, cookie := login(t, srv)
	assert.True(t, cookie.HttpOnly, "refresh cookie must be HttpOnly")
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/api/v1/auth", cookie.Path)
	assert.Equal(t, int(time.Hour/time.Second), cookie.MaxAge)
	assert.NotEmpty(t, cookie.Value)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/login", map[string]string{
		"email":    "user@example.com",
		"password": "wrong",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, resp.Cookies(), "failed login must not set a cookie")
}

func TestProtectedEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	accessToken, cookie := login(t, srv)

	// The minted token opens the protected route.
	resp := getProtected(t, srv, accessToken)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Missing and expired tokens are rejected.
	resp = getProtected(t, srv, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, _, err := token.NewIssuer(testSecret, -time.Minute).Mint(mustSubject(t, srv, accessToken), time.Now())
	require.NoError(t, err)
	resp = getProtected(t, srv, expired)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Refresh rotates the cookie and yields a working access token.
	refreshResp := refreshWith(t, srv, cookie)
	defer refreshResp.Body.Close()
	require.Equal(t, http.StatusOK, refreshResp.StatusCode)

	var refreshed struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.NewDecoder(refreshResp.Body).Decode(&refreshed))

	var newCookie *http.Cookie
	for _, c := range refreshResp.Cookies() {
		if c.Name == "refreshToken" {
			newCookie = c
		}
	}
	require.NotNil(t, newCookie)
	assert.NotEqual(t, cookie.Value, newCookie.Value, "refresh must rotate the cookie")

	resp = getProtected(t, srv, refreshed.AccessToken)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// mustSubject resolves the user id carried by a valid access token.
func mustSubject(t *testing.T, srv *testServer, accessToken string) uuid.UUID {
	t.Helper()

	resp := getProtected(t, srv, accessToken)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		UserID uuid.UUID `json:"userId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.UserID
}

func TestRefreshReuseDenied(t *testing.T) {
	srv := newTestServer(t)

	_, cookie := login(t, srv)

	resp := refreshWith(t, srv, cookie)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Presenting the consumed cookie again is the reuse signal.
	replay := refreshWith(t, srv, cookie)
	defer replay.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, replay.StatusCode)

	var failure struct {
		Reason string `json:"reason"`
	}
	require.NoError(t, json.NewDecoder(replay.Body).Decode(&failure))
	assert.Equal(t, "ReuseOrUnknown", failure.Reason)
	assertCookieCleared(t, replay)
}

func TestRefreshExpired(t *testing.T) {
	srv := newTestServer(t)

	_, cookie := login(t, srv)
	srv.ledger.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	resp := refreshWith(t, srv, cookie)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var failure struct {
		Reason string `json:"reason"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failure))
	assert.Equal(t, "Expired", failure.Reason)
	assertCookieCleared(t, resp)
}

func TestRefreshWithoutCookie(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/auth/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutRevokesSession(t *testing.T) {
	srv := newTestServer(t)

	_, cookie := login(t, srv)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/auth/logout", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.OK)
	assertCookieCleared(t, resp)

	// The revoked token can no longer refresh.
	replay := refreshWith(t, srv, cookie)
	replay.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, replay.StatusCode)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	srv := newTestServer(t)

	accessToken, cookie1 := login(t, srv)
	_, cookie2 := login(t, srv)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/auth/logout_all", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, cookie := range []*http.Cookie{cookie1, cookie2} {
		replay := refreshWith(t, srv, cookie)
		replay.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, replay.StatusCode)
	}
}

func TestRegister(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/register", map[string]string{
		"email":    "new@example.com",
		"password": "secret",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	dup := postJSON(t, srv.URL+"/api/v1/auth/register", map[string]string{
		"email":    "new@example.com",
		"password": "secret",
	})
	dup.Body.Close()
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	login := postJSON(t, srv.URL+"/api/v1/auth/login", map[string]string{
		"email":    "new@example.com",
		"password": "secret",
	})
	login.Body.Close()
	assert.Equal(t, http.StatusOK, login.StatusCode)
}

func assertCookieCleared(t *testing.T, resp *http.Response) {
	t.Helper()

	for _, c := range resp.Cookies() {
		if c.Name == "refreshToken" {
			assert.Empty(t, c.Value)
			assert.Less(t, c.MaxAge, 0, "cookie must be expired")
			return
		}
	}
	t.Fatal("expected a cleared refresh cookie")
}
