package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/selffetch-portal/auth/internal/domain"
	"github.com/selffetch-portal/auth/internal/middleware"
	"github.com/selffetch-portal/auth/internal/usecase"
)

// CookieConfig describes how the refresh cookie is written. The cookie is
// HttpOnly and path-scoped to the auth routes so scripts and unrelated
// requests never see the refresh token.
type CookieConfig struct {
	Name       string
	Path       string
	Secure     bool
	RefreshTTL time.Duration
}

type Handler struct {
	authUsecase *usecase.AuthUsecase
	cookie      CookieConfig
}

func NewHandler(auth *usecase.AuthUsecase, cookie CookieConfig) *Handler {
	return &Handler{authUsecase: auth, cookie: cookie}
}

type errorResponse struct {
	Error string `json:"error"`
}

type refreshFailureResponse struct {
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, rawToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    rawToken,
		Path:     h.cookie.Path,
		MaxAge:   int(h.cookie.RefreshTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Auth handlers

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.authUsecase.Register(r.Context(), req.Email, req.Password)
	if errors.Is(err, domain.ErrEmailExists) {
		writeError(w, http.StatusConflict, "Email already in use")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"userId": user.ID})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	pair, err := h.authUsecase.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, domain.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to login")
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: pair.AccessToken})
}

// Refresh reads the refresh cookie, rotates it and returns a new access
// token. Any failure clears the cookie so the client falls back to login.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.cookie.Name)
	if err != nil || cookie.Value == "" {
		h.clearRefreshCookie(w)
		writeJSON(w, http.StatusUnauthorized, refreshFailureResponse{Reason: "ReuseOrUnknown"})
		return
	}

	pair, err := h.authUsecase.Refresh(r.Context(), cookie.Value)
	if errors.Is(err, domain.ErrRefreshTokenExpired) {
		h.clearRefreshCookie(w)
		writeJSON(w, http.StatusUnauthorized, refreshFailureResponse{Reason: "Expired"})
		return
	}
	if errors.Is(err, domain.ErrRefreshTokenNotFound) {
		h.clearRefreshCookie(w)
		writeJSON(w, http.StatusUnauthorized, refreshFailureResponse{Reason: "ReuseOrUnknown"})
		return
	}
	if err != nil {
		h.clearRefreshCookie(w)
		writeError(w, http.StatusInternalServerError, "Could not refresh token")
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: pair.AccessToken})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookie.Name); err == nil && cookie.Value != "" {
		// Best effort: the cookie is cleared regardless.
		_ = h.authUsecase.Logout(r.Context(), cookie.Value)
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// LogoutAll revokes every session of the authenticated user.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.authUsecase.LogoutAll(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to revoke sessions")
		return
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Protected is a demo bearer-guarded endpoint.
func (h *Handler) Protected(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId": userID,
		"time":   time.Now().UnixMilli(),
	})
}
