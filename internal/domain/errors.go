package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("email already exists")
	ErrUserNotFound       = errors.New("user not found")

	ErrMissingAccessToken = errors.New("missing access token")
	ErrInvalidAccessToken = errors.New("invalid or expired access token")

	// ErrRefreshTokenNotFound covers both a never-issued token and a token
	// already consumed by rotation; the two are indistinguishable and the
	// reappearance of a rotated token is the reuse signal.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")

	// ErrStorageConflict is a transient rotation conflict. Callers retry
	// internally; it is never surfaced with its own HTTP status.
	ErrStorageConflict = errors.New("storage conflict")
)
