package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one currently-valid refresh credential for one device.
// Only the SHA-256 hash of the raw token is ever stored; the raw value
// travels to the client in a cookie and is never persisted server-side.
type RefreshToken struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	TokenHash string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Rotated is the result of consuming a refresh token: the replacement raw
// token plus the identity the consumed record was bound to.
type Rotated struct {
	RawToken string
	UserID   uuid.UUID
	DeviceID string
}

// RefreshTokenLedger is the server-authoritative record of active refresh
// tokens. ValidateAndRotate must behave as a serializable transaction per
// token hash: of any number of concurrent calls presenting the same raw
// token, exactly one may consume the record; the rest must observe it
// absent and fail with ErrRefreshTokenNotFound.
type RefreshTokenLedger interface {
	// Issue stores a new record and returns the raw token, the only time
	// the raw value is ever returned.
	Issue(ctx context.Context, userID uuid.UUID, deviceID string) (string, error)

	// ValidateAndRotate atomically consumes the record for rawToken and
	// replaces it with a fresh one for the same user and device.
	ValidateAndRotate(ctx context.Context, rawToken string) (*Rotated, error)

	// Revoke deletes the record for rawToken if present. Idempotent.
	Revoke(ctx context.Context, rawToken string) error

	// RevokeAll deletes every record for the user ("log out everywhere").
	RevokeAll(ctx context.Context, userID uuid.UUID) error

	// DeleteExpired prunes records past their expiry and reports how many
	// were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}
