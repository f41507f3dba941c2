package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/selffetch-portal/auth/internal/domain"
)

// RefreshTokenRepository is the durable refresh-token ledger. Rotation runs
// inside a single transaction with a row lock on the token hash, so of any
// number of concurrent calls presenting the same raw token exactly one
// consumes the record; the rest find it gone.
type RefreshTokenRepository struct {
	db  *Connection
	ttl time.Duration
}

func NewRefreshTokenRepository(db *Connection, ttl time.Duration) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db, ttl: ttl}
}

func (r *RefreshTokenRepository) Issue(ctx context.Context, userID uuid.UUID, deviceID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := domain.NewRawToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	query := `
		INSERT INTO refresh_tokens (id, user_id, device_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.Exec(ctx, query,
		uuid.New(), userID, deviceID, domain.HashRawToken(raw), now, now.Add(r.ttl),
	)
	if err != nil {
		return "", mapPgError(err)
	}
	return raw, nil
}

func (r *RefreshTokenRepository) ValidateAndRotate(ctx context.Context, rawToken string) (*domain.Rotated, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tokenHash := domain.HashRawToken(rawToken)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the row so concurrent rotations of the same token serialize here.
	var (
		userID    uuid.UUID
		deviceID  string
		expiresAt time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT user_id, device_id, expires_at
		FROM refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash).Scan(&userID, &deviceID, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, mapPgError(err)
	}

	now := time.Now()
	if now.After(expiresAt) {
		if _, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash); err != nil {
			return nil, mapPgError(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, mapPgError(err)
		}
		return nil, domain.ErrRefreshTokenExpired
	}

	// Rotate: delete the consumed record and insert its replacement.
	if _, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash); err != nil {
		return nil, mapPgError(err)
	}

	newRaw, err := domain.NewRawToken()
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, device_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), userID, deviceID, domain.HashRawToken(newRaw), now, now.Add(r.ttl))
	if err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err)
	}

	return &domain.Rotated{RawToken: newRaw, UserID: userID, DeviceID: deviceID}, nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, rawToken string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, domain.HashRawToken(rawToken))
	return mapPgError(err)
}

func (r *RefreshTokenRepository) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	return mapPgError(err)
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

// mapPgError folds serialization and deadlock failures into
// ErrStorageConflict so callers can retry rotation with a small bound.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return domain.ErrStorageConflict
		}
	}
	return err
}
