package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/selffetch-portal/auth/internal/domain"
)

// RefreshTokenRepository is an in-memory refresh-token ledger. A single
// mutex spans lookup and replacement, which is what makes rotation a
// one-winner operation under concurrency.
type RefreshTokenRepository struct {
	mu     sync.Mutex
	ttl    time.Duration
	byHash map[string]*domain.RefreshToken

	now func() time.Time
}

func NewRefreshTokenRepository(ttl time.Duration) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		ttl:    ttl,
		byHash: make(map[string]*domain.RefreshToken),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (r *RefreshTokenRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *RefreshTokenRepository) Issue(_ context.Context, userID uuid.UUID, deviceID string) (string, error) {
	raw, err := domain.NewRawToken()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.byHash[domain.HashRawToken(raw)] = &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		DeviceID:  deviceID,
		TokenHash: domain.HashRawToken(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(r.ttl),
	}
	return raw, nil
}

func (r *RefreshTokenRepository) ValidateAndRotate(_ context.Context, rawToken string) (*domain.Rotated, error) {
	newRaw, err := domain.NewRawToken()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	hash := domain.HashRawToken(rawToken)
	record, ok := r.byHash[hash]
	if !ok {
		return nil, domain.ErrRefreshTokenNotFound
	}

	now := r.now()
	if now.After(record.ExpiresAt) {
		delete(r.byHash, hash)
		return nil, domain.ErrRefreshTokenExpired
	}

	delete(r.byHash, hash)
	r.byHash[domain.HashRawToken(newRaw)] = &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    record.UserID,
		DeviceID:  record.DeviceID,
		TokenHash: domain.HashRawToken(newRaw),
		IssuedAt:  now,
		ExpiresAt: now.Add(r.ttl),
	}

	return &domain.Rotated{RawToken: newRaw, UserID: record.UserID, DeviceID: record.DeviceID}, nil
}

func (r *RefreshTokenRepository) Revoke(_ context.Context, rawToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byHash, domain.HashRawToken(rawToken))
	return nil
}

func (r *RefreshTokenRepository) RevokeAll(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, record := range r.byHash {
		if record.UserID == userID {
			delete(r.byHash, hash)
		}
	}
	return nil
}

func (r *RefreshTokenRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var removed int64
	for hash, record := range r.byHash {
		if now.After(record.ExpiresAt) {
			delete(r.byHash, hash)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live records. Test hook.
func (r *RefreshTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}
