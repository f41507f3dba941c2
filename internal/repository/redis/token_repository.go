package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/selffetch-portal/auth/internal/domain"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRotated  int64 = 2
)

// rotateScript consumes the old record and writes its replacement in one
// atomic step; redis runs scripts single-threaded, which gives the
// one-winner guarantee without explicit locks.
//
// KEYS[1] old record, KEYS[2] new record, KEYS[3] per-user index set.
// ARGV[1] now (unix), ARGV[2] new expiry (unix), ARGV[3] ttl seconds,
// ARGV[4] old hash, ARGV[5] new hash.
const rotateScript = `
local vals = redis.call("HMGET", KEYS[1], "user_id", "device_id", "expires_at")
if not vals[1] then
  return {0}
end
if tonumber(vals[3]) <= tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[3], ARGV[4])
  return {1}
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[3], ARGV[4])
redis.call("HSET", KEYS[2], "user_id", vals[1], "device_id", vals[2], "issued_at", ARGV[1], "expires_at", ARGV[2])
redis.call("EXPIRE", KEYS[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[5])
return {2, vals[1], vals[2]}
`

var rotateLua = redis.NewScript(rotateScript)

// RefreshTokenRepository is a refresh-token ledger on redis, for deployments
// that already run one. Record keys carry the refresh TTL so expired entries
// vanish without a sweeper.
type RefreshTokenRepository struct {
	rdb *redis.Client
	ttl time.Duration

	now func() time.Time
}

func NewRefreshTokenRepository(rdb *redis.Client, ttl time.Duration) *RefreshTokenRepository {
	return &RefreshTokenRepository{rdb: rdb, ttl: ttl, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (r *RefreshTokenRepository) SetClock(now func() time.Time) { r.now = now }

func recordKey(tokenHash string) string { return "refresh:" + tokenHash }

func userKey(userID uuid.UUID) string { return "refresh:user:" + userID.String() }

func (r *RefreshTokenRepository) Issue(ctx context.Context, userID uuid.UUID, deviceID string) (string, error) {
	raw, err := domain.NewRawToken()
	if err != nil {
		return "", err
	}

	hash := domain.HashRawToken(raw)
	now := r.now()

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordKey(hash),
			"user_id", userID.String(),
			"device_id", deviceID,
			"issued_at", now.Unix(),
			"expires_at", now.Add(r.ttl).Unix(),
		)
		pipe.Expire(ctx, recordKey(hash), r.ttl)
		pipe.SAdd(ctx, userKey(userID), hash)
		return nil
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (r *RefreshTokenRepository) ValidateAndRotate(ctx context.Context, rawToken string) (*domain.Rotated, error) {
	newRaw, err := domain.NewRawToken()
	if err != nil {
		return nil, err
	}

	oldHash := domain.HashRawToken(rawToken)
	newHash := domain.HashRawToken(newRaw)
	now := r.now()

	// Read the owning user first to address the index set. The script
	// re-checks existence atomically, so a racing rotation still has
	// exactly one winner.
	ownerStr, err := r.rdb.HGet(ctx, recordKey(oldHash), "user_id").Result()
	if err == redis.Nil {
		return nil, domain.ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	owner, err := uuid.Parse(ownerStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt ledger record: %w", err)
	}

	raw, err := rotateLua.Run(ctx, r.rdb,
		[]string{recordKey(oldHash), recordKey(newHash), userKey(owner)},
		now.Unix(),
		now.Add(r.ttl).Unix(),
		int64(r.ttl/time.Second),
		oldHash,
		newHash,
	).Result()
	if err != nil {
		return nil, err
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("unexpected rotate reply: %v", raw)
	}
	status, _ := reply[0].(int64)

	switch status {
	case rotateStatusNotFound:
		return nil, domain.ErrRefreshTokenNotFound
	case rotateStatusExpired:
		return nil, domain.ErrRefreshTokenExpired
	case rotateStatusRotated:
		userStr, _ := reply[1].(string)
		deviceID, _ := reply[2].(string)
		userID, err := uuid.Parse(userStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger record: %w", err)
		}
		return &domain.Rotated{RawToken: newRaw, UserID: userID, DeviceID: deviceID}, nil
	default:
		return nil, fmt.Errorf("unexpected rotate status %d", status)
	}
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, rawToken string) error {
	hash := domain.HashRawToken(rawToken)

	ownerStr, err := r.rdb.HGet(ctx, recordKey(hash), "user_id").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(hash))
		if owner, parseErr := uuid.Parse(ownerStr); parseErr == nil {
			pipe.SRem(ctx, userKey(owner), hash)
		}
		return nil
	})
	return err
}

func (r *RefreshTokenRepository) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	hashes, err := r.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, hash := range hashes {
			pipe.Del(ctx, recordKey(hash))
		}
		pipe.Del(ctx, userKey(userID))
		return nil
	})
	return err
}

// DeleteExpired is a no-op on redis: record keys carry the refresh TTL and
// expire natively. Stale index entries are pruned on rotation and revoke.
func (r *RefreshTokenRepository) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}
