package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"atms/identity/internal/model"
)

// consumeScript returns 0 not found, 1 consumed, 2 expired, 3 mismatch.
// ARGV[1] is the candidate nonce, ARGV[2] the caller's clock in unix ms.
var consumeScript = redis.NewScript(`
local stored = redis.call('HMGET', KEYS[1], 'nonce', 'expires_at')
if not stored[1] then
  return 0
end
if tonumber(ARGV[2]) > tonumber(stored[2]) then
  redis.call('DEL', KEYS[1])
  return 2
end
if stored[1] ~= ARGV[1] then
  return 3
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisStore keeps each nonce as a hash. Keys outlive the logical expiry by
// retention so an expired nonce can still be reported as expired.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 2 * DefaultTTL
	}
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) Upsert(ctx context.Context, n model.Nonce) error {
	key := nonceKey(n.Address)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "nonce", n.Value, "expires_at", n.ExpiresAt.UnixMilli())
		pipe.Expire(ctx, key, s.retention)
		return nil
	})
	return err
}

func (s *RedisStore) ConsumeMatching(ctx context.Context, address, value string, now time.Time) (Outcome, error) {
	code, err := consumeScript.Run(ctx, s.client, []string{nonceKey(address)}, value, now.UnixMilli()).Int()
	if err != nil {
		return OutcomeNotFound, err
	}
	switch code {
	case 1:
		return OutcomeConsumed, nil
	case 2:
		return OutcomeExpired, nil
	case 3:
		return OutcomeMismatch, nil
	default:
		return OutcomeNotFound, nil
	}
}

func nonceKey(address string) string {
	return fmt.Sprintf("nonce:%s", address)
}
