package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func lockKey(settlementID string) string { return "settlement:" + settlementID + ":lock" }

// releaseScript deletes the lock only if the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// AcquireSettlementLock takes the resolution lock for a settlement.
// Returns the release token and true on success, or "" and false when
// another resolution holds the lock. The TTL bounds how long a crashed
// holder can block the settlement.
func (c *Client) AcquireSettlementLock(ctx context.Context, settlementID string, ttl time.Duration) (string, bool, error) {
	token := newToken()
	ok, err := c.rdb.SetNX(ctx, lockKey(settlementID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire settlement lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseSettlementLock releases a lock previously acquired with the given
// token. Releasing a lock that expired and was re-acquired by someone else
// is a no-op.
func (c *Client) ReleaseSettlementLock(ctx context.Context, settlementID, token string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{lockKey(settlementID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release settlement lock: %w", err)
	}
	return nil
}

func newToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("tok%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
