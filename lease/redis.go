package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
	"github.com/redis/go-redis/v9"
)

// compare-and-delete, so a lapsed holder cannot drop somebody else's lease
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisTable struct {
	client *redis.Client
	prefix string
}

func NewRedisTable(client *redis.Client, prefix string) *RedisTable {
	if prefix == "" {
		prefix = "payment-lease:"
	}
	return &RedisTable{client: client, prefix: prefix}
}

func (t *RedisTable) key(paymentID uint) string {
	return fmt.Sprintf("%s%d", t.prefix, paymentID)
}

func (t *RedisTable) Acquire(ctx context.Context, paymentID uint, holder string, ttl time.Duration) (bool, error) {
	return t.client.SetNX(ctx, t.key(paymentID), holder, ttl).Result()
}

func (t *RedisTable) Release(ctx context.Context, paymentID uint, holder string) error {
	return releaseScript.Run(ctx, t.client, []string{t.key(paymentID)}, holder).Err()
}

func (t *RedisTable) Get(ctx context.Context, paymentID uint) (*models.Lease, error) {
	key := t.key(paymentID)

	holder, err := t.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ttl, err := t.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return &models.Lease{PaymentID: paymentID, Holder: holder, ExpiresAt: time.Now().Add(ttl)}, nil
}

var (
	_ Table = (*MemoryTable)(nil)
	_ Table = (*GormTable)(nil)
	_ Table = (*RedisTable)(nil)
)
