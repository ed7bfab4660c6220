package lockstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces lock keys.
const DefaultRedisPrefix = "vpsd:lock:"

// insertScript creates the lock hash only if the key does not exist. The
// key carries a PX expiry so Redis reclaims abandoned locks on its own.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "token", ARGV[1], "owner", ARGV[2], "acquired_at", ARGV[3], "expires_at", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

var deleteTokenScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "token") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var deleteExpiredScript = redis.NewScript(`
local expires = redis.call("HGET", KEYS[1], "expires_at")
if expires and tonumber(expires) <= tonumber(ARGV[1]) then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRepository stores each lock as a hash under prefix+resourceID.
// Timestamps are kept as unix milliseconds.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps a client. An empty prefix selects DefaultRedisPrefix.
func NewRedis(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(resourceID string) string { return r.prefix + resourceID }

func (r *RedisRepository) Insert(ctx context.Context, lock *Lock) error {
	ttl := lock.ExpiresAt.Sub(lock.AcquiredAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	n, err := insertScript.Run(ctx, r.client, []string{r.key(lock.ResourceID)},
		lock.Token, lock.Owner,
		lock.AcquiredAt.UnixMilli(), lock.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("lockstore: insert failed: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *RedisRepository) Get(ctx context.Context, resourceID string) (*Lock, error) {
	fields, err := r.client.HGetAll(ctx, r.key(resourceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("lockstore: query failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return lockFromHash(resourceID, fields), nil
}

func (r *RedisRepository) Delete(ctx context.Context, resourceID, token string) (bool, error) {
	var (
		n   int64
		err error
	)
	if token == "" {
		n, err = r.client.Del(ctx, r.key(resourceID)).Result()
	} else {
		n, err = deleteTokenScript.Run(ctx, r.client, []string{r.key(resourceID)}, token).Int64()
	}
	if err != nil {
		return false, fmt.Errorf("lockstore: delete failed: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRepository) DeleteExpired(ctx context.Context, resourceID string, now time.Time) (bool, error) {
	n, err := deleteExpiredScript.Run(ctx, r.client, []string{r.key(resourceID)}, now.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("lockstore: delete failed: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRepository) List(ctx context.Context) ([]Lock, error) {
	var locks []Lock
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("lockstore: query failed: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		locks = append(locks, *lockFromHash(key[len(r.prefix):], fields))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("lockstore: scan failed: %w", err)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].ResourceID < locks[j].ResourceID })
	return locks, nil
}

// Close closes the client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func lockFromHash(resourceID string, fields map[string]string) *Lock {
	return &Lock{
		ResourceID: resourceID,
		Token:      fields["token"],
		Owner:      fields["owner"],
		AcquiredAt: millis(fields["acquired_at"]),
		ExpiresAt:  millis(fields["expires_at"]),
	}
}

func millis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
