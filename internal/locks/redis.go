package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisManager keeps each lock in a hash under lock:{contentID} with a
// PEXPIRE matching the lock TTL, so expired locks vanish on their own. The
// compare-and-set steps run as Lua scripts to stay atomic.
type RedisManager struct {
	client *redis.Client
	prefix string
}

func NewRedisManager(redisURL string) (*RedisManager, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisManagerWithClient(client), nil
}

func NewRedisManagerWithClient(client *redis.Client) *RedisManager {
	return &RedisManager{client: client, prefix: "lock:"}
}

func (m *RedisManager) key(contentID string) string {
	return m.prefix + contentID
}

// acquireScript claims the lock when it is free or already ours, otherwise
// returns the competing hash so the caller can report who holds it.
var acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder_id')
if holder == false then
	redis.call('HSET', KEYS[1],
		'holder_id', ARGV[1],
		'holder_name', ARGV[2],
		'acquired_at', ARGV[3],
		'expires_at', ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return {'OK'}
end
if holder == ARGV[1] then
	redis.call('HSET', KEYS[1], 'expires_at', ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return {'OK'}
end
return redis.call('HGETALL', KEYS[1])
`)

var extendScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder_id')
if holder == false then
	return 'NONE'
end
if holder ~= ARGV[1] then
	return 'HELD'
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 'OK'
`)

var releaseScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder_id')
if holder == false then
	return 'OK'
end
if holder ~= ARGV[1] then
	return 'HELD'
end
redis.call('DEL', KEYS[1])
return 'OK'
`)

func (m *RedisManager) Acquire(ctx context.Context, contentID string, holder Holder, ttl time.Duration) (Lock, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	raw, err := acquireScript.Run(ctx, m.client, []string{m.key(contentID)},
		holder.ID, holder.Name,
		now.Format(time.RFC3339Nano), expiresAt.Format(time.RFC3339Nano),
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Lock{}, fmt.Errorf("acquire lock: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok {
		return Lock{}, fmt.Errorf("acquire lock: unexpected reply %T", raw)
	}
	if len(reply) == 1 && reply[0] == "OK" {
		return Lock{
			ContentID:  contentID,
			HolderID:   holder.ID,
			HolderName: holder.Name,
			AcquiredAt: now,
			ExpiresAt:  expiresAt,
		}, nil
	}

	current, err := lockFromPairs(contentID, reply)
	if err != nil {
		return Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	return Lock{}, &ConflictError{Lock: current}
}

func (m *RedisManager) Extend(ctx context.Context, contentID, holderID string, ttl time.Duration) (Lock, error) {
	expiresAt := time.Now().UTC().Add(ttl)

	raw, err := extendScript.Run(ctx, m.client, []string{m.key(contentID)},
		holderID, expiresAt.Format(time.RFC3339Nano), ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Lock{}, fmt.Errorf("extend lock: %w", err)
	}

	switch raw {
	case "OK":
		return m.Get(ctx, contentID)
	case "HELD":
		return Lock{}, ErrNotHolder
	case "NONE":
		return Lock{}, ErrNotFound
	}
	return Lock{}, fmt.Errorf("extend lock: unexpected reply %v", raw)
}

func (m *RedisManager) Release(ctx context.Context, contentID, holderID string) error {
	raw, err := releaseScript.Run(ctx, m.client, []string{m.key(contentID)}, holderID).Result()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if raw == "HELD" {
		return ErrNotHolder
	}
	return nil
}

func (m *RedisManager) Get(ctx context.Context, contentID string) (Lock, error) {
	fields, err := m.client.HGetAll(ctx, m.key(contentID)).Result()
	if err != nil {
		return Lock{}, fmt.Errorf("get lock: %w", err)
	}
	if len(fields) == 0 {
		return Lock{}, ErrNotFound
	}
	return lockFromMap(contentID, fields)
}

func (m *RedisManager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisManager) Close() error {
	return m.client.Close()
}

func lockFromPairs(contentID string, reply []interface{}) (Lock, error) {
	fields := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		fields[k] = v
	}
	return lockFromMap(contentID, fields)
}

func lockFromMap(contentID string, fields map[string]string) (Lock, error) {
	acquiredAt, err := time.Parse(time.RFC3339Nano, fields["acquired_at"])
	if err != nil {
		return Lock{}, fmt.Errorf("parse acquired_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return Lock{}, fmt.Errorf("parse expires_at: %w", err)
	}
	return Lock{
		ContentID:  contentID,
		HolderID:   fields["holder_id"],
		HolderName: fields["holder_name"],
		AcquiredAt: acquiredAt,
		ExpiresAt:  expiresAt,
	}, nil
}
