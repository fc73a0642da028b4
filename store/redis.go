package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rushteam/recsync/core"
)

// RedisStore 是 Redis 实现的 Store，用于多实例共享环境信息缓存。
// 所有 key 自动加上 prefix，避免与其他业务冲突。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisStore 连接 Redis 并返回 Store，Close 时会关闭连接
func NewRedisStore(addr string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "store: redis ping failed", err)
	}
	return &RedisStore{client: client, prefix: prefix, owned: true}, nil
}

// NewRedisStoreWithClient 使用已有客户端创建 Store。
// 调用方保留客户端所有权，Close 不会关闭它。
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) key(k string) string { return r.prefix + k }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrStoreNotFound
	}
	return val, err
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	return r.client.Set(ctx, r.key(key), value, ttlDuration(ttl)).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *RedisStore) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

var _ core.Store = (*RedisStore)(nil)
