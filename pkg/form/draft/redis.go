package draft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix 默认键前缀
const DefaultKeyPrefix = "form:draft:"

// redisClient RedisRepository 依赖的命令子集，redis.Cmdable 满足该接口
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisRepository 基于 Redis 的草稿仓储，草稿以 JSON 存储并带过期时间
type RedisRepository struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedisRepository 创建仓储，ttl 为 0 表示不过期
func NewRedisRepository(client redis.Cmdable, prefix string, ttl time.Duration) *RedisRepository {
	return newRedisRepository(client, prefix, ttl)
}

func newRedisRepository(client redisClient, prefix string, ttl time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRepository) key(formKey string) string {
	return r.prefix + formKey
}

// Save 实现 Repository 接口
func (r *RedisRepository) Save(ctx context.Context, d *Draft) error {
	if d == nil || d.FormKey == "" {
		return ErrEmptyFormKey
	}

	data, err := encode(d)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(d.FormKey), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("draft: save %s: %w", d.FormKey, err)
	}
	return nil
}

// Load 实现 Repository 接口
func (r *RedisRepository) Load(ctx context.Context, formKey string) (*Draft, error) {
	data, err := r.client.Get(ctx, r.key(formKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrDraftNotFound, formKey)
	}
	if err != nil {
		return nil, fmt.Errorf("draft: load %s: %w", formKey, err)
	}
	return decode(data)
}

// Delete 实现 Repository 接口
func (r *RedisRepository) Delete(ctx context.Context, formKey string) error {
	if err := r.client.Del(ctx, r.key(formKey)).Err(); err != nil {
		return fmt.Errorf("draft: delete %s: %w", formKey, err)
	}
	return nil
}
