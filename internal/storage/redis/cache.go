package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"coinup/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// Cache Redis 缓存实现。
//
// 缓存层是可选加速，不参与任何正确性保证：充值状态缓存只服务
// 高频轮询的状态查询接口，入账事务落库后由调用方主动失效。
type Cache struct {
	client *redis.Client
	ctx    context.Context
}

// NewCache 创建 Redis 缓存实例
func NewCache(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{
		client: client,
		ctx:    ctx,
	}, nil
}

// ========== 充值状态缓存 ==========

// CacheTopup 缓存充值请求
func (c *Cache) CacheTopup(topup *domain.TopupRequest, ttl time.Duration) error {
	key := fmt.Sprintf("topup:%s", topup.ID)
	data, err := json.Marshal(topup)
	if err != nil {
		return err
	}
	return c.client.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedTopup 获取缓存的充值请求
func (c *Cache) GetCachedTopup(topupID string) (*domain.TopupRequest, error) {
	key := fmt.Sprintf("topup:%s", topupID)
	data, err := c.client.Get(c.ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var topup domain.TopupRequest
	if err := json.Unmarshal([]byte(data), &topup); err != nil {
		return nil, err
	}
	return &topup, nil
}

// DeleteCachedTopup 删除缓存的充值请求（入账或过期落库后失效）
func (c *Cache) DeleteCachedTopup(topupID string) error {
	key := fmt.Sprintf("topup:%s", topupID)
	return c.client.Del(c.ctx, key).Err()
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 把 JWT 加入黑名单
func (c *Cache) AddToBlacklist(jti string, ttl time.Duration) error {
	key := fmt.Sprintf("jwt:blacklist:%s", jti)
	return c.client.Set(c.ctx, key, "1", ttl).Err()
}

// IsBlacklisted 查询 JWT 是否在黑名单内
func (c *Cache) IsBlacklisted(jti string) (bool, error) {
	key := fmt.Sprintf("jwt:blacklist:%s", jti)
	n, err := c.client.Exists(c.ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ========== 速率限制 ==========

// IncrementRateLimit 递增限流计数并返回当前值，首次递增设置窗口过期
func (c *Cache) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := c.client.Incr(c.ctx, redisKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.client.Expire(c.ctx, redisKey, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// GetRateLimit 查询限流计数当前值
func (c *Cache) GetRateLimit(key string) (int64, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	count, err := c.client.Get(c.ctx, redisKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health 检查 Redis 健康状态
func (c *Cache) Health() error {
	return c.client.Ping(c.ctx).Err()
}
