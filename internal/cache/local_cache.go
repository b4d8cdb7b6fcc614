package cache

import (
	"sync"
	"time"

	"coinup/backend/internal/domain"
)

// LocalTopupCache 进程内充值请求缓存。
//
// 未启用 Redis 时作为查询加速层使用，语义与 Redis 实现一致：
// 未命中返回 (nil, nil)，由调用方回源存储层。
type LocalTopupCache struct {
	data sync.Map
	ttl  time.Duration
}

type cacheEntry struct {
	topup     domain.TopupRequest
	expiresAt time.Time
}

// NewLocalTopupCache 创建本地缓存，ttl 为默认过期时间
func NewLocalTopupCache(ttl time.Duration) *LocalTopupCache {
	c := &LocalTopupCache{ttl: ttl}
	go c.cleanupLoop()
	return c
}

// CacheTopup 写入充值请求快照，ttl 为 0 时使用默认值
func (c *LocalTopupCache) CacheTopup(topup *domain.TopupRequest, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.data.Store(topup.ID, &cacheEntry{
		topup:     *topup,
		expiresAt: time.Now().Add(ttl),
	})
	return nil
}

// GetCachedTopup 读取缓存的充值请求，未命中或已过期返回 nil
func (c *LocalTopupCache) GetCachedTopup(topupID string) (*domain.TopupRequest, error) {
	val, ok := c.data.Load(topupID)
	if !ok {
		return nil, nil
	}

	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.data.Delete(topupID)
		return nil, nil
	}

	snapshot := entry.topup
	return &snapshot, nil
}

// DeleteCachedTopup 删除缓存条目，状态变更后调用保证读到最新值
func (c *LocalTopupCache) DeleteCachedTopup(topupID string) error {
	c.data.Delete(topupID)
	return nil
}

// cleanupLoop 定期清理过期条目
func (c *LocalTopupCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.data.Range(func(key, value interface{}) bool {
			if now.After(value.(*cacheEntry).expiresAt) {
				c.data.Delete(key)
			}
			return true
		})
	}
}
