package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/util"
)

// Cache stores encoded segmentation results by input hash.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
}

// Cached serves repeated uploads of the same file from a Cache. Cache
// failures are logged and never fail a segmentation.
type Cached struct {
	remover Remover
	cache   Cache
}

func NewCached(r Remover, c Cache) *Cached {
	return &Cached{remover: r, cache: c}
}

func (c *Cached) Remove(ctx context.Context, data []byte, progress func(float64)) (image.Image, error) {
	key := util.BytesMD5(data)

	if hit, ok, err := c.cache.Get(ctx, key); err != nil {
		util.Logger.Warn("segment cache get failed", zap.String("md5", key), zap.Error(err))
	} else if ok {
		if img, err := util.DecodeImage(hit); err == nil {
			util.Logger.Debug("segment cache hit", zap.String("md5", key))
			report(progress, 1)
			return img, nil
		}
	}

	img, err := c.remover.Remove(ctx, data, progress)
	if err != nil {
		return nil, err
	}

	encoded, err := util.EncodePNG(img)
	if err != nil {
		return img, nil
	}
	if err := c.cache.Set(ctx, key, encoded); err != nil {
		util.Logger.Warn("segment cache set failed", zap.String("md5", key), zap.Error(err))
	}
	return img, nil
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, ttl: ttl}
}

func (s *RedisCache) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, "cutout:"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

func (s *RedisCache) Set(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, "cutout:"+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisCache) Close() error {
	return s.client.Close()
}

// MemoryCache is the in-process Cache used when redis is not configured.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string][]byte)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.items[key]
	return data, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	return nil
}
