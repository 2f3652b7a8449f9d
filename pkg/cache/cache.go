package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"AssetRadar/pkg/config"
)

// Cache 查询结果缓存，值以 JSON 存储
type Cache interface {
	// Get 命中时将值解码到 dest 并返回 true
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New 根据配置创建缓存
func New(cfg *config.Config, log *zap.Logger) (Cache, error) {
	switch cfg.Cache.Driver {
	case "redis":
		return NewRedis(cfg.Cache.RedisURL, log)
	default:
		return NewMemory(cfg.Monitoring.TrendCacheTTL), nil
	}
}

// Memory 进程内缓存
type Memory struct {
	store *gocache.Cache
}

// NewMemory 创建进程内缓存
func NewMemory(defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	return &Memory{store: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	raw, ok := m.store.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw.([]byte), dest); err != nil {
		return false, fmt.Errorf("解码缓存失败: %w", err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("编码缓存失败: %w", err)
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(key, data, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *Memory) Close() error {
	m.store.Flush()
	return nil
}

// Redis 多实例共享缓存
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedis 连接 Redis，url 形如 redis://:password@host:6379/0
func NewRedis(url string, log *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("解析 Redis 地址失败: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	log.Info("Redis 缓存已连接", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return &Redis{client: client, log: log}, nil
}

// NewRedisFromClient 使用已有客户端
func NewRedisFromClient(client *redis.Client, log *zap.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取缓存失败: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("解码缓存失败: %w", err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("编码缓存失败: %w", err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
