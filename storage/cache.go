package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskmaster/domain"
)

type backend interface {
	List(ctx context.Context, userID string) ([]domain.TaskRow, error)
	Insert(ctx context.Context, row domain.TaskRow) (domain.TaskRow, error)
	Update(ctx context.Context, userID, id string, upd domain.RowUpdate) error
	Delete(ctx context.Context, userID, id string) error
}

// Cache wraps a task backend with Redis-backed caching for List. Every write
// evicts the user's cached rows.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) List(ctx context.Context, userID string) ([]domain.TaskRow, error) {
	if rows, ok := c.loadFromCache(ctx, userID); ok {
		return rows, nil
	}

	rows, err := c.base.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, userID, rows)
	return rows, nil
}

func (c *Cache) Insert(ctx context.Context, row domain.TaskRow) (domain.TaskRow, error) {
	stored, err := c.base.Insert(ctx, row)
	if err != nil {
		return domain.TaskRow{}, err
	}
	c.evict(ctx, row.UserID)
	return stored, nil
}

func (c *Cache) Update(ctx context.Context, userID, id string, upd domain.RowUpdate) error {
	if err := c.base.Update(ctx, userID, id, upd); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) Delete(ctx context.Context, userID, id string) error {
	if err := c.base.Delete(ctx, userID, id); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, userID string) ([]domain.TaskRow, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var rows []domain.TaskRow
	if err := sonic.Unmarshal(data, &rows); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return rows, true
}

func (c *Cache) store(ctx context.Context, userID string, rows []domain.TaskRow) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(rows)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(userID)).Result()
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}
