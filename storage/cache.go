package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-sync/domain"
)

type backend interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FindTask(ctx context.Context, id, userID string) (domain.Task, error)
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, id, userID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id, userID string) error
	BulkSetOrder(ctx context.Context, userID string, assignments []domain.OrderAssignment) error
}

// Cache wraps a task store with Redis-backed caching for list reads. Every
// successful mutation evicts the owner's cached list so subsequent re-fetches
// from notified peers see authoritative state.
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

func (c *Cache) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, userID); ok {
		return tasks, nil
	}

	tasks, err := c.base.FetchTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, userID, tasks)
	return tasks, nil
}

func (c *Cache) FindTask(ctx context.Context, id, userID string) (domain.Task, error) {
	return c.base.FindTask(ctx, id, userID)
}

func (c *Cache) InsertTask(ctx context.Context, task domain.Task) error {
	if err := c.base.InsertTask(ctx, task); err != nil {
		return err
	}
	c.evict(ctx, task.Owner)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, id, userID string, patch domain.TaskPatch) (domain.Task, error) {
	task, err := c.base.UpdateTask(ctx, id, userID, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, userID)
	return task, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id, userID string) error {
	if err := c.base.DeleteTask(ctx, id, userID); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) BulkSetOrder(ctx context.Context, userID string, assignments []domain.OrderAssignment) error {
	if err := c.base.BulkSetOrder(ctx, userID, assignments); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) loadTasksFromCache(ctx context.Context, userID string) ([]domain.Task, bool) {
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
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
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
