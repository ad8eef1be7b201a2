package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"todo-sync/domain"
)

type fakeBackend struct {
	tasks      []domain.Task
	fetchCalls int
	err        error
}

func (f *fakeBackend) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	f.fetchCalls++
	return f.tasks, f.err
}

func (f *fakeBackend) FindTask(ctx context.Context, id, userID string) (domain.Task, error) {
	for _, t := range f.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Task{}, ErrNotFound
}

func (f *fakeBackend) InsertTask(ctx context.Context, task domain.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeBackend) UpdateTask(ctx context.Context, id, userID string, patch domain.TaskPatch) (domain.Task, error) {
	if f.err != nil {
		return domain.Task{}, f.err
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			patch.Apply(&f.tasks[i], time.Now())
			return f.tasks[i], nil
		}
	}
	return domain.Task{}, ErrNotFound
}

func (f *fakeBackend) DeleteTask(ctx context.Context, id, userID string) error {
	return f.err
}

func (f *fakeBackend) BulkSetOrder(ctx context.Context, userID string, assignments []domain.OrderAssignment) error {
	return f.err
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return rc
}

func TestCacheFetchTasksPopulatesAndServes(t *testing.T) {
	rc := setupRedis(t)
	base := &fakeBackend{tasks: []domain.Task{{ID: "t1", Owner: "u1", Title: "x"}}}
	c := NewCache(base, rc, time.Minute)

	ctx := context.Background()
	if _, err := c.FetchTasks(ctx, "u1"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.FetchTasks(ctx, "u1"); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if base.fetchCalls != 1 {
		t.Fatalf("expected one backend fetch, got %d", base.fetchCalls)
	}

	data, err := rc.Get(ctx, tasksCacheKey("u1")).Bytes()
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	var cached []domain.Task
	if err := json.Unmarshal(data, &cached); err != nil {
		t.Fatalf("cache decode: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "t1" {
		t.Fatalf("unexpected cache contents: %+v", cached)
	}
}

func TestCacheMutationsEvict(t *testing.T) {
	rc := setupRedis(t)
	base := &fakeBackend{tasks: []domain.Task{{ID: "t1", Owner: "u1", Title: "x"}}}
	c := NewCache(base, rc, time.Minute)
	ctx := context.Background()

	prime := func() {
		if _, err := c.FetchTasks(ctx, "u1"); err != nil {
			t.Fatalf("prime: %v", err)
		}
		if rc.Exists(ctx, tasksCacheKey("u1")).Val() != 1 {
			t.Fatal("cache not primed")
		}
	}
	expectEvicted := func(op string) {
		if rc.Exists(ctx, tasksCacheKey("u1")).Val() != 0 {
			t.Fatalf("%s did not evict the cached list", op)
		}
	}

	prime()
	if err := c.InsertTask(ctx, domain.Task{ID: "t2", Owner: "u1", Title: "y"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	expectEvicted("insert")

	prime()
	title := "z"
	if _, err := c.UpdateTask(ctx, "t1", "u1", domain.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	expectEvicted("update")

	prime()
	if err := c.DeleteTask(ctx, "t1", "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	expectEvicted("delete")

	prime()
	if err := c.BulkSetOrder(ctx, "u1", []domain.OrderAssignment{{ID: "t1", Order: 0}}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	expectEvicted("reorder")
}

func TestCacheFailedMutationKeepsCache(t *testing.T) {
	rc := setupRedis(t)
	base := &fakeBackend{tasks: []domain.Task{{ID: "t1", Owner: "u1"}}}
	c := NewCache(base, rc, time.Minute)
	ctx := context.Background()

	if _, err := c.FetchTasks(ctx, "u1"); err != nil {
		t.Fatalf("prime: %v", err)
	}

	base.err = context.DeadlineExceeded
	if err := c.BulkSetOrder(ctx, "u1", nil); err == nil {
		t.Fatal("expected error from backend")
	}
	if rc.Exists(ctx, tasksCacheKey("u1")).Val() != 1 {
		t.Fatal("failed mutation must not evict the cache")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	rc := setupRedis(t)
	base := &fakeBackend{tasks: []domain.Task{{ID: "t1", Owner: "u1"}}}
	c := NewCache(base, rc, time.Minute)
	ctx := context.Background()

	if err := rc.Set(ctx, tasksCacheKey("u1"), "not json", 0).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tasks, err := c.FetchTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tasks) != 1 || base.fetchCalls != 1 {
		t.Fatalf("expected backend fallback, calls=%d tasks=%+v", base.fetchCalls, tasks)
	}
}

func TestCacheWithoutRedisDelegates(t *testing.T) {
	base := &fakeBackend{tasks: []domain.Task{{ID: "t1", Owner: "u1"}}}
	c := NewCache(base, nil, time.Minute)
	if _, err := c.FetchTasks(context.Background(), "u1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if base.fetchCalls != 1 {
		t.Fatalf("expected delegate call, got %d", base.fetchCalls)
	}
}
