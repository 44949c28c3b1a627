package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskmaster/domain"
)

type stubBackend struct {
	listFn   func(ctx context.Context, userID string) ([]domain.TaskRow, error)
	insertFn func(ctx context.Context, row domain.TaskRow) (domain.TaskRow, error)
	updateFn func(ctx context.Context, userID, id string, upd domain.RowUpdate) error
	deleteFn func(ctx context.Context, userID, id string) error
}

func (s *stubBackend) List(ctx context.Context, userID string) ([]domain.TaskRow, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected List call")
	}
	return s.listFn(ctx, userID)
}

func (s *stubBackend) Insert(ctx context.Context, row domain.TaskRow) (domain.TaskRow, error) {
	if s.insertFn == nil {
		return domain.TaskRow{}, errors.New("unexpected Insert call")
	}
	return s.insertFn(ctx, row)
}

func (s *stubBackend) Update(ctx context.Context, userID, id string, upd domain.RowUpdate) error {
	if s.updateFn == nil {
		return errors.New("unexpected Update call")
	}
	return s.updateFn(ctx, userID, id, upd)
}

func (s *stubBackend) Delete(ctx context.Context, userID, id string) error {
	if s.deleteFn == nil {
		return errors.New("unexpected Delete call")
	}
	return s.deleteFn(ctx, userID, id)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func rowIDs(rows []domain.TaskRow) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

func TestCacheListMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)

	ctx := context.Background()
	userID := "user-1"
	due := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	expected := []domain.TaskRow{{ID: "t1", UserID: userID, Title: "Write code", Priority: domain.PriorityHigh, Tags: []string{"work"}, DueDate: &due}}

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, uid string) ([]domain.TaskRow, error) {
			calls++
			if uid != userID {
				t.Fatalf("unexpected user id: %s", uid)
			}
			return append([]domain.TaskRow(nil), expected...), nil
		},
	}, client, time.Minute)

	rows, err := cache.List(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "t1" {
		t.Fatalf("unexpected rows: %#v", rows)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(tasksCacheKey(userID)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.List(ctx, userID)
	if err != nil {
		t.Fatalf("list cached: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached list to avoid backend, calls=%d", calls)
	}
	if len(cached) != 1 || cached[0].Title != "Write code" || cached[0].Priority != domain.PriorityHigh {
		t.Fatalf("unexpected cached rows: %#v", cached)
	}
	if cached[0].DueDate == nil || !cached[0].DueDate.Equal(due) {
		t.Fatalf("expected due date to survive caching, got %v", cached[0].DueDate)
	}
	if len(cached[0].Tags) != 1 || cached[0].Tags[0] != "work" {
		t.Fatalf("expected tags to survive caching, got %#v", cached[0].Tags)
	}
}

func TestCacheWritesEvictUserKey(t *testing.T) {
	ctx := context.Background()
	userID := "user-2"

	writes := map[string]func(c *Cache) error{
		"insert": func(c *Cache) error {
			_, err := c.Insert(ctx, domain.TaskRow{UserID: userID, Title: "new"})
			return err
		},
		"update": func(c *Cache) error {
			title := "renamed"
			return c.Update(ctx, userID, "t1", domain.RowUpdate{Title: &title})
		},
		"delete": func(c *Cache) error {
			return c.Delete(ctx, userID, "t1")
		},
	}

	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			mr, client := newTestRedis(t)
			cache := NewCache(&stubBackend{
				listFn: func(context.Context, string) ([]domain.TaskRow, error) {
					return []domain.TaskRow{{ID: "t1", Title: "old"}}, nil
				},
				insertFn: func(_ context.Context, row domain.TaskRow) (domain.TaskRow, error) {
					row.ID = "t2"
					return row, nil
				},
				updateFn: func(context.Context, string, string, domain.RowUpdate) error { return nil },
				deleteFn: func(context.Context, string, string) error { return nil },
			}, client, time.Minute)

			if _, err := cache.List(ctx, userID); err != nil {
				t.Fatalf("list: %v", err)
			}
			if !mr.Exists(tasksCacheKey(userID)) {
				t.Fatalf("expected rows to be cached")
			}
			if err := write(cache); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if mr.Exists(tasksCacheKey(userID)) {
				t.Fatalf("expected %s to evict the cache key", name)
			}
		})
	}
}

func TestCacheWriteErrorPreservesCache(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	userID := "user-3"

	boom := errors.New("boom")
	cache := NewCache(&stubBackend{
		listFn: func(context.Context, string) ([]domain.TaskRow, error) {
			return []domain.TaskRow{{ID: "t1"}}, nil
		},
		deleteFn: func(context.Context, string, string) error { return boom },
	}, client, time.Minute)

	if _, err := cache.List(ctx, userID); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := cache.Delete(ctx, userID, "t1"); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !mr.Exists(tasksCacheKey(userID)) {
		t.Fatalf("cache should survive a failed write")
	}
}

func TestCacheCorruptEntryFallsBackToBackend(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	userID := "user-4"

	if err := mr.Set(tasksCacheKey(userID), "{not json"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(context.Context, string) ([]domain.TaskRow, error) {
			calls++
			return []domain.TaskRow{{ID: "t1"}, {ID: "t2"}}, nil
		},
	}, client, time.Minute)

	rows, err := cache.List(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := rowIDs(rows); len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Fatalf("unexpected rows: %#v", got)
	}
	if calls != 1 {
		t.Fatalf("expected backend to be used, calls=%d", calls)
	}
}

func TestCacheZeroTTLSkipsStore(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubBackend{
		listFn: func(context.Context, string) ([]domain.TaskRow, error) {
			return []domain.TaskRow{{ID: "t1"}}, nil
		},
	}, client, 0)

	if _, err := cache.List(ctx, "user-5"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if mr.Exists(tasksCacheKey("user-5")) {
		t.Fatalf("expected nothing cached with zero TTL")
	}
}
