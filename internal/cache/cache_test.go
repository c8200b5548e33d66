package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return c, s
}

type record struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func TestFetchCachesLoaderResult(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	loads := 0
	load := func(context.Context) (record, error) {
		loads++
		return record{ID: "a", Value: 42}, nil
	}

	first, err := Fetch(ctx, c, "user-1", ScopeAll, load)
	if err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	second, err := Fetch(ctx, c, "user-1", ScopeAll, load)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}

	if loads != 1 {
		t.Errorf("expected 1 load, got %d", loads)
	}
	if first != second {
		t.Errorf("expected cached value %+v, got %+v", first, second)
	}
}

func TestFetchAfterInvalidateReloads(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	value := 1
	load := func(context.Context) (record, error) {
		return record{ID: "a", Value: value}, nil
	}

	got, err := Fetch(ctx, c, "user-1", ScopeType("canvas"), load)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got.Value != 1 {
		t.Fatalf("expected value 1, got %d", got.Value)
	}

	value = 2
	if err := c.Invalidate(ctx, "user-1", ScopeType("canvas")); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	got, err = Fetch(ctx, c, "user-1", ScopeType("canvas"), load)
	if err != nil {
		t.Fatalf("Fetch after invalidate failed: %v", err)
	}
	if got.Value != 2 {
		t.Errorf("expected reloaded value 2, got %d", got.Value)
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	if err := c.Invalidate(ctx, "user-1", ScopeAll, ScopeType("pitch")); err != nil {
		t.Fatalf("first Invalidate failed: %v", err)
	}
	if err := c.Invalidate(ctx, "user-1", ScopeAll, ScopeType("pitch")); err != nil {
		t.Fatalf("repeat Invalidate failed: %v", err)
	}
}

func TestScopesAreIsolatedPerOwner(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	loads := map[string]int{}
	loaderFor := func(owner string) func(context.Context) (record, error) {
		return func(context.Context) (record, error) {
			loads[owner]++
			return record{ID: owner}, nil
		}
	}

	if _, err := Fetch(ctx, c, "user-1", ScopeAll, loaderFor("user-1")); err != nil {
		t.Fatalf("Fetch user-1 failed: %v", err)
	}
	if _, err := Fetch(ctx, c, "user-2", ScopeAll, loaderFor("user-2")); err != nil {
		t.Fatalf("Fetch user-2 failed: %v", err)
	}

	// Invalidating user-1 must not evict user-2.
	if err := c.Invalidate(ctx, "user-1", ScopeAll); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := Fetch(ctx, c, "user-2", ScopeAll, loaderFor("user-2")); err != nil {
		t.Fatalf("Fetch user-2 after invalidate failed: %v", err)
	}
	if loads["user-2"] != 1 {
		t.Errorf("expected user-2 loaded once, got %d", loads["user-2"])
	}
	if _, err := Fetch(ctx, c, "user-1", ScopeAll, loaderFor("user-1")); err != nil {
		t.Fatalf("Fetch user-1 after invalidate failed: %v", err)
	}
	if loads["user-1"] != 2 {
		t.Errorf("expected user-1 loaded twice, got %d", loads["user-1"])
	}
}

func TestFetchPropagatesLoaderError(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	wantErr := errors.New("store unavailable")
	_, err := Fetch(context.Background(), c, "user-1", ScopeAll, func(context.Context) (record, error) {
		return record{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected loader error, got %v", err)
	}
}

func TestFetchDegradesWhenRedisDown(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()

	s.Close()

	got, err := Fetch(context.Background(), c, "user-1", ScopeAll, func(context.Context) (record, error) {
		return record{ID: "direct"}, nil
	})
	if err != nil {
		t.Fatalf("Fetch with redis down failed: %v", err)
	}
	if got.ID != "direct" {
		t.Errorf("expected direct load, got %+v", got)
	}
}
