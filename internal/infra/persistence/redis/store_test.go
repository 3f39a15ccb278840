package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewStore(context.Background(), "redis://"+mr.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestSaveLoadDelete(t *testing.T) {
	store, mr := setupTestRedis(t, 0)
	ctx := context.Background()

	if _, ok, err := store.Load(ctx, "session"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Save(ctx, "session", []byte(`{"token":"a"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, err := mr.Get("evalgrid:session"); err != nil || got != `{"token":"a"}` {
		t.Fatalf("unexpected raw key %q %v", got, err)
	}
	if ttl := mr.TTL("evalgrid:session"); ttl != 0 {
		t.Fatalf("expected no ttl, got %v", ttl)
	}
	payload, ok, err := store.Load(ctx, "session")
	if err != nil || !ok || string(payload) != `{"token":"a"}` {
		t.Fatalf("unexpected load %q ok=%v err=%v", payload, ok, err)
	}
	if err := store.Delete(ctx, "session"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("evalgrid:session") {
		t.Fatalf("expected key removed")
	}
}

func TestSessionExpires(t *testing.T) {
	store, mr := setupTestRedis(t, time.Hour)
	ctx := context.Background()
	if err := store.Save(ctx, "session", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("evalgrid:session"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if _, ok, err := store.Load(ctx, "session"); err != nil || ok {
		t.Fatalf("expected expired bucket, got ok=%v err=%v", ok, err)
	}
}

func TestNewStoreErrors(t *testing.T) {
	if _, err := NewStore(context.Background(), "://bad", 0); err == nil {
		t.Fatalf("expected parse error")
	}
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewStore(context.Background(), "redis://"+addr, 0); err == nil {
		t.Fatalf("expected connection error")
	}
}
