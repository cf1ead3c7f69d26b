package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	data := TokenData{UserID: "usr_123", Role: "buyer"}
	if err := store.SaveRefreshSession(ctx, "hash-1", data, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	got, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.UserID != "usr_123" || got.Role != "buyer" {
		t.Errorf("got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped on save")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-exp", TokenData{UserID: "usr_456"}, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := store.LookupRefreshSession(ctx, "hash-exp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired token, got %v", err)
	}
}

func TestSaveAlreadyExpiredFails(t *testing.T) {
	store, _ := setupTestRedis(t)

	err := store.SaveRefreshSession(context.Background(), "hash-past", TokenData{UserID: "usr_1"}, time.Now().Add(-time.Minute))
	if err == nil {
		t.Error("expected error saving a token that is already expired")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	if _, err := store.LookupRefreshSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-revoke", TokenData{UserID: "usr_789"}, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := store.RevokeRefreshSession(ctx, "hash-revoke"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "hash-revoke"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}

	// Revoking an unknown token is a no-op.
	if err := store.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Errorf("revoke of unknown token failed: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, "token-1", TokenData{UserID: "usr_1", Role: "seller"}, expiresAt); err != nil {
		t.Fatalf("save token-1: %v", err)
	}
	if err := store.SaveRefreshSession(ctx, "token-2", TokenData{UserID: "usr_2", Role: "buyer"}, expiresAt); err != nil {
		t.Fatalf("save token-2: %v", err)
	}

	if err := store.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("revoke token-1: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("token-1 should be gone, got %v", err)
	}

	got, err := store.LookupRefreshSession(ctx, "token-2")
	if err != nil {
		t.Fatalf("token-2 lookup after revoking token-1: %v", err)
	}
	if got.UserID != "usr_2" || got.Role != "buyer" {
		t.Errorf("token-2 data = %+v", got)
	}
}
