package state

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	empty, err := Load(path)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if empty.AccessToken != "" {
		t.Fatalf("expected empty state")
	}

	expires := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := Save(path, TokenState{AccessToken: "abc", UserID: 7, ExpiresAt: expires}); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.AccessToken != "abc" || loaded.UserID != 7 || !loaded.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected state %+v", loaded)
	}

	if err := Clear(path); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if (TokenState{}).Expired(now) {
		t.Fatalf("token without expiry should not expire")
	}
	if !(TokenState{ExpiresAt: now}).Expired(now) {
		t.Fatalf("token is expired at its expiry instant")
	}
	if (TokenState{ExpiresAt: now.Add(time.Second)}).Expired(now) {
		t.Fatalf("token before expiry reported expired")
	}
}
