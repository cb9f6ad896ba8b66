package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"broker-client/pkg/storage"
	"broker-client/pkg/storage/memory"
	"broker-client/pkg/storage/mock"

	"github.com/golang-jwt/jwt/v5"
)

func TestStore_RoundTrip(t *testing.T) {
	store := NewStore(memory.NewMemoryStore(""))
	ctx := context.Background()

	want := Session{AccessToken: "a1", RefreshToken: "r1", Username: "alice@example.com"}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("Expected %+v, got %+v", want, got)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load after clear failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected no session after clear, got %+v", got)
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	store := NewStore(memory.NewMemoryStore(""))

	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil session, got %+v", got)
	}
	if got.Authenticated() {
		t.Error("nil session must not be authenticated")
	}
}

func TestStore_ClearWithoutSession(t *testing.T) {
	store := NewStore(memory.NewMemoryStore(""))
	if err := store.Clear(context.Background()); err != nil {
		t.Errorf("Clear on empty store failed: %v", err)
	}
}

func TestStore_SaveRejectsEmptyAccessToken(t *testing.T) {
	store := NewStore(memory.NewMemoryStore(""))
	if err := store.Save(context.Background(), Session{RefreshToken: "r"}); err == nil {
		t.Error("Expected error saving session without access token")
	}
}

func TestStore_UpdateTokens(t *testing.T) {
	tests := []struct {
		name        string
		refresh     string
		wantRefresh string
	}{
		{"rotated refresh token", "r2", "r2"},
		{"refresh token omitted", "", "r1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(memory.NewMemoryStore(""))
			ctx := context.Background()
			store.Save(ctx, Session{AccessToken: "a1", RefreshToken: "r1", Username: "bob"})

			next, err := store.UpdateTokens(ctx, "a2", tt.refresh)
			if err != nil {
				t.Fatalf("UpdateTokens failed: %v", err)
			}
			if next.AccessToken != "a2" || next.RefreshToken != tt.wantRefresh || next.Username != "bob" {
				t.Errorf("Unexpected session: %+v", next)
			}

			loaded, _ := store.Load(ctx)
			if *loaded != *next {
				t.Errorf("Persisted %+v, returned %+v", loaded, next)
			}
		})
	}
}

func TestStore_LoadBackendError(t *testing.T) {
	kv := mock.NewMockStore("mock")
	kv.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		return nil, storage.ErrUnavailable
	}

	_, err := NewStore(kv).Load(context.Background())
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestAccessExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := AccessExpiry(token)
	if err != nil {
		t.Fatalf("AccessExpiry failed: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("Expected %v, got %v", exp, got)
	}

	if _, err := AccessExpiry("abc"); err == nil {
		t.Error("Expected error for opaque token")
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).SignedString([]byte("k"))
	if _, err := AccessExpiry(noExp); !errors.Is(err, ErrNoExpiry) {
		t.Errorf("Expected ErrNoExpiry, got %v", err)
	}
}
