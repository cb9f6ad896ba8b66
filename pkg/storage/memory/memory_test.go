package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"broker-client/pkg/storage"
)

func TestMemoryStore_SetGet(t *testing.T) {
	s := NewMemoryStore("")
	defer s.Close()
	ctx := context.Background()

	if s.Name() != "memory" {
		t.Errorf("Expected default name 'memory', got '%s'", s.Name())
	}

	if err := s.Set(ctx, storage.KeyAuthToken, []byte("abc")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, storage.KeyAuthToken)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("Expected 'abc', got '%s'", got)
	}
}

func TestMemoryStore_ValueIsCopied(t *testing.T) {
	s := NewMemoryStore("test")
	ctx := context.Background()

	buf := []byte("original")
	s.Set(ctx, "k", buf)
	buf[0] = 'X'

	got, _ := s.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("Stored value was aliased: got '%s'", got)
	}

	got[0] = 'Y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("Returned value was aliased: got '%s'", again)
	}
}

func TestMemoryStore_NotFoundAndDelete(t *testing.T) {
	s := NewMemoryStore("test")
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !storage.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	s.Set(ctx, "k", []byte("v"))
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Deleting a missing key should succeed, got %v", err)
	}
	if _, err := s.Get(ctx, "k"); !storage.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_InvalidKey(t *testing.T) {
	s := NewMemoryStore("test")
	ctx := context.Background()

	for _, key := range []string{"", " padded", "ctl\x00"} {
		if err := s.Set(ctx, key, []byte("v")); err == nil {
			t.Errorf("Expected error for key %q", key)
		}
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore("test")
	s.Close()

	if err := s.Set(context.Background(), "k", nil); err != storage.ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore("test")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			s.Set(ctx, key, []byte(key))
			s.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if s.Len() != 50 {
		t.Errorf("Expected 50 keys, got %d", s.Len())
	}
}
