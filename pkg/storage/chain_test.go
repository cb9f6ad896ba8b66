package storage_test

import (
	"context"
	"errors"
	"testing"

	"broker-client/pkg/storage"
	"broker-client/pkg/storage/memory"
	"broker-client/pkg/storage/mock"
)

func TestNewChain_RequiresLayer(t *testing.T) {
	if _, err := storage.NewChain(); err == nil {
		t.Error("Expected error for empty chain")
	}
}

func TestChain_GetWarmsUpperLayers(t *testing.T) {
	l1 := memory.NewMemoryStore("L1")
	l2 := mock.NewMockStore("L2")
	ctx := context.Background()
	l2.Set(ctx, "k", []byte("from-l2"))

	c, err := storage.NewChain(l1, l2)
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "from-l2" {
		t.Errorf("Expected 'from-l2', got '%s'", got)
	}

	warmed, err := l1.Get(ctx, "k")
	if err != nil || string(warmed) != "from-l2" {
		t.Errorf("Expected L1 warmed with 'from-l2', got '%s' (%v)", warmed, err)
	}

	// Second read is served by L1.
	before := l2.GetCalls()
	c.Get(ctx, "k")
	if l2.GetCalls() != before {
		t.Errorf("L2 should not be read after warm-up")
	}
}

func TestChain_GetSkipsFailingLayer(t *testing.T) {
	broken := mock.NewMockStore("broken")
	broken.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		return nil, storage.ErrUnavailable
	}
	l2 := mock.NewMockStore("L2")
	ctx := context.Background()
	l2.Set(ctx, "k", []byte("v"))

	c, _ := storage.NewChain(broken, l2)
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Expected 'v', got '%s'", got)
	}
}

func TestChain_AllMiss(t *testing.T) {
	c, _ := storage.NewChain(memory.NewMemoryStore("L1"), memory.NewMemoryStore("L2"))
	if _, err := c.Get(context.Background(), "missing"); !storage.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestChain_SetAndDeleteReachAllLayers(t *testing.T) {
	l1 := mock.NewMockStore("L1")
	l2 := mock.NewMockStore("L2")
	l2.SetFunc = func(ctx context.Context, key string, value []byte) error {
		return errors.New("disk full")
	}
	c, _ := storage.NewChain(l1, l2)
	ctx := context.Background()

	err := c.Set(ctx, "k", []byte("v"))
	if err == nil {
		t.Fatal("Expected joined error from failing layer")
	}
	if l1.SetCalls() != 1 || l2.SetCalls() != 1 {
		t.Errorf("Expected one Set per layer, got L1=%d L2=%d", l1.SetCalls(), l2.SetCalls())
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if l1.DeleteCalls() != 1 || l2.DeleteCalls() != 1 {
		t.Errorf("Expected one Delete per layer")
	}

	if c.Name() != "chain(L1>L2)" {
		t.Errorf("Unexpected name %s", c.Name())
	}
}
