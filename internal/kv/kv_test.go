package kv_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stridehq/stride/internal/kv"
)

func newTestMemory(t *testing.T) *kv.Memory {
	t.Helper()
	m := kv.NewMemory()
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSetGet(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, found, err := m.Get(ctx, "k")
	if err != nil || !found || got != "v" {
		t.Errorf("Get() = (%q, %v, %v), want (v, true, nil)", got, found, err)
	}

	if _, found, _ := m.Get(ctx, "missing"); found {
		t.Error("Get() found a key never set")
	}
}

func TestTTLExpiry(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "short", "v", 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	if _, found, _ := m.Get(ctx, "short"); found {
		t.Error("Get() found an expired key")
	}

	// ttl <= 0 means no expiry.
	m.Set(ctx, "forever", "v", 0)
	time.Sleep(30 * time.Millisecond)
	if _, found, _ := m.Get(ctx, "forever"); !found {
		t.Error("zero-ttl key expired")
	}
}

func TestExpire_ExtendsAndClears(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k", "v", 30*time.Millisecond)
	// Keep extending past the original TTL.
	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		if err := m.Expire(ctx, "k", 30*time.Millisecond); err != nil {
			t.Fatalf("Expire() error = %v", err)
		}
	}
	if _, found, _ := m.Get(ctx, "k"); !found {
		t.Error("key expired despite extensions")
	}

	// Expire on a missing key is a no-op.
	if err := m.Expire(ctx, "missing", time.Minute); err != nil {
		t.Errorf("Expire() on missing key error = %v", err)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k", "v", 0)
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
}

func TestIncrBy(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	n, err := m.IncrBy(ctx, "counter", 3, 0)
	if err != nil || n != 3 {
		t.Fatalf("IncrBy() = (%d, %v), want (3, nil)", n, err)
	}
	n, _ = m.IncrBy(ctx, "counter", 2, 0)
	if n != 5 {
		t.Errorf("second IncrBy() = %d, want 5", n)
	}

	// An expired counter restarts from zero.
	m.IncrBy(ctx, "windowed", 1, 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	n, _ = m.IncrBy(ctx, "windowed", 1, 20*time.Millisecond)
	if n != 1 {
		t.Errorf("IncrBy() after expiry = %d, want 1", n)
	}
}

func TestConcurrentIncr(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrBy(ctx, "shared", 1, 0)
		}()
	}
	wg.Wait()

	got, _, _ := m.Get(ctx, "shared")
	if got != fmt.Sprintf("%d", 50) {
		t.Errorf("shared counter = %s, want 50 (no lost updates)", got)
	}
}
