package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryGetSetDelete(t *testing.T) {
	m := NewMemory(100, time.Minute)
	defer m.Close()
	ctx := context.Background()

	if _, ok, err := m.Get(ctx, "absent"); err != nil || ok {
		t.Fatalf("absent key: ok=%v err=%v", ok, err)
	}

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(data) != "v" {
		t.Fatalf("Get: data=%q ok=%v err=%v", data, ok, err)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("deleted key still present")
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(100, time.Hour)
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	m.Set(ctx, "long", []byte("v"), time.Minute)

	time.Sleep(30 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "short"); ok {
		t.Error("expired entry still readable")
	}
	if _, ok, _ := m.Get(ctx, "long"); !ok {
		t.Error("live entry dropped")
	}
}

func TestMemoryGetMultiple(t *testing.T) {
	m := NewMemory(100, time.Minute)
	defer m.Close()
	ctx := context.Background()

	m.SetMultiple(ctx, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}, time.Minute)
	m.Set(ctx, "stale", []byte("3"), -time.Second)

	got, err := m.GetMultiple(ctx, []string{"a", "b", "stale", "missing"})
	if err != nil {
		t.Fatalf("GetMultiple: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Errorf("got %v, want a and b only", got)
	}
}

func TestMemorySweepEnforcesMaxSize(t *testing.T) {
	m := NewMemory(5, time.Hour)
	defer m.Close()
	ctx := context.Background()

	// Entries closest to expiry go first when over the bound
	for i := 0; i < 10; i++ {
		m.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Duration(i+1)*time.Minute)
	}
	m.sweep()

	m.mu.RLock()
	size := len(m.data)
	m.mu.RUnlock()
	if size != 5 {
		t.Fatalf("after sweep size = %d, want 5", size)
	}
	if _, ok, _ := m.Get(ctx, "k0"); ok {
		t.Error("earliest-expiring entry survived eviction")
	}
	if _, ok, _ := m.Get(ctx, "k9"); !ok {
		t.Error("latest-expiring entry was evicted")
	}
}
