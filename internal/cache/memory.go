package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory implements Backend with an in-process map. Expired entries
// are dropped lazily on read and swept by a background loop that also
// enforces the size bound.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]memoryEntry
	maxSize int
	stopCh  chan struct{}
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory creates an in-memory cache holding at most maxSize entries
func NewMemory(maxSize int, sweepInterval time.Duration) *Memory {
	m := &Memory{
		data:    make(map[string]memoryEntry),
		maxSize: maxSize,
		stopCh:  make(chan struct{}),
	}
	go m.sweepLoop(sweepInterval)
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.data[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	now := time.Now()
	m.mu.RLock()
	for _, key := range keys {
		if entry, ok := m.data[key]; ok && now.Before(entry.expiresAt) {
			result[key] = entry.value
		}
	}
	m.mu.RUnlock()
	return result, nil
}

func (m *Memory) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)
	m.mu.Lock()
	for key, value := range items {
		m.data[key] = memoryEntry{value: value, expiresAt: expiresAt}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	close(m.stopCh)
	return nil
}

func (m *Memory) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.data {
		if now.After(entry.expiresAt) {
			delete(m.data, key)
		}
	}

	// Enforce max size by evicting the entries closest to expiry
	if len(m.data) > m.maxSize {
		type keyed struct {
			key       string
			expiresAt time.Time
		}
		entries := make([]keyed, 0, len(m.data))
		for key, entry := range m.data {
			entries = append(entries, keyed{key, entry.expiresAt})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].expiresAt.Before(entries[j].expiresAt)
		})
		for _, e := range entries[:len(m.data)-m.maxSize] {
			delete(m.data, e.key)
		}
	}
}
