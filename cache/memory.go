package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements an in-memory store with TTL support
type MemoryStore struct {
	data   sync.Map
	config Config
	cancel context.CancelFunc
}

// storeItem represents an item held by the store
type storeItem struct {
	value      []byte
	expiration time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(DefaultConfig())
}

// NewMemoryStoreWithConfig creates a new in-memory store with custom
// configuration
func NewMemoryStoreWithConfig(config Config) *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	ms := &MemoryStore{
		config: config,
		cancel: cancel,
	}

	go ms.cleanupExpired(ctx)

	return ms
}

// Get retrieves a value from the store
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullKey := m.config.Prefix + key

	value, ok := m.data.Load(fullKey)
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}

	item := value.(storeItem)
	if !item.expiration.IsZero() && time.Now().After(item.expiration) {
		m.data.Delete(fullKey)
		return nil, ErrCacheMiss{Key: key}
	}

	return item.value, nil
}

// Set stores a value with a TTL
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullKey := m.config.Prefix + key

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	item := storeItem{value: value}
	if ttl > 0 {
		item.expiration = time.Now().Add(ttl)
	}

	m.data.Store(fullKey, item)
	return nil
}

// Delete removes a value from the store
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.data.Delete(m.config.Prefix + key)
	return nil
}

// Clear removes all values from the store
func (m *MemoryStore) Clear(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.data.Range(func(key, value any) bool {
		m.data.Delete(key)
		return true
	})
	return nil
}

// Close stops the background cleanup goroutine
func (m *MemoryStore) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// cleanupExpired periodically removes expired items
func (m *MemoryStore) cleanupExpired(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.data.Range(func(key, value any) bool {
				item := value.(storeItem)
				if !item.expiration.IsZero() && now.After(item.expiration) {
					m.data.Delete(key)
				}
				return true
			})
		}
	}
}
