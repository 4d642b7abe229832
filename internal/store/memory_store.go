package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InMemoryStore implements IdempotencyStore using an in-memory map
type InMemoryStore struct {
	data    map[string]*cacheItem
	mu      sync.RWMutex
	maxSize int
	logger  *zap.Logger
	stopCh  chan struct{}
	once    sync.Once
}

type cacheItem struct {
	resp      StoredResponse
	expiresAt time.Time
}

// NewInMemoryStore creates a new in-memory store holding at most maxSize entries.
func NewInMemoryStore(maxSize int, logger *zap.Logger) *InMemoryStore {
	s := &InMemoryStore{
		data:    make(map[string]*cacheItem),
		maxSize: maxSize,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	go s.cleanup(time.Minute)

	return s
}

// Get retrieves a stored response
func (s *InMemoryStore) Get(ctx context.Context, key string) (*StoredResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.data[key]
	if !exists || time.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}

	resp := item.resp
	resp.Body = append([]byte(nil), item.resp.Body...)
	return &resp, nil
}

// Set stores a response with TTL
func (s *InMemoryStore) Set(ctx context.Context, key string, resp *StoredResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && len(s.data) >= s.maxSize {
		s.evictLocked()
	}

	stored := *resp
	stored.Body = append([]byte(nil), resp.Body...)
	s.data[key] = &cacheItem{
		resp:      stored,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

// evictLocked drops an expired entry if there is one, otherwise the entry closest to expiry.
func (s *InMemoryStore) evictLocked() {
	now := time.Now()
	var (
		victim string
		oldest time.Time
	)
	for k, v := range s.data {
		if now.After(v.expiresAt) {
			delete(s.data, k)
			return
		}
		if victim == "" || v.expiresAt.Before(oldest) {
			victim, oldest = k, v.expiresAt
		}
	}
	if victim != "" {
		delete(s.data, victim)
		s.logger.Debug("evicted idempotency entry", zap.String("key", victim))
	}
}

// cleanup periodically removes expired entries
func (s *InMemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for key, item := range s.data {
				if now.After(item.expiresAt) {
					delete(s.data, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Ping always succeeds for the in-memory store.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
func (s *InMemoryStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}

// Size returns the number of items in the store
func (s *InMemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
