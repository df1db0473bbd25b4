package crawler

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errMockCacheMiss = errors.New("cache miss")

// MockCacheService implements a simple in-memory cache for testing
type MockCacheService struct {
	mu    sync.Mutex
	cache map[string][]byte
}

func NewMockCacheService() *MockCacheService {
	return &MockCacheService{
		cache: make(map[string][]byte),
	}
}

func (m *MockCacheService) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if val, ok := m.cache[key]; ok {
		return val, nil
	}
	return nil, errMockCacheMiss
}

func (m *MockCacheService) Set(key string, value []byte, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = value
	return nil
}

func (m *MockCacheService) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}

// stubProvider returns a fixed page or error and counts calls
type stubProvider struct {
	mu    sync.Mutex
	page  string
	err   error
	calls int
}

func (s *stubProvider) GetName() string { return "stub" }

func (s *stubProvider) RenderPage(ctx context.Context, url string, opts RenderOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.page, s.err
}

func (s *stubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
