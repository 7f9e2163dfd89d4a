package repository

import (
	"sync"
	"time"
)

// Common repository errors
var (
	ErrNotFound      = &RepositoryError{Code: "NOT_FOUND", Message: "entity not found"}
	ErrAlreadyExists = &RepositoryError{Code: "ALREADY_EXISTS", Message: "entity already exists"}
)

// RepositoryError represents a repository error.
type RepositoryError struct {
	Code    string
	Message string
}

func (e *RepositoryError) Error() string {
	return e.Code + ": " + e.Message
}

type entry[T any] struct {
	value   T
	expires time.Time
}

// memoryStore is a mutex-guarded map with optional per-key expiry. It backs
// the in-memory repositories used when Redis is not configured.
type memoryStore[T any] struct {
	mu   sync.Mutex
	data map[string]entry[T]
	now  func() time.Time
}

func newMemoryStore[T any]() *memoryStore[T] {
	return &memoryStore[T]{
		data: make(map[string]entry[T]),
		now:  time.Now,
	}
}

func (s *memoryStore[T]) live(key string) (entry[T], bool) {
	e, ok := s.data[key]
	if !ok {
		return e, false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.data, key)
		return e, false
	}
	return e, true
}

func (s *memoryStore[T]) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// Get retrieves a value by key.
func (s *memoryStore[T]) Get(key string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	e, ok := s.live(key)
	if !ok {
		return zero, ErrNotFound
	}
	return e.value, nil
}

// Set stores a value, replacing any existing one.
func (s *memoryStore[T]) Set(key string, value T, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry[T]{value: value, expires: s.expiry(ttl)}
}

// Create stores a value only if the key is free.
func (s *memoryStore[T]) Create(key string, value T, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return ErrAlreadyExists
	}
	s.data[key] = entry[T]{value: value, expires: s.expiry(ttl)}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *memoryStore[T]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}
