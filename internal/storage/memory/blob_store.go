// Package memory keeps mirrored objects in-process, for tests and dry experiments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
)

// Store is a concurrency-safe in-memory storage.Store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]storage.Object
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{objects: make(map[string]storage.Object)}
}

// List returns stored keys with the given prefix in lexical order.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is stored.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Put stores a private copy of obj.
func (s *Store) Put(_ context.Context, obj storage.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := obj
	cp.Data = append([]byte(nil), obj.Data...)
	if obj.Metadata != nil {
		cp.Metadata = make(map[string]string, len(obj.Metadata))
		for k, v := range obj.Metadata {
			cp.Metadata[k] = v
		}
	}
	s.objects[obj.Key] = cp
	return nil
}

// Delete removes key if present.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Get returns the stored object, mainly for assertions.
func (s *Store) Get(key string) (storage.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Close implements storage.Store; it performs no action.
func (s *Store) Close() error {
	return nil
}
