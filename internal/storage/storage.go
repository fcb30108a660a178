// Package storage provides durable blob storage for extraction outputs: the
// per-patient NDJSON data files, retrieved clinical documents, and the run
// audit trail. It defines the Store interface, an in-memory implementation
// for testing, and an S3-backed implementation for production.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// BucketName derives the destination bucket from the deployment environment
// and customer, e.g. "oncofhir-prod-uky".
func BucketName(environment, customer string) string {
	return "oncofhir-" + environment + "-" + customer
}

// Object is one stored blob.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// Store is the contract for blob storage backends. Keys are full object keys;
// callers derive them from the configured path templates.
type Store interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryStore is a thread-safe, in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStore returns a ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// Upload stores the blob under key, replacing any previous object.
func (s *MemoryStore) Upload(_ context.Context, key, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.objects[key] = Object{Key: key, ContentType: contentType, Data: cp}
	s.mu.Unlock()
	return nil
}

// Get returns the object stored under key.
func (s *MemoryStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	return o, ok
}

// Keys returns every stored object key.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
