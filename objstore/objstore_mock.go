package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrObjectNotFound is returned by MemObjectStore for missing objects.
var ErrObjectNotFound = errors.New("object not found")

// MemObjectStore is an in-memory ObjectStore for tests.
type MemObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemObjectStore returns an empty in-memory store.
func NewMemObjectStore() *MemObjectStore {
	return &MemObjectStore{objects: make(map[string][]byte)}
}

func (m *MemObjectStore) key(bucket, obj string) string {
	return bucket + "/" + obj
}

func (m *MemObjectStore) Put(ctx context.Context, bucket, obj string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[m.key(bucket, obj)] = data
	return nil
}

func (m *MemObjectStore) Get(ctx context.Context, bucket, obj string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[m.key(bucket, obj)]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemObjectStore) Delete(ctx context.Context, bucket, obj string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, m.key(bucket, obj))
	return nil
}
