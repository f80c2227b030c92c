package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements ObjectStore using an in-memory map. Useful for
// testing the pipeline without S3.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]*memObject
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemoryStore creates an in-memory ObjectStore bound to bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]*memObject),
	}
}

// Bucket returns the bound bucket name.
func (m *MemoryStore) Bucket() string { return m.bucket }

// GetBytes reads the full object at key.
func (m *MemoryStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// PutBytes stores data under key.
func (m *MemoryStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = &memObject{data: cp, contentType: contentType, modified: time.Now().UTC()}
	return nil
}

// Get retrieves an object by key.
func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectAttrs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ObjectAttrs{}, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), m.attrs(key, obj), nil
}

// Head returns object metadata without content.
func (m *MemoryStore) Head(ctx context.Context, key string) (ObjectAttrs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectAttrs{}, ErrNotFound
	}
	return m.attrs(key, obj), nil
}

// PresignGet returns a deterministic fake URL for tests.
func (m *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("https://%s.memory.local/%s?ttl=%d", m.bucket, key, int(ttl.Seconds())), nil
}

// PresignPut returns a deterministic fake URL for tests.
func (m *MemoryStore) PresignPut(ctx context.Context, key string, ttl time.Duration, contentType string) (string, error) {
	return fmt.Sprintf("https://%s.memory.local/%s?ttl=%d&upload=1", m.bucket, key, int(ttl.Seconds())), nil
}

// ListPrefix returns attrs of all objects under prefix, sorted by key.
func (m *MemoryStore) ListPrefix(ctx context.Context, prefix string) ([]ObjectAttrs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectAttrs
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, m.attrs(key, obj))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeletePrefix removes everything under prefix.
func (m *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

// Delete removes an object by key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) attrs(key string, obj *memObject) ObjectAttrs {
	return ObjectAttrs{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         fmt.Sprintf("%q", key+"-etag"),
		LastModified: obj.modified,
		ContentType:  obj.contentType,
	}
}

var _ ObjectStore = (*MemoryStore)(nil)
