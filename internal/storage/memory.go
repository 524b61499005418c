package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps objects in a map. It backs tests and local runs without minio.
type MemoryStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	// FailRename makes Rename fail for the listed source paths.
	FailRename map[string]error
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: map[string][]byte{}, FailRename: map[string]error{}}
}

func (m *MemoryStore) Upload(ctx context.Context, path string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[path] = data
	m.mu.Unlock()
	return m.PublicURL(path), ctx.Err()
}

func (m *MemoryStore) Rename(_ context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailRename[from]; err != nil {
		return err
	}
	data, ok := m.objects[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, from)
	}
	delete(m.objects, from)
	m.objects[to] = data
	return nil
}

func (m *MemoryStore) PresignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("%s?expires=%d", m.PublicURL(path), int(clampTTL(ttl).Seconds())), nil
}

func (m *MemoryStore) PublicURL(path string) string {
	return "https://storage.local/" + m.bucket + "/" + path
}

func (m *MemoryStore) PathFromURL(rawURL string) (string, error) {
	return pathFromURL(rawURL, m.bucket)
}

// Put seeds an object.
func (m *MemoryStore) Put(path string, data []byte) {
	m.mu.Lock()
	m.objects[path] = data
	m.mu.Unlock()
}

// Paths lists stored keys in order.
func (m *MemoryStore) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
