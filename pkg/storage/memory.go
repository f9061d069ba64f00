package storage

import (
	"context"
	"sync"
)

// MemoryUploader keeps uploaded objects in a map. Used by tests and by the
// CLI when no bucket is configured.
type MemoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	// FailWith, when set, makes every upload fail. Lets tests exercise the
	// best-effort upload path.
	FailWith error
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{objects: make(map[string][]byte)}
}

func (m *MemoryUploader) Upload(_ context.Context, path, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryUploader) Object(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	return b, ok
}

func (m *MemoryUploader) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Paths lists stored object keys.
func (m *MemoryUploader) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}
