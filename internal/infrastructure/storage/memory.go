package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryArchiver keeps archived files in process memory. It is used when
// object storage is disabled, so imports behave the same in development.
type MemoryArchiver struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArchiver creates an empty MemoryArchiver
func NewMemoryArchiver() *MemoryArchiver {
	return &MemoryArchiver{objects: make(map[string][]byte)}
}

// Archive stores a copy of data under the same key layout as S3SourceArchiver
func (m *MemoryArchiver) Archive(_ context.Context, tenantID uuid.UUID, batchNumber, filename, _ string, data []byte) (string, error) {
	key := ObjectKey("", tenantID, batchNumber, filename)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

// Fetch returns an archived file
func (m *MemoryArchiver) Fetch(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of archived files
func (m *MemoryArchiver) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
