// Package blob stores a single opaque payload under a fixed name.
//
// Every backend replaces the payload atomically: a reader sees either the
// previous payload or the new one, never a partial write.
package blob

import (
	"context"
	"sync"
)

// Backend loads and saves one payload. Load returns an empty slice and a nil
// error when nothing has been saved yet.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, payload []byte) error
}

// Memory keeps the payload in process. Used by tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	payload []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.payload...), nil
}

func (m *Memory) Save(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = append([]byte(nil), payload...)
	return nil
}
