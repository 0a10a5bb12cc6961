package credstore

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type memoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns a Store that lives only as long as the process.
func NewMemory(logger *zap.Logger) *Store {
	return newStore(&memoryKV{data: make(map[string]string)}, logger)
}

func (m *memoryKV) get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryKV) set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryKV) del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
