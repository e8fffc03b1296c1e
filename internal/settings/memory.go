package settings

import (
	"sort"
	"sync"
)

// Memory is a thread-safe in-memory Store. Values are normalized on write
// and copied on read, so callers never share containers with the store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]any)}
}

func (m *Memory) Object(key string) (any, bool, error) {
	m.mu.RLock()
	v, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	// Stored values are already normalized, so this is a plain deep copy.
	c, err := Normalize(v)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (m *Memory) SetObject(key string, value any) error {
	n, err := Normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = n
	return nil
}

func (m *Memory) RemoveObject(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
