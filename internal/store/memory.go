package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Memory is an in-process Store. A single mutex serializes Update bodies,
// which makes every read-modify-write trivially atomic; throughput is more
// than adequate for tests and single-node runs.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	raw, ok := m.docs[path]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return decode(raw, out)
}

func (m *Memory) Set(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[path] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.docs, path)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage)
	for path, raw := range m.docs {
		if strings.HasPrefix(path, prefix) {
			cp := make(json.RawMessage, len(raw))
			copy(cp, raw)
			out[path] = cp
		}
	}
	return out, nil
}

func (m *Memory) Update(ctx context.Context, path string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var current json.RawMessage
	if raw, ok := m.docs[path]; ok {
		current = raw
	}
	updated, err := fn(current)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(updated)
	if err != nil {
		return err
	}
	m.docs[path] = raw
	return nil
}
