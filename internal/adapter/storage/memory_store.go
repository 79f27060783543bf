package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/fleetops/permit-ledger/internal/port"
)

// MemoryStore is an in-memory DocumentStore. It backs the service tests
// and the seed tool's -backend=memory mode.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]json.RawMessage)}
}

func (m *MemoryStore) Get(ctx context.Context, path string, out any) error {
	m.mu.RLock()
	raw, ok := m.docs[path]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", port.ErrNotFound, path)
	}
	return json.Unmarshal(raw, out)
}

func (m *MemoryStore) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]json.RawMessage)
	for path, raw := range m.docs {
		if strings.HasPrefix(path, prefix) {
			result[path] = raw
		}
	}
	return result, nil
}

func (m *MemoryStore) QueryByField(ctx context.Context, prefix, field string, value any) (map[string]json.RawMessage, error) {
	want, err := normalizeJSON(value)
	if err != nil {
		return nil, fmt.Errorf("query value: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]json.RawMessage)
	for path, raw := range m.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		got, ok := doc[field]
		if !ok {
			continue
		}
		if string(got) == want {
			result[path] = raw
		}
	}
	return result, nil
}

func (m *MemoryStore) AtomicUpdate(ctx context.Context, updates map[string]any) error {
	// Marshal everything before touching state so a bad value cannot
	// leave a partial batch behind.
	staged := make(map[string]json.RawMessage, len(updates))
	for path, value := range updates {
		if value == nil {
			staged[path] = nil
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		staged[path] = raw
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for path, raw := range staged {
		if raw == nil {
			delete(m.docs, path)
		} else {
			m.docs[path] = raw
		}
	}
	return nil
}

// Len reports the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// normalizeJSON renders a query value in canonical JSON for comparison.
func normalizeJSON(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
