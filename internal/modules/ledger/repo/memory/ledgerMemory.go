package memory

import (
	"context"
	"sync"
)

// LedgerMemory is a process-local store, used when persistence is disabled.
type LedgerMemory struct {
	mu  sync.Mutex
	ids []string
}

func NewLedgerMemory() *LedgerMemory {
	return &LedgerMemory{}
}

func (m *LedgerMemory) Load(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out, nil
}

func (m *LedgerMemory) Append(_ context.Context, id string, capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
	if capacity > 0 && len(m.ids) > capacity {
		m.ids = append([]string(nil), m.ids[len(m.ids)-capacity:]...)
	}
	return nil
}

func (m *LedgerMemory) Close() error {
	return nil
}
