package store

import (
	"context"
	"sync"
	"time"

	"github.com/HsiangNianian/uiabridge/internal/protocol"
)

const DefaultCapacity = 256

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Entry is one message that crossed the controller connection.
type Entry struct {
	Direction Direction        `json:"direction"`
	At        time.Time        `json:"at"`
	Message   protocol.Message `json:"message"`
}

// Store journals controller traffic for operators. Recent returns newest first.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// MemoryStore keeps the last capacity entries in a ring.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{entries: make([]Entry, capacity)}
}

func (m *MemoryStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.next] = e
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	result := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.entries)) % len(m.entries)
		result = append(result, m.entries[idx])
	}
	return result, nil
}
