package snapshot

import (
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps versions in memory. Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]Snapshot // canvasID -> versions, oldest first
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Snapshot)}
}

// Save implements Store.
func (m *MemoryStore) Save(canvasID string, hash uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	versions := m.data[canvasID]
	next := 1
	if n := len(versions); n > 0 {
		if versions[n-1].Hash == hash {
			return nil
		}
		next = versions[n-1].Version + 1
	}

	m.data[canvasID] = append(versions, Snapshot{
		Info: Info{
			CanvasID: canvasID,
			Version:  next,
			Hash:     hash,
			SavedAt:  time.Now().UTC(),
			Size:     int64(len(data)),
		},
		Data: slices.Clone(data),
	})
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(canvasID string, version int) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	for _, s := range m.data[canvasID] {
		if s.Version == version {
			return cloneSnapshot(s), nil
		}
	}
	return nil, ErrNotFound
}

// Latest implements Store.
func (m *MemoryStore) Latest(canvasID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	versions := m.data[canvasID]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return cloneSnapshot(versions[len(versions)-1]), nil
}

// List implements Store.
func (m *MemoryStore) List(canvasID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	infos := make([]Info, 0, len(m.data[canvasID]))
	for _, s := range m.data[canvasID] {
		infos = append(infos, s.Info)
	}
	return infos, nil
}

// DeleteCanvas implements Store.
func (m *MemoryStore) DeleteCanvas(canvasID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.data, canvasID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

func cloneSnapshot(s Snapshot) *Snapshot {
	s.Data = slices.Clone(s.Data)
	return &s
}
