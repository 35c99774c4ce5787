// Package ledger holds per-identity score entries and the model hash
// singleton. Apply is the only way an entry changes.
package ledger

import (
	"sync"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
)

// #region store-interface
// Store is the persistence boundary the dispatcher writes through.
type Store interface {
	// Get returns the entry for id, VACANT if never written.
	Get(id Identity) (Entry, error)
	// Apply stores (score, commitment) for id atomically.
	Apply(id Identity, score uint8, c commit.Commitment) (Entry, error)
	ModelHash() (ModelHash, error)
	// ModelVersion counts model hash updates; zero before the first.
	ModelVersion() (uint64, error)
	// SetModelHash stores h and advances ModelVersion by one.
	SetModelHash(h ModelHash) error
}

// #endregion store-interface

// #region mem-store
// MemStore keeps the ledger as an in-process State value.
type MemStore struct {
	mu    sync.RWMutex
	state State
}

// NewMemStore returns an empty ledger.
func NewMemStore() *MemStore {
	return &MemStore{state: State{Entries: make(map[Identity]Entry)}}
}

// NewMemStoreFrom seeds a ledger from a copy of st.
func NewMemStoreFrom(st State) *MemStore {
	cp := st.Clone()
	return &MemStore{state: cp}
}

func (m *MemStore) Get(id Identity) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.state.Entries[id]
	if !ok {
		return VacantEntry(), nil
	}
	return e.Clone(), nil
}

func (m *MemStore) Apply(id Identity, score uint8, c commit.Commitment) (Entry, error) {
	if err := checkScore(score); err != nil {
		return Entry{}, err
	}
	e := OccupiedEntry(score, c)
	m.mu.Lock()
	m.state.Entries[id] = e
	m.mu.Unlock()
	return e.Clone(), nil
}

func (m *MemStore) ModelHash() (ModelHash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ModelHash, nil
}

func (m *MemStore) ModelVersion() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ModelVersion, nil
}

func (m *MemStore) SetModelHash(h ModelHash) error {
	m.mu.Lock()
	m.state.ModelHash = h
	m.state.ModelVersion++
	m.mu.Unlock()
	return nil
}

// Snapshot returns a deep copy of the current state.
func (m *MemStore) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// #endregion mem-store
