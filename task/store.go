package task

import "sync"

// Store is the single source of truth for job status. One orchestrator per
// job writes its own entry; any number of status-poll readers load it.
//
// Entries are retained for the lifetime of the process. There is no
// eviction: a completed or failed job stays queryable forever.
type Store struct {
	mu      sync.RWMutex
	records map[string]Status
}

func NewStore() *Store {
	return &Store{records: make(map[string]Status)}
}

// Put replaces the whole record for id. Partial updates are not offered:
// callers build the full Status and swap it in one write.
func (s *Store) Put(id string, st Status) {
	s.mu.Lock()
	s.records[id] = st
	s.mu.Unlock()
}

// Get returns a snapshot of the record for id, or false if the id was
// never submitted.
func (s *Store) Get(id string) (Status, bool) {
	s.mu.RLock()
	st, ok := s.records[id]
	s.mu.RUnlock()
	return st, ok
}

// Len reports the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
