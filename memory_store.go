package routeref

import "sync"

// MemoryStore is an in-memory Store (useful for tests or embedding).
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	saves   int
}

func (s *MemoryStore) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	out = append(out, s.entries...)
	return out, nil
}

func (s *MemoryStore) Save(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]Entry(nil), entries...)
	s.saves++
	return nil
}

// Saves returns how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
