package cert

import "sync"

// MemoryStore is an in-memory Store. Load and Save are no-ops.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(creds ...*Credential) *MemoryStore {
	s := &MemoryStore{creds: make(map[string]*Credential)}
	for _, c := range creds {
		_ = s.Add(c)
	}
	return s
}

func (s *MemoryStore) Find(subject string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBest(s.creds, subject)
}

func (s *MemoryStore) Add(cred *Credential) error {
	c, err := prepare(cred)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.creds[c.Name] = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[name]; !ok {
		return ErrCertNotFound
	}
	delete(s.creds, name)
	return nil
}

func (s *MemoryStore) List() []*Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCredentials(s.creds)
}

func (s *MemoryStore) Load() error { return nil }
func (s *MemoryStore) Save() error { return nil }

var _ Store = (*MemoryStore)(nil)
