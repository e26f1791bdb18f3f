package credential

import (
	"context"
	"sync"
)

// Store owns the credential list and the primary credential id. Every status
// transition is written through UpdateStatus as soon as it happens, so readers
// always observe the latest committed state.
type Store interface {
	// List returns all credentials in pool order (system credential first).
	List(ctx context.Context) ([]Credential, error)

	// Get returns one credential or ErrNotFound.
	Get(ctx context.Context, id string) (Credential, error)

	// Add appends credentials to the end of the pool.
	Add(ctx context.Context, creds ...Credential) error

	// Remove deletes a user credential. Removing the system credential
	// returns ErrSystemCredential.
	Remove(ctx context.Context, id string) error

	// Clear deletes every user credential and keeps the system credential.
	Clear(ctx context.Context) error

	// UpdateStatus sets the status of one credential.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// Primary returns the pinned credential id, "" in rotation mode.
	Primary(ctx context.Context) (string, error)

	// SetPrimary pins a credential; "" switches to rotation mode.
	SetPrimary(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	creds   []Credential
	primary string
}

// NewMemoryStore creates a store holding the given credentials in order.
func NewMemoryStore(creds ...Credential) *MemoryStore {
	s := &MemoryStore{}
	s.creds = append(s.creds, creds...)
	return s
}

func (s *MemoryStore) List(ctx context.Context) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Credential, len(s.creds))
	copy(out, s.creds)
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexLocked(id); i >= 0 {
		return s.creds[i], nil
	}
	return Credential{}, ErrNotFound
}

func (s *MemoryStore) Add(ctx context.Context, creds ...Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = append(s.creds, creds...)
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	if s.creds[i].System {
		return ErrSystemCredential
	}
	s.creds = append(s.creds[:i], s.creds[i+1:]...)
	if s.primary == id {
		s.primary = ""
	}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.creds[:0]
	for _, c := range s.creds {
		if c.System {
			kept = append(kept, c)
		}
	}
	s.creds = kept
	s.primary = ""
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	s.creds[i].Status = status
	return nil
}

func (s *MemoryStore) Primary(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary, nil
}

func (s *MemoryStore) SetPrimary(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = id
	return nil
}

func (s *MemoryStore) indexLocked(id string) int {
	for i, c := range s.creds {
		if c.ID == id {
			return i
		}
	}
	return -1
}
