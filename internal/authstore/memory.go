package authstore

import (
	"context"
	"sort"
	"sync"

	"wa-gateway/go-backend/pkg/models"
)

type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]models.Credentials
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]models.Credentials)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (models.Credentials, error) {
	if !ValidSessionID(sessionID) {
		return models.Credentials{}, ErrInvalidSessionID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.creds[sessionID]
	if !ok {
		return models.Credentials{}, ErrNotFound
	}
	return cloneCredentials(creds), nil
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, creds models.Credentials) error {
	if !ValidSessionID(sessionID) {
		return ErrInvalidSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[sessionID] = cloneCredentials(creds)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, sessionID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.creds))
	for id := range s.creds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
