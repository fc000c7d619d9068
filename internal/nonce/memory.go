package nonce

import (
	"context"
	"sync"
	"time"

	"atms/identity/internal/model"
)

type MemoryStore struct {
	mu     sync.Mutex
	nonces map[string]model.Nonce
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nonces: map[string]model.Nonce{}}
}

func (s *MemoryStore) Upsert(_ context.Context, n model.Nonce) error {
	s.mu.Lock()
	s.nonces[n.Address] = n
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ConsumeMatching(_ context.Context, address, value string, now time.Time) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.nonces[address]
	if !ok {
		return OutcomeNotFound, nil
	}
	outcome := decide(stored, value, now)
	if outcome != OutcomeMismatch {
		delete(s.nonces, address)
	}
	return outcome, nil
}
