package grant

import (
	"context"
	"sort"
	"sync"
	"time"

	"atms/identity/internal/model"
)

type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]model.Grant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grants: map[string]model.Grant{}}
}

func (s *MemoryStore) Insert(_ context.Context, g model.Grant) error {
	s.mu.Lock()
	s.grants[g.ID] = g
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return model.Grant{}, ErrNotFound
	}
	return g, nil
}

func (s *MemoryStore) Approve(_ context.Context, id string, now time.Time) (model.Grant, error) {
	return s.update(id, func(g *model.Grant) bool {
		if g.Status != model.GrantPending || !now.Before(g.Expiration) {
			return false
		}
		g.Status = model.GrantApproved
		shared := now
		g.SharedDate = &shared
		return true
	})
}

func (s *MemoryStore) Revoke(_ context.Context, id string, now time.Time) (model.Grant, error) {
	return s.update(id, func(g *model.Grant) bool {
		if g.Status != model.GrantPending && g.Status != model.GrantApproved {
			return false
		}
		g.Status = model.GrantRevoked
		revoked := now
		g.RevokedAt = &revoked
		return true
	})
}

func (s *MemoryStore) FindActive(_ context.Context, studentID, verifierAddress string, now time.Time) (model.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants {
		if g.StudentID == studentID && g.VerifierAddress == verifierAddress && g.ActiveAt(now) {
			return g, nil
		}
	}
	return model.Grant{}, ErrNotFound
}

func (s *MemoryStore) ListByStudent(_ context.Context, studentID string) ([]model.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Grant{}
	for _, g := range s.grants {
		if g.StudentID == studentID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ExpireDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, g := range s.grants {
		if (g.Status == model.GrantPending || g.Status == model.GrantApproved) && !now.Before(g.Expiration) {
			g.Status = model.GrantExpired
			s.grants[id] = g
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) update(id string, apply func(*model.Grant) bool) (model.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return model.Grant{}, ErrNotFound
	}
	if !apply(&g) {
		return model.Grant{}, ErrInvalidTransition
	}
	s.grants[id] = g
	return g, nil
}
