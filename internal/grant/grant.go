// Package grant manages university-issued transcript sharing grants.
//
// A grant moves pending -> approved -> revoked | expired, or pending ->
// revoked. Revoked and expired are terminal; re-sharing needs a new grant.
package grant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/abtime"

	"atms/identity/internal/model"
)

const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrNotFound          = errors.New("grant not found")
	ErrInvalidTransition = errors.New("invalid grant transition")
	ErrInvalidExpiration = errors.New("grant expiration must be in the future")
)

// Store mutations are single-record and conditional on the current status,
// so concurrent approve/revoke calls cannot both apply.
type Store interface {
	Insert(ctx context.Context, g model.Grant) error
	Get(ctx context.Context, id string) (model.Grant, error)
	// Approve moves a pending, unexpired grant to approved.
	Approve(ctx context.Context, id string, now time.Time) (model.Grant, error)
	// Revoke moves a pending or approved grant to revoked.
	Revoke(ctx context.Context, id string, now time.Time) (model.Grant, error)
	FindActive(ctx context.Context, studentID, verifierAddress string, now time.Time) (model.Grant, error)
	ListByStudent(ctx context.Context, studentID string) ([]model.Grant, error)
	// ExpireDue marks pending and approved grants past expiration as expired.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

type Service struct {
	store Store
	clock abtime.AbstractTime
	ttl   time.Duration
}

func NewService(store Store, clock abtime.AbstractTime, ttl time.Duration) *Service {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, clock: clock, ttl: ttl}
}

// Create records a pending grant. A zero expiration uses the default TTL.
func (s *Service) Create(ctx context.Context, studentID, verifierAddress string, expiration time.Time) (model.Grant, error) {
	now := s.clock.Now().UTC()
	if expiration.IsZero() {
		expiration = now.Add(s.ttl)
	}
	if !expiration.After(now) {
		return model.Grant{}, ErrInvalidExpiration
	}
	g := model.Grant{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		VerifierAddress: normalize(verifierAddress),
		Status:          model.GrantPending,
		Expiration:      expiration.UTC(),
		CreatedAt:       now,
	}
	if err := s.store.Insert(ctx, g); err != nil {
		return model.Grant{}, err
	}
	return g, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Grant, error) {
	if !validID(id) {
		return model.Grant{}, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

func (s *Service) Approve(ctx context.Context, id string) (model.Grant, error) {
	if !validID(id) {
		return model.Grant{}, ErrNotFound
	}
	return s.store.Approve(ctx, id, s.clock.Now().UTC())
}

func (s *Service) Revoke(ctx context.Context, id string) (model.Grant, error) {
	if !validID(id) {
		return model.Grant{}, ErrNotFound
	}
	return s.store.Revoke(ctx, id, s.clock.Now().UTC())
}

func (s *Service) IsActive(ctx context.Context, studentID, verifierAddress string) (bool, error) {
	_, err := s.Active(ctx, studentID, verifierAddress)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Active returns the approved, unexpired grant for the pair.
func (s *Service) Active(ctx context.Context, studentID, verifierAddress string) (model.Grant, error) {
	if !validID(studentID) {
		return model.Grant{}, ErrNotFound
	}
	return s.store.FindActive(ctx, studentID, normalize(verifierAddress), s.clock.Now().UTC())
}

func (s *Service) ListForStudent(ctx context.Context, studentID string) ([]model.Grant, error) {
	if !validID(studentID) {
		return []model.Grant{}, nil
	}
	return s.store.ListByStudent(ctx, studentID)
}

func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.store.ExpireDue(ctx, s.clock.Now().UTC())
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
