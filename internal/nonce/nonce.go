// Package nonce issues and consumes the single-use sign-in challenges bound
// to a wallet address.
package nonce

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/thejerf/abtime"

	"atms/identity/internal/model"
)

const (
	DefaultTTL = 5 * time.Minute

	minValue = 100000
	maxValue = 999999
)

var (
	ErrNotFound = errors.New("nonce not found")
	ErrExpired  = errors.New("nonce expired")
	ErrMismatch = errors.New("nonce mismatch")
)

type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeConsumed
	OutcomeExpired
	OutcomeMismatch
)

// Store keeps at most one nonce per address. ConsumeMatching must decide and
// delete atomically: the record is removed on OutcomeConsumed and
// OutcomeExpired and left in place on OutcomeMismatch.
type Store interface {
	Upsert(ctx context.Context, n model.Nonce) error
	ConsumeMatching(ctx context.Context, address, value string, now time.Time) (Outcome, error)
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

func (s *Service) TTL() time.Duration { return s.ttl }

// Issue replaces any pending nonce for address with a fresh one.
func (s *Service) Issue(ctx context.Context, address string) (string, error) {
	value, err := Generate()
	if err != nil {
		return "", err
	}
	record := model.Nonce{
		Address:   normalize(address),
		Value:     value,
		ExpiresAt: s.clock.Now().UTC().Add(s.ttl),
	}
	if err := s.store.Upsert(ctx, record); err != nil {
		return "", err
	}
	return value, nil
}

func (s *Service) Validate(ctx context.Context, address, value string) error {
	outcome, err := s.store.ConsumeMatching(ctx, normalize(address), strings.TrimSpace(value), s.clock.Now().UTC())
	if err != nil {
		return err
	}
	switch outcome {
	case OutcomeConsumed:
		return nil
	case OutcomeExpired:
		return ErrExpired
	case OutcomeMismatch:
		return ErrMismatch
	default:
		return ErrNotFound
	}
}

// Generate draws a six-digit value uniformly from [100000, 999999].
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxValue-minValue+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+minValue, 10), nil
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// decide is the shared comparison used by the stores that evaluate
// outcomes in Go.
func decide(stored model.Nonce, value string, now time.Time) Outcome {
	if now.After(stored.ExpiresAt) {
		return OutcomeExpired
	}
	if stored.Value != value {
		return OutcomeMismatch
	}
	return OutcomeConsumed
}
