// Package transcript serves redacted transcript views, the student registry
// and the university's sharing workflow on top of the authorization gate.
package transcript

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"atms/identity/internal/apperr"
	"atms/identity/internal/auth"
	"atms/identity/internal/grant"
	"atms/identity/internal/model"
	"atms/identity/internal/policy"
	"atms/identity/internal/repository"
	"atms/identity/internal/wallet"
)

var (
	readTranscript = policy.Requirement{
		Roles:      []policy.Role{policy.University, policy.Admin},
		Permission: policy.PermRead,
		AllowOwner: true,
		AllowGrant: true,
	}
	writeHash = policy.Requirement{
		Roles:      []policy.Role{policy.University},
		Permission: policy.PermWrite,
	}
)

type Deps struct {
	Transcripts  repository.Transcripts
	Registry     repository.Registry
	Accounts     repository.Accounts
	Grants       *grant.Service
	Gate         *auth.Gate
	Clock        abtime.AbstractTime
	Log          *zap.Logger
	StoreTimeout time.Duration
}

type Service struct {
	transcripts  repository.Transcripts
	registry     repository.Registry
	accounts     repository.Accounts
	grants       *grant.Service
	gate         *auth.Gate
	clock        abtime.AbstractTime
	log          *zap.Logger
	storeTimeout time.Duration
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = abtime.NewRealTime()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Gate == nil {
		d.Gate = auth.NewGate(d.Log, nil)
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = 3 * time.Second
	}
	return &Service{
		transcripts:  d.Transcripts,
		registry:     d.Registry,
		accounts:     d.Accounts,
		grants:       d.Grants,
		gate:         d.Gate,
		clock:        d.Clock,
		log:          d.Log,
		storeTimeout: d.StoreTimeout,
	}
}

// Get returns the student's transcript shaped for the caller's role.
func (s *Service) Get(ctx context.Context, p *policy.Principal, studentID string) (*View, error) {
	if p == nil {
		_, err := s.gate.Check(nil, readTranscript, policy.Resource{})
		return nil, err
	}
	if !validID(studentID) {
		return nil, apperr.InvalidArg("invalid_student_id", "studentId must be a UUID")
	}

	student, err := s.student(ctx, studentID)
	if err != nil {
		return nil, err
	}

	res := policy.Resource{OwnerAddress: student.WalletAddress, Now: s.clock.Now().UTC()}
	if p.Role == policy.Verifier {
		g, err := s.activeGrant(ctx, studentID, p.WalletAddress)
		if err != nil {
			return nil, err
		}
		res.Grant = g
	}
	view, err := s.gate.Check(p, readTranscript, res)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	records, err := s.transcripts.ListSemesterRecords(callCtx, studentID)
	cancel()
	if err != nil {
		return nil, apperr.Unavailable(err)
	}

	out := buildView(student, records)
	policy.Redact(out, view)
	return out, nil
}

// UpdateHash writes the hash onto the student's most recent record. It
// never creates one.
func (s *Service) UpdateHash(ctx context.Context, p *policy.Principal, studentID, hash string) (repository.HashUpdate, error) {
	if _, err := s.gate.Check(p, writeHash, policy.Resource{}); err != nil {
		return repository.HashUpdate{}, err
	}
	if !validID(studentID) {
		return repository.HashUpdate{}, apperr.InvalidArg("invalid_student_id", "studentId must be a UUID")
	}
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return repository.HashUpdate{}, apperr.InvalidArg("invalid_hash", "hash is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	update, err := s.transcripts.UpdateLatestHash(callCtx, studentID, hash)
	if err != nil {
		return repository.HashUpdate{}, apperr.Unavailable(err)
	}
	if update.Matched == 0 {
		return repository.HashUpdate{}, apperr.NotFound("transcript_not_found", "no transcript for student")
	}
	s.log.Info("transcript hash updated",
		zap.String("student_id", studentID),
		zap.String("user_id", p.UserID),
		zap.Int64("modified", update.Modified))
	return update, nil
}

func (s *Service) student(ctx context.Context, id string) (model.Student, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	student, err := s.transcripts.GetStudent(callCtx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Student{}, apperr.NotFound("student_not_found", "student not found")
	}
	if err != nil {
		return model.Student{}, apperr.Unavailable(err)
	}
	return student, nil
}

func (s *Service) activeGrant(ctx context.Context, studentID, verifier string) (*model.Grant, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	g, err := s.grants.Active(callCtx, studentID, verifier)
	if errors.Is(err, grant.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return &g, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func normalizeVerifier(address string) (string, error) {
	addr, err := wallet.NormalizeAddress(address)
	if err != nil {
		return "", apperr.InvalidArg("invalid_address", "invalid verifier address")
	}
	return addr, nil
}
