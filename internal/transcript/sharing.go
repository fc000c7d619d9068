package transcript

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"atms/identity/internal/apperr"
	"atms/identity/internal/grant"
	"atms/identity/internal/model"
	"atms/identity/internal/policy"
	"atms/identity/internal/repository"
)

var (
	shareTranscript = policy.Requirement{
		Roles:      []policy.Role{policy.University},
		Permission: policy.PermShare,
	}
	revokeShare = policy.Requirement{
		Roles:      []policy.Role{policy.University},
		Permission: policy.PermRevoke,
	}
	listShares = policy.Requirement{
		Roles:      []policy.Role{policy.University},
		Permission: policy.PermShare,
		AllowOwner: true,
	}
)

// Share records a pending grant for a registered verifier. A zero
// expiration uses the configured grant TTL.
func (s *Service) Share(ctx context.Context, p *policy.Principal, studentID, verifierAddress string, expiration time.Time) (model.Grant, error) {
	if _, err := s.gate.Check(p, shareTranscript, policy.Resource{}); err != nil {
		return model.Grant{}, err
	}
	if !validID(studentID) {
		return model.Grant{}, apperr.InvalidArg("invalid_student_id", "studentId must be a UUID")
	}
	verifier, err := normalizeVerifier(verifierAddress)
	if err != nil {
		return model.Grant{}, err
	}
	if _, err := s.student(ctx, studentID); err != nil {
		return model.Grant{}, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	_, err = s.accounts.FindAccount(lookupCtx, verifier, policy.Verifier.Name())
	cancel()
	if errors.Is(err, repository.ErrNotFound) {
		return model.Grant{}, apperr.NotFound("verifier_not_found", "no verifier account for address")
	}
	if err != nil {
		return model.Grant{}, apperr.Unavailable(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	g, err := s.grants.Create(callCtx, studentID, verifier, expiration)
	if err != nil {
		return model.Grant{}, grantError(err)
	}
	s.log.Info("grant created", zap.String("grant_id", g.ID), zap.String("student_id", studentID), zap.String("user_id", p.UserID))
	return g, nil
}

func (s *Service) ApproveGrant(ctx context.Context, p *policy.Principal, id string) (model.Grant, error) {
	if _, err := s.gate.Check(p, shareTranscript, policy.Resource{}); err != nil {
		return model.Grant{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	g, err := s.grants.Approve(callCtx, id)
	if err != nil {
		return model.Grant{}, grantError(err)
	}
	s.log.Info("grant approved", zap.String("grant_id", g.ID), zap.String("user_id", p.UserID))
	return g, nil
}

// RevokeGrant takes effect on the verifier's next request.
func (s *Service) RevokeGrant(ctx context.Context, p *policy.Principal, id string) (model.Grant, error) {
	if _, err := s.gate.Check(p, revokeShare, policy.Resource{}); err != nil {
		return model.Grant{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	g, err := s.grants.Revoke(callCtx, id)
	if err != nil {
		return model.Grant{}, grantError(err)
	}
	s.log.Info("grant revoked", zap.String("grant_id", g.ID), zap.String("user_id", p.UserID))
	return g, nil
}

// ListGrants is open to the university and to the student who owns the
// record.
func (s *Service) ListGrants(ctx context.Context, p *policy.Principal, studentID string) ([]model.Grant, error) {
	if p == nil {
		_, err := s.gate.Check(nil, listShares, policy.Resource{})
		return nil, err
	}
	if !validID(studentID) {
		return nil, apperr.InvalidArg("invalid_student_id", "studentId must be a UUID")
	}
	student, err := s.student(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.gate.Check(p, listShares, policy.Resource{OwnerAddress: student.WalletAddress}); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	grants, err := s.grants.ListForStudent(callCtx, studentID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return grants, nil
}

// GetGrant is open to the university and to the student the grant covers.
func (s *Service) GetGrant(ctx context.Context, p *policy.Principal, id string) (model.Grant, error) {
	if p == nil {
		_, err := s.gate.Check(nil, listShares, policy.Resource{})
		return model.Grant{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	g, err := s.grants.Get(callCtx, id)
	cancel()
	if err != nil {
		return model.Grant{}, grantError(err)
	}
	student, err := s.student(ctx, g.StudentID)
	if err != nil {
		return model.Grant{}, err
	}
	if _, err := s.gate.Check(p, listShares, policy.Resource{OwnerAddress: student.WalletAddress}); err != nil {
		return model.Grant{}, err
	}
	return g, nil
}

// IsShared reports whether the verifier currently holds an active grant.
func (s *Service) IsShared(ctx context.Context, studentID, verifierAddress string) (bool, error) {
	if !validID(studentID) {
		return false, apperr.InvalidArg("invalid_student_id", "studentId must be a UUID")
	}
	verifier, err := normalizeVerifier(verifierAddress)
	if err != nil {
		return false, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	ok, err := s.grants.IsActive(callCtx, studentID, verifier)
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	return ok, nil
}

func grantError(err error) error {
	switch {
	case errors.Is(err, grant.ErrNotFound):
		return apperr.NotFound("grant_not_found", "grant not found")
	case errors.Is(err, grant.ErrInvalidTransition):
		return apperr.New(apperr.CodeConflict, "invalid_grant_transition", "grant cannot move to that status")
	case errors.Is(err, grant.ErrInvalidExpiration):
		return apperr.InvalidArg("invalid_expiration", "expiresAt must be in the future")
	default:
		return apperr.Unavailable(err)
	}
}
