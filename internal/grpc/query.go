package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"atms/identity/internal/apperr"
	"atms/identity/internal/policy"
)

type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*policy.Principal, error)
}

type GrantChecker interface {
	IsShared(ctx context.Context, studentID, verifierAddress string) (bool, error)
}

type SessionQuery struct {
	sessions SessionResolver
	grants   GrantChecker
}

func NewSessionQuery(sessions SessionResolver, grants GrantChecker) *SessionQuery {
	return &SessionQuery{sessions: sessions, grants: grants}
}

func (s *SessionQuery) ResolveSession(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "token required")
	}
	p, err := s.sessions.ResolveSession(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}

	permissions := make([]interface{}, 0, len(p.Details.Permissions))
	for _, perm := range p.Details.Permissions {
		permissions = append(permissions, perm)
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"userId":        p.UserID,
		"role":          p.Role.Name(),
		"walletAddress": p.WalletAddress,
		"roleDetails": map[string]interface{}{
			"institutionName": p.Details.InstitutionName,
			"domain":          p.Details.Domain,
			"matricNumber":    p.Details.MatricNumber,
			"organization":    p.Details.Organization,
			"permissions":     permissions,
		},
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "session encoding failed")
	}
	return out, nil
}

func (s *SessionQuery) CheckGrant(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	fields := req.GetFields()
	studentID := fields["studentId"].GetStringValue()
	verifier := fields["verifierAddress"].GetStringValue()
	if studentID == "" || verifier == "" {
		return nil, status.Error(codes.InvalidArgument, "studentId and verifierAddress required")
	}
	ok, err := s.grants.IsShared(ctx, studentID, verifier)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(ok), nil
}

func toStatus(err error) error {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		return status.Error(codes.Internal, "server_error")
	}
	code := codes.Internal
	switch appErr.Code {
	case apperr.CodeInvalidArgument:
		code = codes.InvalidArgument
	case apperr.CodeUnauthenticated:
		code = codes.Unauthenticated
	case apperr.CodePermissionDenied:
		code = codes.PermissionDenied
	case apperr.CodeNotFound:
		code = codes.NotFound
	case apperr.CodeConflict:
		code = codes.FailedPrecondition
	case apperr.CodeUnavailable:
		code = codes.Unavailable
	}
	return status.Error(code, appErr.Reason)
}
