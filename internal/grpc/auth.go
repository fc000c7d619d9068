package grpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const serviceTokenHeader = "x-service-token"

var (
	errMissingServiceToken = status.Error(codes.Unauthenticated, "missing_service_token")
	errInvalidServiceToken = status.Error(codes.PermissionDenied, "invalid_service_token")
)

// NewServiceAuthUnaryInterceptor admits only callers presenting the shared
// service token in the x-service-token metadata key.
func NewServiceAuthUnaryInterceptor(expectedToken string) (grpc.UnaryServerInterceptor, error) {
	if expectedToken == "" {
		return nil, errors.New("service auth token required")
	}
	expected := []byte(expectedToken)
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := checkServiceToken(ctx, expected); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}, nil
}

func checkServiceToken(ctx context.Context, expected []byte) error {
	md, _ := metadata.FromIncomingContext(ctx)
	var presented string
	if values := md.Get(serviceTokenHeader); len(values) > 0 {
		presented = strings.TrimSpace(values[0])
	}
	switch {
	case presented == "":
		return errMissingServiceToken
	case subtle.ConstantTimeCompare([]byte(presented), expected) != 1:
		return errInvalidServiceToken
	default:
		return nil
	}
}

// WithServiceToken attaches the token to outgoing calls.
func WithServiceToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, serviceTokenHeader, token)
}
