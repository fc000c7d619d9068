package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidArgument:  http.StatusBadRequest,
		CodeUnauthenticated:  http.StatusUnauthorized,
		CodePermissionDenied: http.StatusForbidden,
		CodeNotFound:         http.StatusNotFound,
		CodeConflict:         http.StatusConflict,
		CodeUnavailable:      http.StatusServiceUnavailable,
		CodeInternal:         http.StatusInternalServerError,
		CodeUnknown:          http.StatusInternalServerError,
	}
	for code, expect := range cases {
		if got := code.HTTPStatus(); got != expect {
			t.Fatalf("expected %d for %s, got %d", expect, code, got)
		}
	}
}

func TestFromKeepsWrappedAppError(t *testing.T) {
	base := NotFound("student_not_found", "student not found")
	wrapped := fmt.Errorf("lookup: %w", base)

	got := From(wrapped)
	if got.Code != CodeNotFound || got.Reason != "student_not_found" {
		t.Fatalf("unexpected app error %+v", got)
	}
}

func TestFromMapsDeadlineToUnavailable(t *testing.T) {
	got := From(fmt.Errorf("query: %w", context.DeadlineExceeded))
	if got.Code != CodeUnavailable {
		t.Fatalf("expected unavailable, got %s", got.Code)
	}
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be preserved")
	}
}

func TestFromHidesRawErrors(t *testing.T) {
	got := From(errors.New("pq: relation does not exist"))
	if got.Code != CodeInternal || got.Message != "internal server error" {
		t.Fatalf("unexpected app error %+v", got)
	}
	if From(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
