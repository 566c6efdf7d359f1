package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", 400)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}
	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}
	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestWithRetryAfterCopies(t *testing.T) {
	locked := ErrAccountLocked.WithRetryAfter(7200)

	if ErrAccountLocked.RetryAfter != 0 {
		t.Fatal("expected sentinel to remain unchanged")
	}
	if locked.RetryAfter != 7200 {
		t.Fatalf("unexpected retry after: %d", locked.RetryAfter)
	}
	if locked.StatusCode != http.StatusLocked {
		t.Fatalf("unexpected status: %d", locked.StatusCode)
	}
	if !stdErrors.Is(locked, ErrAccountLocked) {
		t.Fatal("expected copy to match sentinel by code")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("login: %w", ErrTokenExpired.WithInternal(stdErrors.New("exp")))

	if !stdErrors.Is(wrapped, ErrTokenExpired) {
		t.Fatal("expected wrapped error to match TOKEN_EXPIRED")
	}
	if stdErrors.Is(wrapped, ErrInvalidToken) {
		t.Fatal("expected TOKEN_EXPIRED not to match INVALID_TOKEN")
	}
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	if out := FromError(appErr); out != appErr {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code {
		t.Fatalf("expected %s, got %s", ErrBadRequest.Code, err.Code)
	}
	if err.Message != "invalid payload" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
	if err.StatusCode != ErrBadRequest.StatusCode {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}
