package switcherr

import (
	"errors"
	"testing"
)

func TestLockErrorFields(t *testing.T) {
	err := NewLockError("slack", "slack:C1:123")
	if err.Name() != "LockError" {
		t.Errorf("Name() = %q", err.Name())
	}
	if err.Adapter() != "slack" {
		t.Errorf("Adapter() = %q", err.Adapter())
	}
	if err.Code() != "LOCK_FAILED" {
		t.Errorf("Code() = %q", err.Code())
	}
}

func TestRateLimitErrorRetryAfter(t *testing.T) {
	retryAfter := int64(5000)
	err := NewRateLimitError("discord", &retryAfter, nil)
	if err.RetryAfterMs == nil || *err.RetryAfterMs != 5000 {
		t.Errorf("RetryAfterMs = %v", err.RetryAfterMs)
	}
}

func TestErrorsAsUnwrapsToConcreteType(t *testing.T) {
	var wrapped error = NewNetworkError("discord", errors.New("dial tcp: timeout"))

	var netErr *NetworkError
	if !errors.As(wrapped, &netErr) {
		t.Fatalf("errors.As failed to find *NetworkError")
	}
	if netErr.Adapter() != "discord" {
		t.Errorf("Adapter() = %q", netErr.Adapter())
	}
	if errors.Unwrap(wrapped) == nil {
		t.Errorf("expected cause to be unwrappable")
	}
}

func TestAllMembersImplementError(t *testing.T) {
	members := []Error{
		NewLockError("a", "t"),
		NewRateLimitError("a", nil, nil),
		NewNotImplementedError("a", "reactions"),
		NewValidationError("a", "bad payload"),
		NewAuthenticationError("a", nil),
		NewPermissionError("a", nil),
		NewResourceNotFoundError("a", "thread"),
		NewNetworkError("a", nil),
		NewAdapterError("a", "boom", nil),
	}
	for _, m := range members {
		if m.Name() == "" || m.Code() == "" {
			t.Errorf("member %T missing Name/Code", m)
		}
		if m.Error() == "" {
			t.Errorf("member %T has empty Error() string", m)
		}
	}
}
