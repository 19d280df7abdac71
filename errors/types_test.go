package errors

import (
	"errors"
	"testing"
)

func TestGuardErrorInterface(t *testing.T) {
	var _ GuardError = &guardError{}
}

func TestGuardError_Accessors(t *testing.T) {
	cause := errors.New("underlying error")
	err := &guardError{
		code:       ErrCodeStaleVersion,
		message:    "workflow changed",
		suggestion: "reload",
		context:    map[string]string{"workflow_id": "abc"},
		cause:      cause,
	}

	if got := err.Error(); got != "workflow changed" {
		t.Errorf("Error() = %q, want %q", got, "workflow changed")
	}
	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
	if got := err.Code(); got != ErrCodeStaleVersion {
		t.Errorf("Code() = %q, want %q", got, ErrCodeStaleVersion)
	}
	if got := err.Suggestion(); got != "reload" {
		t.Errorf("Suggestion() = %q, want %q", got, "reload")
	}
	if got := err.Context()["workflow_id"]; got != "abc" {
		t.Errorf("Context()[workflow_id] = %q, want %q", got, "abc")
	}
}

func TestNew_InitializesContext(t *testing.T) {
	ge := New(ErrCodeWorkflowNotFound, "missing", "check id", nil)
	if ge.Context() == nil {
		t.Fatal("Context() should not be nil")
	}
	if ge.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", ge.Unwrap())
	}
}

func TestWithContext_DoesNotModifyOriginal(t *testing.T) {
	original := New(ErrCodeWorkflowNotFound, "missing", "check id", nil)
	original = WithContext(original, "a", "1")

	updated := WithContext(original, "b", "2")

	if _, ok := original.Context()["b"]; ok {
		t.Error("original error context was modified")
	}
	if updated.Context()["a"] != "1" || updated.Context()["b"] != "2" {
		t.Errorf("updated context = %v, want a=1 b=2", updated.Context())
	}
	if updated.Code() != original.Code() {
		t.Errorf("Code() = %q, want %q", updated.Code(), original.Code())
	}
}

func TestIsGuardError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("plain"), false},
		{"guard error", New(ErrCodeRateLimited, "slow down", "", nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := IsGuardError(tt.err)
			if ok != tt.want {
				t.Errorf("IsGuardError() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %q, want empty", got)
	}
	if got := GetCode(New(ErrCodeDuplicateApproval, "dup", "", nil)); got != ErrCodeDuplicateApproval {
		t.Errorf("GetCode() = %q, want %q", got, ErrCodeDuplicateApproval)
	}
}
