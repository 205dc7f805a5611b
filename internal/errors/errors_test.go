package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	underlying := errors.New("sharing violation")
	err := New(CodeTransientFileLock, "probe", underlying).
		WithReason(ReasonFileLocked).
		WithPath("/refs/Acme.dll")

	if err.Code != CodeTransientFileLock {
		t.Errorf("Expected code TransientFileLock, got %v", err.Code)
	}

	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}

	expectedMsg := "probe: TransientFileLock (FileLocked) for /refs/Acme.dll: sharing violation"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}

	if err.Timestamp.IsZero() {
		t.Errorf("Expected Timestamp to be set")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"coded", ArgumentMissing("AddProject", ReasonProjectFilePathRequired), CodeArgumentMissing},
		{"wrapped", fmt.Errorf("open: %w", ProjectNotFound("RemoveProject", "Acme")), CodeProjectNotFound},
		{"plain", errors.New("nil map write"), CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReasonOf(t *testing.T) {
	err := fmt.Errorf("remove: %w", ProjectNotFound("RemoveProject", "Acme"))
	if got := ReasonOf(err); got != ReasonSpecifiedProjectNotFound {
		t.Errorf("ReasonOf() = %q, want %q", got, ReasonSpecifiedProjectNotFound)
	}
	if got := ReasonOf(errors.New("plain")); got != "" {
		t.Errorf("ReasonOf(plain) = %q, want empty", got)
	}
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("load: %w", New(CodeLoadFailure, "index", nil).WithReason(ReasonUnsupportedFormat))

	if !errors.Is(err, &Error{Code: CodeLoadFailure}) {
		t.Errorf("Expected errors.Is to match on code")
	}
	if !errors.Is(err, &Error{Code: CodeLoadFailure, Reason: ReasonUnsupportedFormat}) {
		t.Errorf("Expected errors.Is to match on code and reason")
	}
	if errors.Is(err, &Error{Code: CodeLoadFailure, Reason: ReasonFileLocked}) {
		t.Errorf("Expected errors.Is to reject a different reason")
	}
	if errors.Is(err, &Error{Code: CodeInternalError}) {
		t.Errorf("Expected errors.Is to reject a different code")
	}
}

func TestConfigError(t *testing.T) {
	underlying := errors.New("must be positive")
	err := NewConfigError("index.lock_timeout_ms", "-1", underlying)

	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}

	expectedMsg := "config error for field index.lock_timeout_ms (value -1): must be positive"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestMultiError(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	multi := NewMultiError([]error{err1, nil, err2})
	if len(multi.Errors) != 2 {
		t.Fatalf("Expected 2 errors after filtering nil, got %d", len(multi.Errors))
	}
	if !errors.Is(multi, err2) {
		t.Errorf("Expected multi-error to contain err2")
	}

	if NewMultiError(nil).ErrOrNil() != nil {
		t.Errorf("Expected empty multi-error to collapse to nil")
	}
	if NewMultiError([]error{err1}).Error() != "first" {
		t.Errorf("Expected single error message to pass through")
	}
}
