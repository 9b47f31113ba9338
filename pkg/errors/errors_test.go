package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(ErrCodeLockBusy, "lock held")

	if err.Code != ErrCodeLockBusy {
		t.Errorf("Expected code %s, got %s", ErrCodeLockBusy, err.Code)
	}
	if err.Category != CategoryLocking {
		t.Errorf("Expected category %s, got %s", CategoryLocking, err.Category)
	}
	if !err.Retryable {
		t.Error("Expected LOCK_BUSY to be retryable by default")
	}
	if err.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		category ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeMissingOption, CategoryConfiguration},
		{ErrCodeUnknownEvent, CategoryConfiguration},
		{ErrCodeLockBusy, CategoryLocking},
		{ErrCodeLockTimeout, CategoryLocking},
		{ErrCodeObjectNotFound, CategoryStorage},
		{ErrCodeRemoteIO, CategoryStorage},
		{ErrCodeTransformFailure, CategoryTransform},
		{ErrCodeFormatMismatch, CategoryTransform},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.category {
			t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.category)
		}
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	retryable := []ErrorCode{ErrCodeLockBusy, ErrCodeLockTimeout, ErrCodeRemoteIO}
	for _, code := range retryable {
		if !IsRetryableByDefault(code) {
			t.Errorf("Expected %s to be retryable by default", code)
		}
	}

	permanent := []ErrorCode{
		ErrCodeInvalidConfig,
		ErrCodeUnknownEvent,
		ErrCodeTransformFailure,
		ErrCodeFormatMismatch,
	}
	for _, code := range permanent {
		if IsRetryableByDefault(code) {
			t.Errorf("Expected %s to not be retryable by default", code)
		}
	}
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrCodeInvalidConfig, 2},
		{ErrCodeMissingOption, 2},
		{ErrCodeUnknownEvent, 2},
		{ErrCodeLockBusy, 3},
		{ErrCodeLockTimeout, 3},
		{ErrCodeObjectNotFound, 4},
		{ErrCodeRemoteIO, 4},
		{ErrCodeTransformFailure, 5},
		{ErrCodeFormatMismatch, 6},
		{ErrCodeInternalError, 1},
	}

	for _, tt := range tests {
		if got := ExitStatus(tt.code); got != tt.status {
			t.Errorf("ExitStatus(%s) = %d, want %d", tt.code, got, tt.status)
		}
	}
}

func TestExitStatus_DistinctPerCategory(t *testing.T) {
	// Failures in different categories must be distinguishable by exit
	// status alone.
	seen := map[int]ErrorCategory{}
	for _, code := range []ErrorCode{
		ErrCodeInvalidConfig,
		ErrCodeLockTimeout,
		ErrCodeRemoteIO,
		ErrCodeTransformFailure,
		ErrCodeFormatMismatch,
	} {
		status := ExitStatus(code)
		if status == 0 {
			t.Errorf("ExitStatus(%s) = 0, failures must be non-zero", code)
		}
		category := GetCategory(code)
		if prev, ok := seen[status]; ok && prev != category {
			t.Errorf("Exit status %d shared by categories %s and %s", status, prev, category)
		}
		seen[status] = category
	}
}

func TestCodeOf(t *testing.T) {
	inner := NewError(ErrCodeRemoteIO, "connection reset")
	wrapped := fmt.Errorf("fetch failed: %w", inner)

	if got := CodeOf(wrapped); got != ErrCodeRemoteIO {
		t.Errorf("CodeOf(wrapped) = %s, want %s", got, ErrCodeRemoteIO)
	}
	if got := CodeOf(stderrors.New("plain")); got != ErrCodeInternalError {
		t.Errorf("CodeOf(plain) = %s, want %s", got, ErrCodeInternalError)
	}
	if got := CodeOf(nil); got != ErrCodeInternalError {
		t.Errorf("CodeOf(nil) = %s, want %s", got, ErrCodeInternalError)
	}
}

func TestIsCode(t *testing.T) {
	err := NewError(ErrCodeFormatMismatch, "already compressed").
		WithComponent("codec")
	wrapped := fmt.Errorf("job failed: %w", err)

	if !IsCode(wrapped, ErrCodeFormatMismatch) {
		t.Error("Expected IsCode to match through wrapping")
	}
	if IsCode(wrapped, ErrCodeLockBusy) {
		t.Error("Expected IsCode to reject a different code")
	}
}

func TestErrorChaining(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewError(ErrCodeRemoteIO, "upload failed").
		WithComponent("posix").
		WithOperation("upload").
		WithContext("path", "/iplant/s1.fastq").
		WithCause(cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	if err.Unwrap() != cause {
		t.Error("Expected Unwrap to return the cause")
	}
	if err.Component != "posix" || err.Operation != "upload" {
		t.Errorf("Unexpected component/operation: %s/%s", err.Component, err.Operation)
	}
	if err.Context["path"] != "/iplant/s1.fastq" {
		t.Errorf("Unexpected context: %v", err.Context)
	}
}

func TestWithRetryable(t *testing.T) {
	err := NewError(ErrCodeRemoteIO, "throttled").WithRetryable(false)
	if err.Retryable {
		t.Error("Expected WithRetryable(false) to override the default")
	}
}
