package backup

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackupErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("upload failed", cause)

	assert.Contains(t, err.Error(), "STORAGE_ERROR")
	assert.Contains(t, err.Error(), "upload failed")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestBackupErrorContext(t *testing.T) {
	err := NewIntegrityError("checksum mismatch", nil).
		WithContext("artifact_id", "abc").
		WithContext("expected", "deadbeef")

	assert.Equal(t, "abc", err.Context["artifact_id"])
	assert.Equal(t, "deadbeef", err.Context["expected"])
}

func TestErrorType(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewComplianceError("unencrypted artifact", nil))

	assert.Equal(t, BackupErrorTypeCompliance, ErrorType(wrapped))
	assert.Equal(t, BackupErrorType(""), ErrorType(errors.New("plain")))
}

func TestNotImplementedErrorNamesAlternative(t *testing.T) {
	err := NewNotImplementedError("point-in-time database restore", "DATABASE_FULL with an incremental chain")

	assert.Equal(t, BackupErrorTypeNotImplemented, err.Type)
	assert.Contains(t, err.Message, "is not implemented, use DATABASE_FULL")
	assert.True(t, IsPermanent(err))
	assert.False(t, IsRetryable(err))
}

func TestRetryClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		permanent bool
	}{
		{"dependency", NewDependencyError("database unreachable", nil), true, false},
		{"storage", NewStorageError("timeout", nil), true, false},
		{"validation", NewValidationError("bad job", nil), false, true},
		{"integrity", NewIntegrityError("tampered", nil), false, true},
		{"compliance", NewComplianceError("unencrypted", nil), false, true},
		{"partial", NewPartialFailureError("some items failed", nil), false, false},
		{"plain", errors.New("plain"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewStorageError("object jobs/x not found", nil)))
	assert.False(t, IsNotFound(NewStorageError("upload failed", nil)))
	assert.False(t, IsNotFound(NewIntegrityError("manifest not found", nil)))
	assert.False(t, IsNotFound(errors.New("not found")))
}

func TestValidationErrorsCollection(t *testing.T) {
	var errs ValidationErrors
	assert.False(t, errs.HasErrors())

	errs.Add("tier", "unknown backup tier", "NEVER")
	errs.Add("components", "at least one component is required", nil)

	assert.True(t, errs.HasErrors())
	assert.Len(t, errs, 2)
	assert.Contains(t, errs.Error(), "2 validation errors")
	assert.Contains(t, errs.Error(), "tier")
}
