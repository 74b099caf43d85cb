package exporting

import (
	"errors"
	"fmt"
)

var (
	// ErrSinkClosed is returned by Submit after Close
	ErrSinkClosed = errors.New("export sink is closed")

	// ErrInvalidSubmission is returned for an empty file URI or remote key
	ErrInvalidSubmission = errors.New("export submission needs a file URI and a remote key")
)

// UploadError represents a failed delivery attempt
type UploadError struct {
	IsRecoverable bool
	StatusCode    int
	InnerError    error
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed with status %d: %v", e.StatusCode, e.InnerError)
	}
	if e.InnerError != nil {
		return fmt.Sprintf("upload failed: %v", e.InnerError)
	}
	return "upload failed"
}

func (e *UploadError) Unwrap() error {
	return e.InnerError
}

// NewRecoverableUploadError creates an error for a delivery worth retrying
func NewRecoverableUploadError(inner error) *UploadError {
	return &UploadError{IsRecoverable: true, InnerError: inner}
}

// NewNonRecoverableUploadError creates an error for a delivery that will never succeed
func NewNonRecoverableUploadError(inner error) *UploadError {
	return &UploadError{IsRecoverable: false, InnerError: inner}
}

// IsRecoverableUploadError returns true unless err is an UploadError marked non-recoverable.
// Unknown errors (timeouts, resets) are treated as recoverable.
func IsRecoverableUploadError(err error) bool {
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return uploadErr.IsRecoverable
	}
	return err != nil
}
