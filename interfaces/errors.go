package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed is returned when a derived key fails proof
	// verification or an AEAD tag check fails. Handlers surface it with a
	// generic message; it must not be distinguishable from a wrong key.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientShares is returned by share reconstruction when fewer
	// than the threshold number of shares were provided.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInsufficientApprovals is returned by Trigger when the recomputed
	// approval count is below the plan threshold.
	ErrInsufficientApprovals = errors.New("insufficient trustee approvals")

	// ErrWaitingPeriodActive is returned by Trigger when the waiting period
	// has not elapsed and no emergency override was requested.
	ErrWaitingPeriodActive = errors.New("waiting period still active")

	// ErrInvalidState is returned when an operation is not valid for the
	// plan's current status.
	ErrInvalidState = errors.New("operation not valid in current plan state")

	// ErrAlreadyApproved is returned when a trustee approves twice.
	// Approval is monotonic; there is no un-approve.
	ErrAlreadyApproved = errors.New("trustee has already approved")

	// ErrNotABeneficiary is returned when a caller requests share release
	// without being listed on the plan.
	ErrNotABeneficiary = errors.New("requester is not a listed beneficiary")

	// ErrNotAuthorized is returned when the caller is not permitted to
	// perform the operation (e.g. a non-owner triggering a plan).
	ErrNotAuthorized = errors.New("caller is not authorized for this operation")

	// ErrStorageTimeout is returned when a persistence call exceeded its
	// bounded deadline.
	ErrStorageTimeout = errors.New("storage operation timed out")

	// ErrStorageFailure is returned for any other persistence failure.
	ErrStorageFailure = errors.New("storage operation failed")

	// ErrSaltRecordExists is returned when initializing key material for an
	// owner that already has a salt record. Salt records are immutable.
	ErrSaltRecordExists = errors.New("master key salt record already exists")
)

// ValidationError reports malformed input or inconsistent threshold math.
// It is a local rejection; nothing was persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CorruptionError reports a broken audit hash chain. It identifies the first
// entry whose stored hash or predecessor link does not verify. It is fatal:
// callers alert and never auto-repair.
type CorruptionError struct {
	TenantID string
	EntryID  string
	Seq      int64
	Reason   string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("audit chain corrupted for tenant %s at entry %s (seq %d): %s",
		e.TenantID, e.EntryID, e.Seq, e.Reason)
}

// IsCorruption reports whether err is a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}
