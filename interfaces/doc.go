// Package interfaces defines the shared contracts of the custody backend:
// domain types for inheritance plans, trustees, beneficiaries and audit
// entries, the typed error taxonomy, and the storage interfaces the services
// consume.
//
// The package contains no business logic. Services (kms, shamir,
// inheritance, auditchain) depend on it, storage implementations satisfy it,
// and the HTTP layer maps its errors onto status codes. Keeping every
// cross-package type here avoids import cycles between the service packages
// and their storage backends.
//
// # Error taxonomy
//
// Errors fall into a small number of classes with distinct handling:
//
//   - ValidationError: bad input shape or threshold math; local rejection.
//   - ErrAuthenticationFailed: wrong secret or failed AEAD tag. Callers must
//     not surface detail that distinguishes it from a missing record.
//   - ErrInsufficientShares, ErrInsufficientApprovals, ErrWaitingPeriodActive:
//     a threshold is not met yet; retryable by gathering more input or waiting.
//   - ErrInvalidState, ErrAlreadyApproved, ErrNotABeneficiary: the operation
//     is not valid for the current plan state or caller.
//   - CorruptionError: audit chain integrity failure; a hard alarm.
//   - ErrStorageTimeout, ErrStorageFailure: collaborator unavailable; the
//     caller decides whether to retry.
package interfaces
