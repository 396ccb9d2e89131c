/*
errors.go - Centralized error types for the sales engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP status codes; the core never does.

ERROR CATEGORIES:
  1. NotFound    - a referenced entity is absent
  2. Conflict    - invalid state transition, occupied unit, stale version,
                   duplicate schedule
  3. Validation  - out-of-range input, percentage totals over 100,
                   non-editable installment, overpayment
  4. Forbidden   - cross-tenant reference or wrong assigned approver

  "Approval required" is NOT an error: operations that need sign-off return a
  pending Approval alongside their result instead of failing.

USAGE:
  Callers classify with errors.Is or the helpers below:

    if sales.IsConflict(err) {
        // surface 409
    }
*/
package sales

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on invalid state transitions, occupied units,
	// duplicate schedules, and stale-version writes.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for inputs that fail business validation.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden is returned on cross-tenant references and approver
	// identity mismatches.
	ErrForbidden = errors.New("forbidden")
)

// ErrConcurrentModification is returned when an optimistic write loses a race.
// It is a kind of conflict: errors.Is(err, ErrConflict) holds.
var ErrConcurrentModification = fmt.Errorf("concurrent modification: %w", ErrConflict)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which entity was missing.
type NotFoundError struct {
	Kind string // "unit", "booking", "lead", ...
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError describes why an operation conflicted with current state.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }
func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError describes an input that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ForbiddenError describes a tenant or identity mismatch.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason }
func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsForbidden(err error) bool  { return errors.Is(err, ErrForbidden) }

// IsRetryable reports whether the error might succeed on retry. Only lost
// optimistic-concurrency races qualify; retries belong to the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError reports whether the error is due to the caller's input rather
// than system state.
func IsClientError(err error) bool {
	return IsValidation(err) || IsForbidden(err) || IsNotFound(err)
}

// tenantGuard verifies an entity belongs to the acting tenant.
func tenantGuard(entity TenantID, caller TenantID, kind string) error {
	if entity != caller {
		return &ForbiddenError{Reason: fmt.Sprintf("%s belongs to another tenant", kind)}
	}
	return nil
}
