package subscription

import "errors"

// ReasonError is a user-visible failure with a machine-readable reason code
// so the presentation layer can render an actionable message.
type ReasonError struct {
	Code    string
	Message string
}

func (e *ReasonError) Error() string {
	return e.Message
}

// NewReasonError creates a ReasonError with the given code and message.
func NewReasonError(code, message string) *ReasonError {
	return &ReasonError{Code: code, Message: message}
}

var (
	// ErrNotFound signals that no matching subscription exists.
	ErrNotFound = &ReasonError{Code: "subscription_not_found", Message: "no matching subscription found"}
	// ErrConflict signals an optimistic-concurrency failure; callers should
	// refetch and retry.
	ErrConflict = &ReasonError{Code: "version_conflict", Message: "subscription was modified concurrently"}
	// ErrAlreadyActive signals an attempt to create a second active
	// subscription for the same user.
	ErrAlreadyActive = &ReasonError{Code: "already_active", Message: "user already has an active subscription"}
	// ErrDowngradeNotAllowed rejects tier changes to a lower display order
	// while a subscription is active.
	ErrDowngradeNotAllowed = &ReasonError{Code: "downgrade_not_allowed", Message: "downgrades require cancellation and natural expiry"}
	// ErrQuotaExceeded rejects usage that would exceed the token limit.
	ErrQuotaExceeded = &ReasonError{Code: "token_limit_reached", Message: "token limit for the current period reached"}
	// ErrResourceLimitReached rejects resource access beyond the tier cap.
	ErrResourceLimitReached = &ReasonError{Code: "resource_limit_reached", Message: "resource access limit for the current period reached"}
	// ErrSelectionRequired signals that the tier needs a grade/subject
	// selection before scoped content can be served.
	ErrSelectionRequired = &ReasonError{Code: "selection_required", Message: "tier requires a grade/subject selection"}
	// ErrSelectionImmutable rejects changing an existing scope selection
	// outside a tier change.
	ErrSelectionImmutable = &ReasonError{Code: "selection_immutable", Message: "scope selection cannot be changed on the current tier"}
	// ErrNotCancellable rejects self-service cancellation of a free grant.
	ErrNotCancellable = &ReasonError{Code: "not_cancellable", Message: "free subscriptions cannot be cancelled"}
	// ErrNotCancelled rejects reactivation of a subscription that has no
	// pending cancellation.
	ErrNotCancelled = &ReasonError{Code: "not_cancelled", Message: "subscription has no pending cancellation"}
	// ErrInvariantViolation must never occur under correct operation; the
	// offending write is aborted and the condition is logged for operators.
	ErrInvariantViolation = &ReasonError{Code: "invariant_violation", Message: "subscription state invariant violated"}
)

// ReasonCode extracts the machine-readable code from an error chain, falling
// back to "internal_error" for unclassified failures.
func ReasonCode(err error) string {
	var re *ReasonError
	if errors.As(err, &re) {
		return re.Code
	}
	return "internal_error"
}
