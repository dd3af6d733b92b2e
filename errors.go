package identity

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_AVAILABILITY_TRANSITION"
	textCodeTerminalState     = "TERMINAL_AVAILABILITY"
	textCodeInvalidRole       = "INVALID_ROLE"
	textCodeStaleRecord       = "STALE_USER_RECORD"
	textCodeTokenCollision    = "TOKEN_COLLISION"
	textCodeDeliveryFailure   = "EMAIL_DELIVERY_FAILED"
	textCodeValidationFailed  = "VALIDATION_FAILED"
	textCodeEmailTaken        = "EMAIL_ALREADY_REGISTERED"
)

// ErrInvalidTransition is returned when a requested availability change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid availability transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move away from a terminal
// availability (archived).
var ErrTerminalState = goerrors.New("user availability is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// ErrInvalidRole is returned when a role outside the supported enum is requested.
var ErrInvalidRole = goerrors.New("unknown or invalid role", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidRole).
	WithCode(goerrors.CodeBadRequest)

// ErrStaleRecord is returned when a guarded update lost a concurrent write.
// Callers should re-read the user and retry the transition.
var ErrStaleRecord = goerrors.New("user record was modified concurrently", goerrors.CategoryConflict).
	WithTextCode(textCodeStaleRecord).
	WithCode(goerrors.CodeConflict)

// ErrTokenCollision is returned when a freshly minted token collides with the
// storage unique index. Retryable: mint a new token and try again.
var ErrTokenCollision = goerrors.New("token value already in use", goerrors.CategoryConflict).
	WithTextCode(textCodeTokenCollision).
	WithCode(goerrors.CodeConflict)

// ErrDeliveryFailure is returned when the notification collaborator fails.
// The persisted state is NOT rolled back when you see this error.
var ErrDeliveryFailure = goerrors.New("notification delivery failed", goerrors.CategoryOperation).
	WithTextCode(textCodeDeliveryFailure)

// ErrEmailTaken is returned when registration hits the (account_id, email)
// unique constraint.
var ErrEmailTaken = goerrors.New("email already registered for account", goerrors.CategoryConflict).
	WithTextCode(textCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrNoEmptyString is the error for empty password input
var ErrNoEmptyString = errors.New("password cannot be an empty string")

// ErrMismatchedHashAndPassword is the error for a failed credential comparison
var ErrMismatchedHashAndPassword = errors.New("mismatched password and hash")

// IsUniqueViolation will check whether the error is a storage-level unique
// constraint violation. Matches the drivers we target (sqlite, postgres, mysql).
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "Error 1062")
}

// IsConflict reports whether the error carries conflict semantics, either a
// categorized conflict or a raw driver unique violation.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if IsUniqueViolation(err) {
		return true
	}
	return errors.Is(err, ErrStaleRecord) ||
		errors.Is(err, ErrTokenCollision) ||
		errors.Is(err, ErrTerminalState) ||
		errors.Is(err, ErrEmailTaken)
}

// validationError converts an ozzo validation failure into a categorized
// error carrying per-field causes in metadata.
func validationError(msg string, verr error) error {
	var fields validation.Errors
	if errors.As(verr, &fields) {
		causes := make(map[string]any, len(fields))
		for field, ferr := range fields {
			if ferr != nil {
				causes[field] = ferr.Error()
			}
		}
		return goerrors.New(msg, goerrors.CategoryValidation).
			WithTextCode(textCodeValidationFailed).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"fields": causes})
	}
	return goerrors.Wrap(verr, goerrors.CategoryValidation, msg)
}
