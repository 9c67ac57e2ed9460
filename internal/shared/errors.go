package shared

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure. Unknown usernames and
	// wrong passwords both collapse into this value.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrConflict indicates a uniqueness violation. The message stays generic
	// so callers cannot learn which field collided.
	ErrConflict = errors.New("account could not be created")
	// ErrUnauthenticated indicates a request without a logged-in session.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// InvalidCredentialsMessage is the single user-visible text for every failed
// login, regardless of cause.
const InvalidCredentialsMessage = "Invalid credentials"

// FieldError carries a per-field validation message for form re-display.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors is the ordered list of field failures for one submission.
type ValidationErrors []FieldError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidationErrors unwraps err into ValidationErrors when possible.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return verrs, true
	}
	return nil, false
}
