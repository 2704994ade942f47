package domain

import "errors"

// Domain errors
var (
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrConfigurationConflict = errors.New("configuration id already taken")
	ErrRoundNotFound         = errors.New("round not found")
	ErrRoundExists           = errors.New("round already exists")
	ErrNotRoundAuthor        = errors.New("caller is not the round author")
	ErrProfileNotFound       = errors.New("profile not found")
	ErrUnauthenticated       = errors.New("no user identity")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInternalError         = errors.New("internal server error")
)

// ValidationError describes a rejected request field. Message is safe to show callers.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match ErrInvalidRequest.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// Invalid returns a ValidationError with the given message.
func Invalid(message string) error {
	return &ValidationError{Message: message}
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrConfigurationNotFound) ||
		errors.Is(err, ErrRoundNotFound) ||
		errors.Is(err, ErrProfileNotFound)
}
