package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrDuplicateAccount   = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrInvalidState       = errors.New("invalid oauth state")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAccountNotLinked   = errors.New("email belongs to an account under a different provider")
	ErrStoreUnavailable   = errors.New("identity store unavailable")
	ErrInvalidInput       = errors.New("invalid input")
)

// ProviderError wraps a failure while talking to an external identity
// provider. Temporary failures (network, upstream 5xx) are safe to retry from
// the client's side; permanent ones (missing claims, rejected code) are not.
type ProviderError struct {
	Provider  AuthProvider
	Op        string
	Temporary bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
