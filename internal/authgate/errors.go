package authgate

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredential indicates a malformed or unverifiable bearer credential.
	ErrInvalidCredential = errors.New("gate.invalid_credential")
	// ErrUserNotFound indicates a verified credential with no matching user row.
	ErrUserNotFound = errors.New("store.user_not_found")
	// ErrSessionNotFound indicates the session token was never issued or already destroyed.
	ErrSessionNotFound = errors.New("session.not_found")
	// ErrSessionExpired indicates the session token exceeded its TTL.
	ErrSessionExpired = errors.New("session.expired")
)

// RefreshError carries the provider status for a failed token refresh.
type RefreshError struct {
	StatusCode int
	Err        error
}

// Error renders the provider status and the wrapped cause.
func (refreshErr *RefreshError) Error() string {
	return fmt.Sprintf("refresh.provider_failure status=%d: %v", refreshErr.StatusCode, refreshErr.Err)
}

// Unwrap exposes the wrapped cause.
func (refreshErr *RefreshError) Unwrap() error {
	return refreshErr.Err
}
