package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAccounts is returned when a user has no active accounts to sync
	ErrNoAccounts = errors.New("no active email accounts found")
	// ErrNotFound is returned when a stored entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrCacheMiss is returned when a cache key is absent or expired
	ErrCacheMiss = errors.New("cache entry not found")
	// ErrUnsupported is returned by providers lacking a primitive
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrInvalidRule is returned when a category rule fails validation
	ErrInvalidRule = errors.New("invalid category rule")
)

// AuthError indicates revoked or otherwise unusable credentials for an account
type AuthError struct {
	Account string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error (%s): %s: %v", e.Account, e.Message, e.Err)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Account, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ProviderError is a failed provider call carrying its HTTP status
type ProviderError struct {
	Provider   Provider
	Op         string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Provider, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Provider, e.Op, e.StatusCode, e.Body)
}
