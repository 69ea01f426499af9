package models

import (
	"errors"
	"fmt"
	"time"
)

// Closed error taxonomy surfaced to vault callers. Lower layers wrap these
// with context; callers match with errors.Is / errors.As.
var (
	// ErrNoVault no vault has been initialized yet
	ErrNoVault = errors.New("no vault exists")

	// ErrVaultExists a vault has already been initialized
	ErrVaultExists = errors.New("vault already exists")

	// ErrWrongPassphrase passphrase unwrap failed AEAD verification
	ErrWrongPassphrase = errors.New("wrong passphrase")

	// ErrBiometricUnavailable the hardware keyring is not available
	ErrBiometricUnavailable = errors.New("biometric unlock unavailable")

	// ErrBiometricRejected the hardware keyring rejected the assertion
	ErrBiometricRejected = errors.New("biometric assertion rejected")

	// ErrLocked operation attempted outside an unlocked session
	ErrLocked = errors.New("vault is locked")

	// ErrTampered AEAD verification failed on stored ciphertext
	ErrTampered = errors.New("ciphertext failed authentication")

	// ErrSchemaMismatch the persisted schema identity differs from expected
	ErrSchemaMismatch = errors.New("persisted schema identity mismatch")
)

// CooldownError unlock attempts are rejected until the cooldown expires
type CooldownError struct {
	// RetryAfter how long before the next attempt is accepted
	RetryAfter time.Duration
}

// Error implement error
func (e *CooldownError) Error() string {
	return fmt.Sprintf("unlock in cooldown, retry after %s", e.RetryAfter)
}

// NotFoundError a referenced entity is absent
type NotFoundError struct {
	// Kind the entity kind ("record", "field", "attachment")
	Kind string
	// ID the entity ID
	ID string
}

// Error implement error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ValidationError input rejected before any state change
type ValidationError struct {
	// Reason why the input was rejected
	Reason string
}

// Error implement error
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// StorageError underlying store I/O failure
type StorageError struct {
	// Cause the underlying failure
	Cause error
}

// Error implement error
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure [%s]", e.Cause)
}

// Unwrap expose the underlying failure
func (e *StorageError) Unwrap() error {
	return e.Cause
}
