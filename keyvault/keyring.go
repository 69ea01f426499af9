package keyvault

import (
	"fmt"
	"sync"

	"github.com/alwitt/quickvault/models"
)

/*
HardwareKeyring the platform key store guarding the biometric slot.

Implementations wrap and unwrap small secrets under a key that never leaves
the hardware; unwrapping requires a fresh user presence check.
*/
type HardwareKeyring interface {
	/*
		Available whether hardware-backed keys can be used right now
	*/
	Available() bool

	/*
		Wrap encrypt a secret under the hardware key

			@param secret []byte - the secret to guard
			@return opaque wrapped blob
	*/
	Wrap(secret []byte) ([]byte, error)

	/*
		Unwrap recover a secret after a user presence check

		Returns an error wrapping `models.ErrBiometricRejected` when the user
		fails or cancels the presence check, and one wrapping
		`models.ErrBiometricUnavailable` when the hardware key is gone.

			@param wrapped []byte - the wrapped blob
			@return the secret
	*/
	Unwrap(wrapped []byte) ([]byte, error)

	/*
		DestroyKey delete the hardware key, invalidating all wrapped blobs
	*/
	DestroyKey() error
}

// ======================================================================================
// Simulated keyring

// SimulatedKeyring in-memory HardwareKeyring for tests and development builds
//
// Wrapping XORs against a per-keyring pad, which is enough to verify that
// blobs are only recoverable through the keyring instance that produced them.
type SimulatedKeyring struct {
	lock sync.Mutex
	pad  []byte

	// SimulateUnavailable report the hardware as absent
	SimulateUnavailable bool
	// SimulateRejection fail presence checks
	SimulateRejection bool
}

// NewSimulatedKeyring define a simulated keyring with a fixed pad
func NewSimulatedKeyring(pad []byte) *SimulatedKeyring {
	padCopy := make([]byte, len(pad))
	copy(padCopy, pad)
	return &SimulatedKeyring{pad: padCopy}
}

// Available whether hardware-backed keys can be used right now
func (k *SimulatedKeyring) Available() bool {
	k.lock.Lock()
	defer k.lock.Unlock()
	return !k.SimulateUnavailable && k.pad != nil
}

// Wrap encrypt a secret under the hardware key
func (k *SimulatedKeyring) Wrap(secret []byte) ([]byte, error) {
	k.lock.Lock()
	defer k.lock.Unlock()

	if k.SimulateUnavailable || k.pad == nil {
		return nil, fmt.Errorf("simulated keyring offline [%w]", models.ErrBiometricUnavailable)
	}

	wrapped := make([]byte, len(secret))
	for idx, b := range secret {
		wrapped[idx] = b ^ k.pad[idx%len(k.pad)]
	}
	return wrapped, nil
}

// Unwrap recover a secret after a user presence check
func (k *SimulatedKeyring) Unwrap(wrapped []byte) ([]byte, error) {
	k.lock.Lock()
	defer k.lock.Unlock()

	if k.SimulateUnavailable || k.pad == nil {
		return nil, fmt.Errorf("simulated keyring offline [%w]", models.ErrBiometricUnavailable)
	}
	if k.SimulateRejection {
		return nil, fmt.Errorf("presence check failed [%w]", models.ErrBiometricRejected)
	}

	secret := make([]byte, len(wrapped))
	for idx, b := range wrapped {
		secret[idx] = b ^ k.pad[idx%len(k.pad)]
	}
	return secret, nil
}

// DestroyKey delete the hardware key, invalidating all wrapped blobs
func (k *SimulatedKeyring) DestroyKey() error {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.pad = nil
	return nil
}
