// Package keyvault - custody of the vault key hierarchy
package keyvault

import (
	"context"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

/*
KeyVault management of the wrapped key-encryption key slots.

The KEK exists in plaintext only in the return values of the unlock calls; it
is never persisted unwrapped. Each slot holds the same KEK wrapped by a
different guard, so every unlock path yields the identical key.
*/
type KeyVault interface {
	/*
		Initialize create the vault key hierarchy

		Generates a fresh KEK, wraps it under the passphrase-derived key, and
		moves the vault parameter entry to the ready state. Fails if a vault
		already exists.

			@param ctx context.Context - execution context
			@param passphrase string - the vault passphrase
			@return the unwrapped KEK, for immediate session use
	*/
	Initialize(ctx context.Context, passphrase string) ([]byte, error)

	/*
		UnlockWithPassphrase recover the KEK using the vault passphrase

		Returns an error wrapping `models.ErrWrongPassphrase` when the
		passphrase fails to unwrap the slot.

			@param ctx context.Context - execution context
			@param passphrase string - the vault passphrase
			@return the unwrapped KEK
	*/
	UnlockWithPassphrase(ctx context.Context, passphrase string) ([]byte, error)

	/*
		UnlockWithBiometric recover the KEK through the hardware keyring

			@param ctx context.Context - execution context
			@return the unwrapped KEK
	*/
	UnlockWithBiometric(ctx context.Context) ([]byte, error)

	/*
		EnableBiometric write a biometric key slot wrapping the given KEK

			@param ctx context.Context - execution context
			@param kek []byte - the unwrapped KEK
	*/
	EnableBiometric(ctx context.Context, kek []byte) error

	/*
		DisableBiometric remove the biometric key slot and its hardware key

			@param ctx context.Context - execution context
	*/
	DisableBiometric(ctx context.Context) error

	/*
		ChangePassphrase rewrap the KEK under a new passphrase

		Only the passphrase slot is rewritten; the KEK itself does not change,
		so stored ciphertexts are untouched and the biometric slot stays valid.

			@param ctx context.Context - execution context
			@param kek []byte - the unwrapped KEK
			@param newPassphrase string - the replacement passphrase
	*/
	ChangePassphrase(ctx context.Context, kek []byte, newPassphrase string) error

	/*
		Destroy irrecoverably delete the key hierarchy and all vault data

			@param ctx context.Context - execution context
	*/
	Destroy(ctx context.Context) error
}

// keyVaultImpl implements KeyVault
type keyVaultImpl struct {
	goutils.Component

	persistence db.Client
	keyring     HardwareKeyring
	kdfChoice   models.KDFAlgorithmENUMType
	validator   *validator.Validate
}

// KeyVaultParams key vault init parameters
type KeyVaultParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"-"`
	// Keyring hardware keyring guarding the biometric slot
	Keyring HardwareKeyring `validate:"-"`
	// KDFAlgorithm KDF used when writing new passphrase slots
	KDFAlgorithm models.KDFAlgorithmENUMType `validate:"required,kdf_algorithm"`
}

/*
NewKeyVault define new key vault

	@param ctx context.Context - execution context
	@param params KeyVaultParams - key vault parameters
	@returns key vault instance
*/
func NewKeyVault(_ context.Context, params KeyVaultParams) (KeyVault, error) {
	logTags := log.Fields{"package": "quickvault", "module": "keyvault", "component": "key-vault"}

	instance := &keyVaultImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		keyring:     params.Keyring,
		kdfChoice:   params.KDFAlgorithm,
		validator:   validator.New(),
	}
	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	if err := instance.validator.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid key vault init parameters [%w]", err)
	}
	if params.Persistence == nil {
		return nil, fmt.Errorf("key vault requires a persistence client")
	}
	if params.Keyring == nil {
		return nil, fmt.Errorf("key vault requires a hardware keyring")
	}

	return instance, nil
}
