// Package quickvault - encrypted on-device vault of records
package quickvault

import (
	"context"
	"fmt"

	"github.com/alwitt/quickvault/auth"
	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/encryption"
	"github.com/alwitt/quickvault/keyvault"
	"github.com/alwitt/quickvault/models"
	"github.com/alwitt/quickvault/vault"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config vault-wide tuning parameters
type Config struct {
	// Session session manager parameters
	Session auth.SessionConfig `validate:"required"`
	// Records record service parameters
	Records vault.ServiceConfig `validate:"required"`
	// KDFAlgorithm KDF used when writing new passphrase slots
	KDFAlgorithm models.KDFAlgorithmENUMType `validate:"required,kdf_algorithm"`
}

// DefaultConfig vault-wide defaults
func DefaultConfig() Config {
	return Config{
		Session:      auth.DefaultSessionConfig(),
		Records:      vault.DefaultServiceConfig(),
		KDFAlgorithm: models.KDFAlgorithmPBKDF2,
	}
}

// Vault one open vault storage, bundling every operating surface
type Vault struct {
	// Persistence the persistence layer client
	Persistence db.Client
	// Keys the key vault
	Keys keyvault.KeyVault
	// Session the session manager
	Session auth.Session
	// Records the record service
	Records vault.RecordService
}

// Close release the vault's timers and subscribers
func (v *Vault) Close() error {
	if err := v.Session.Close(); err != nil {
		return err
	}
	return v.Persistence.Close()
}

/*
NewVault initialize a vault instance.

Each instance is backed by a SQL database; the schema identity of the backing
database is verified before any operation is allowed.

	@param ctx context.Context - execution context
	@param dbDialector gorm.Dialector - GORM dialector
	@param dbLogLevel logger.LogLevel - SQL log level
	@param keyring keyvault.HardwareKeyring - hardware keyring guarding the biometric slot
	@param config Config - vault tuning parameters
	@returns new vault instance
*/
func NewVault(
	ctx context.Context,
	dbDialector gorm.Dialector,
	dbLogLevel logger.LogLevel,
	keyring keyvault.HardwareKeyring,
	config Config,
) (*Vault, error) {
	// Check the config before wiring anything
	configCheck := validator.New()
	if err := models.RegisterWithValidator(configCheck); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}
	if err := configCheck.Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid vault config [%w]", err)
	}

	// Prepare persistence
	persistence, err := db.NewConnection(dbDialector, dbLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}

	// Refuse to operate on an unrecognized table layout
	if err := persistence.Mount(ctx); err != nil {
		return nil, fmt.Errorf("failed to mount vault storage [%w]", err)
	}

	// Prepare cryptography engine
	cryptoEngine := encryption.NewEngine()

	// Prepare key vault
	keys, err := keyvault.NewKeyVault(ctx, keyvault.KeyVaultParams{
		Persistence:  persistence,
		Keyring:      keyring,
		KDFAlgorithm: config.KDFAlgorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized key vault [%w]", err)
	}

	// Prepare session manager
	session, err := auth.NewSessionManager(ctx, auth.SessionParams{
		Persistence: persistence,
		Keys:        keys,
		Crypto:      cryptoEngine,
		Config:      config.Session,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized session manager [%w]", err)
	}

	// Prepare record service
	records, err := vault.NewRecordService(ctx, vault.RecordServiceParams{
		Persistence: persistence,
		Crypto:      cryptoEngine,
		Session:     session,
		Config:      config.Records,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized record service [%w]", err)
	}

	return &Vault{
		Persistence: persistence,
		Keys:        keys,
		Session:     session,
		Records:     records,
	}, nil
}
