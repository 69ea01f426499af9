package keyvault_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/keyvault"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// buildTestKeyVault prepare a key vault against a fresh temp database
func buildTestKeyVault(
	t *testing.T, keyring keyvault.HardwareKeyring,
) (keyvault.KeyVault, db.Client) {
	assert := assert.New(t)
	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/quickvault_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(persistence.Mount(utCtx))

	uut, err := keyvault.NewKeyVault(utCtx, keyvault.KeyVaultParams{
		Persistence:  persistence,
		Keyring:      keyring,
		KDFAlgorithm: models.KDFAlgorithmPBKDF2,
	})
	assert.Nil(err)

	return uut, persistence
}

// TestKeyVaultPassphraseLifecycle verifies initialize, passphrase unlock, and
// passphrase change.
func TestKeyVaultPassphraseLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	keyring := keyvault.NewSimulatedKeyring([]byte("test-keyring-pad"))
	uut, persistence := buildTestKeyVault(t, keyring)
	defer func() { assert.Nil(persistence.Close()) }()

	// 1 – Unlock before any vault exists
	_, err := uut.UnlockWithPassphrase(utCtx, "correct horse battery staple")
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrNoVault))

	// 2 – Initialize
	kek, err := uut.Initialize(utCtx, "correct horse battery staple")
	assert.Nil(err)
	assert.Len(kek, 32)

	// 3 – A second initialize is refused
	_, err = uut.Initialize(utCtx, "another passphrase")
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrVaultExists))

	// 4 – Unlock recovers the identical KEK
	recovered, err := uut.UnlockWithPassphrase(utCtx, "correct horse battery staple")
	assert.Nil(err)
	assert.Equal(kek, recovered)

	// 5 – The wrong passphrase is reported as such
	_, err = uut.UnlockWithPassphrase(utCtx, "incorrect horse")
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrWrongPassphrase))

	// -------------------------------------------------------------------------
	// 6 – Passphrase change rewraps the same KEK
	assert.Nil(uut.ChangePassphrase(utCtx, kek, "new passphrase"))

	_, err = uut.UnlockWithPassphrase(utCtx, "correct horse battery staple")
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrWrongPassphrase))

	recovered, err = uut.UnlockWithPassphrase(utCtx, "new passphrase")
	assert.Nil(err)
	assert.Equal(kek, recovered)
}

// TestKeyVaultBiometric verifies biometric enrollment, unlock, and the
// keyring failure modes.
func TestKeyVaultBiometric(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	keyring := keyvault.NewSimulatedKeyring([]byte("test-keyring-pad"))
	uut, persistence := buildTestKeyVault(t, keyring)
	defer func() { assert.Nil(persistence.Close()) }()

	kek, err := uut.Initialize(utCtx, "the passphrase")
	assert.Nil(err)

	// 1 – Not enrolled yet
	_, err = uut.UnlockWithBiometric(utCtx)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrBiometricUnavailable))

	// 2 – Enroll, then unlock recovers the identical KEK
	assert.Nil(uut.EnableBiometric(utCtx, kek))
	recovered, err := uut.UnlockWithBiometric(utCtx)
	assert.Nil(err)
	assert.Equal(kek, recovered)

	// 3 – A refused presence check surfaces as a rejection
	keyring.SimulateRejection = true
	_, err = uut.UnlockWithBiometric(utCtx)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrBiometricRejected))
	keyring.SimulateRejection = false

	// 4 – Hardware going away surfaces as unavailable
	keyring.SimulateUnavailable = true
	_, err = uut.UnlockWithBiometric(utCtx)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrBiometricUnavailable))
	keyring.SimulateUnavailable = false

	// -------------------------------------------------------------------------
	// 5 – Disabling removes the slot and destroys the hardware key
	assert.Nil(uut.DisableBiometric(utCtx))
	_, err = uut.UnlockWithBiometric(utCtx)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrBiometricUnavailable))

	// 6 – Passphrase unlock is unaffected
	recovered, err = uut.UnlockWithPassphrase(utCtx, "the passphrase")
	assert.Nil(err)
	assert.Equal(kek, recovered)
}

// TestKeyVaultDestroy verifies that destroying the vault removes the key
// hierarchy and returns storage to the pre-init state.
func TestKeyVaultDestroy(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	keyring := keyvault.NewSimulatedKeyring([]byte("test-keyring-pad"))
	uut, persistence := buildTestKeyVault(t, keyring)
	defer func() { assert.Nil(persistence.Close()) }()

	kek, err := uut.Initialize(utCtx, "the passphrase")
	assert.Nil(err)
	assert.Nil(uut.EnableBiometric(utCtx, kek))

	assert.Nil(uut.Destroy(utCtx))

	// 1 – Every unlock path is gone
	_, err = uut.UnlockWithPassphrase(utCtx, "the passphrase")
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrNoVault))
	_, err = uut.UnlockWithBiometric(utCtx)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrBiometricUnavailable))

	// 2 – Storage is back at pre-init, so a new vault can be created
	err = persistence.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		params, err := dbClient.GetVaultParamEntry(ctx)
		if err != nil {
			return err
		}
		assert.Equal(models.VaultStatePreInit, params.State)
		return nil
	})
	assert.Nil(err)

	_, err = uut.Initialize(utCtx, "a new passphrase")
	assert.Nil(err)
}
