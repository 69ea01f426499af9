package keyvault

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/encryption"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
	"gorm.io/datatypes"
)

// slotAAD additional authenticated data binding a wrapped KEK to its slot kind
func slotAAD(kind models.KeySlotKindENUMType) []byte {
	return []byte("slot|" + string(kind))
}

// newPassphraseSlot wrap the KEK under a freshly salted passphrase key
func (k *keyVaultImpl) newPassphraseSlot(
	passphrase string, kek []byte,
) (models.KeySlot, error) {
	salt := make([]byte, KDFSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return models.KeySlot{}, fmt.Errorf("failed to generate KDF salt [%w]", err)
	}

	params := DefaultKDFParams(k.kdfChoice)
	wrapKey, err := DeriveWrappingKey(passphrase, salt, params)
	if err != nil {
		return models.KeySlot{}, fmt.Errorf("failed to derive wrapping key [%w]", err)
	}
	defer encryption.WipeKey(wrapKey)

	wrapped, err := encryption.SealWithKey(
		wrapKey, kek, slotAAD(models.KeySlotKindPassphrase),
	)
	if err != nil {
		return models.KeySlot{}, fmt.Errorf("failed to wrap KEK [%w]", err)
	}

	paramsStr, err := json.Marshal(&params)
	if err != nil {
		return models.KeySlot{}, fmt.Errorf("failed to serialize KDF parameters [%w]", err)
	}

	return models.KeySlot{
		Kind:       models.KeySlotKindPassphrase,
		Salt:       salt,
		KDFParams:  datatypes.JSON(paramsStr),
		WrappedKEK: wrapped,
	}, nil
}

/*
Initialize create the vault key hierarchy

	@param ctx context.Context - execution context
	@param passphrase string - the vault passphrase
	@return the unwrapped KEK, for immediate session use
*/
func (k *keyVaultImpl) Initialize(ctx context.Context, passphrase string) ([]byte, error) {
	logTags := k.GetLogTagsForContext(ctx)

	kek := make([]byte, encryption.DataKeyLen)
	if _, err := rand.Read(kek); err != nil {
		return nil, fmt.Errorf("failed to generate KEK [%w]", err)
	}

	if dbErr := k.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			params, err := dbClient.GetVaultParamEntry(dbCtx)
			if err != nil {
				return err
			}
			if params.State != models.VaultStatePreInit {
				return fmt.Errorf(
					"vault storage already holds a vault [%w]", models.ErrVaultExists,
				)
			}

			if err := dbClient.MarkVaultInitializing(dbCtx); err != nil {
				return err
			}

			slot, err := k.newPassphraseSlot(passphrase, kek)
			if err != nil {
				return err
			}
			if err := dbClient.UpsertKeySlot(dbCtx, slot); err != nil {
				return err
			}

			return dbClient.MarkVaultInitialized(dbCtx)
		},
	); dbErr != nil {
		encryption.WipeKey(kek)
		return nil, fmt.Errorf("vault initialization failed [%w]", dbErr)
	}

	log.WithFields(logTags).Info("Vault initialized")
	return kek, nil
}

/*
UnlockWithPassphrase recover the KEK using the vault passphrase

	@param ctx context.Context - execution context
	@param passphrase string - the vault passphrase
	@return the unwrapped KEK
*/
func (k *keyVaultImpl) UnlockWithPassphrase(
	ctx context.Context, passphrase string,
) ([]byte, error) {
	var slot models.KeySlot
	if dbErr := k.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			slot, err = dbClient.GetKeySlot(dbCtx, models.KeySlotKindPassphrase)
			return err
		},
	); dbErr != nil {
		var notFound *models.NotFoundError
		if errors.As(dbErr, &notFound) {
			return nil, fmt.Errorf("no passphrase slot present [%w]", models.ErrNoVault)
		}
		return nil, fmt.Errorf("failed to fetch passphrase slot [%w]", dbErr)
	}

	var params models.KDFParams
	if err := json.Unmarshal(slot.KDFParams, &params); err != nil {
		return nil, fmt.Errorf("passphrase slot KDF parameters unreadable [%w]", err)
	}
	if err := k.validator.Struct(&params); err != nil {
		return nil, fmt.Errorf("passphrase slot KDF parameters invalid [%w]", err)
	}

	wrapKey, err := DeriveWrappingKey(passphrase, slot.Salt, params)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wrapping key [%w]", err)
	}
	defer encryption.WipeKey(wrapKey)

	kek, err := encryption.OpenWithKey(
		wrapKey, slot.WrappedKEK, slotAAD(models.KeySlotKindPassphrase),
	)
	if err != nil {
		// A failed unwrap is indistinguishable from a wrong passphrase
		return nil, fmt.Errorf("KEK unwrap failed [%w]", models.ErrWrongPassphrase)
	}

	return kek, nil
}

/*
UnlockWithBiometric recover the KEK through the hardware keyring

	@param ctx context.Context - execution context
	@return the unwrapped KEK
*/
func (k *keyVaultImpl) UnlockWithBiometric(ctx context.Context) ([]byte, error) {
	if !k.keyring.Available() {
		return nil, fmt.Errorf("hardware keyring offline [%w]", models.ErrBiometricUnavailable)
	}

	var slot models.KeySlot
	if dbErr := k.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			slot, err = dbClient.GetKeySlot(dbCtx, models.KeySlotKindBiometric)
			return err
		},
	); dbErr != nil {
		var notFound *models.NotFoundError
		if errors.As(dbErr, &notFound) {
			return nil, fmt.Errorf(
				"biometric unlock not enrolled [%w]", models.ErrBiometricUnavailable,
			)
		}
		return nil, fmt.Errorf("failed to fetch biometric slot [%w]", dbErr)
	}

	kek, err := k.keyring.Unwrap(slot.WrappedKEK)
	if err != nil {
		return nil, fmt.Errorf("hardware keyring refused unwrap [%w]", err)
	}
	if len(kek) != encryption.DataKeyLen {
		encryption.WipeKey(kek)
		return nil, fmt.Errorf("hardware keyring returned malformed KEK")
	}

	return kek, nil
}

/*
EnableBiometric write a biometric key slot wrapping the given KEK

	@param ctx context.Context - execution context
	@param kek []byte - the unwrapped KEK
*/
func (k *keyVaultImpl) EnableBiometric(ctx context.Context, kek []byte) error {
	if !k.keyring.Available() {
		return fmt.Errorf("hardware keyring offline [%w]", models.ErrBiometricUnavailable)
	}

	wrapped, err := k.keyring.Wrap(kek)
	if err != nil {
		return fmt.Errorf("hardware keyring refused wrap [%w]", err)
	}

	return k.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			if err := dbClient.UpsertKeySlot(dbCtx, models.KeySlot{
				Kind:       models.KeySlotKindBiometric,
				WrappedKEK: wrapped,
			}); err != nil {
				return fmt.Errorf("failed to write biometric slot [%w]", err)
			}

			_, err := dbClient.RecordVaultEvent(
				dbCtx,
				models.VaultEventTypeBiometricEnabled,
				models.VaultEventKeySlotRelated{SlotKind: models.KeySlotKindBiometric},
			)
			return err
		},
	)
}

/*
DisableBiometric remove the biometric key slot and its hardware key

	@param ctx context.Context - execution context
*/
func (k *keyVaultImpl) DisableBiometric(ctx context.Context) error {
	if dbErr := k.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			if err := dbClient.DeleteKeySlot(dbCtx, models.KeySlotKindBiometric); err != nil {
				var notFound *models.NotFoundError
				if errors.As(err, &notFound) {
					// Nothing enrolled. NOOP.
					return nil
				}
				return fmt.Errorf("failed to delete biometric slot [%w]", err)
			}

			_, err := dbClient.RecordVaultEvent(
				dbCtx,
				models.VaultEventTypeBiometricDisabled,
				models.VaultEventKeySlotRelated{SlotKind: models.KeySlotKindBiometric},
			)
			return err
		},
	); dbErr != nil {
		return dbErr
	}

	if err := k.keyring.DestroyKey(); err != nil {
		return fmt.Errorf("failed to destroy hardware key [%w]", err)
	}

	return nil
}

/*
ChangePassphrase rewrap the KEK under a new passphrase

	@param ctx context.Context - execution context
	@param kek []byte - the unwrapped KEK
	@param newPassphrase string - the replacement passphrase
*/
func (k *keyVaultImpl) ChangePassphrase(
	ctx context.Context, kek []byte, newPassphrase string,
) error {
	slot, err := k.newPassphraseSlot(newPassphrase, kek)
	if err != nil {
		return fmt.Errorf("failed to build replacement passphrase slot [%w]", err)
	}

	return k.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			if err := dbClient.UpsertKeySlot(dbCtx, slot); err != nil {
				return fmt.Errorf("failed to replace passphrase slot [%w]", err)
			}

			_, err := dbClient.RecordVaultEvent(
				dbCtx,
				models.VaultEventTypePassphraseChanged,
				models.VaultEventKeySlotRelated{SlotKind: models.KeySlotKindPassphrase},
			)
			return err
		},
	)
}

/*
Destroy irrecoverably delete the key hierarchy and all vault data

	@param ctx context.Context - execution context
*/
func (k *keyVaultImpl) Destroy(ctx context.Context) error {
	logTags := k.GetLogTagsForContext(ctx)

	if dbErr := k.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			if err := dbClient.DeleteAllKeySlots(dbCtx); err != nil {
				return err
			}
			return dbClient.MarkVaultDestroyed(dbCtx)
		},
	); dbErr != nil {
		return fmt.Errorf("failed to tear down key hierarchy [%w]", dbErr)
	}

	// Without the key slots the ciphertexts are already unrecoverable; clearing
	// the data tables reclaims the space.
	if err := k.persistence.TruncateAndReclaim(ctx); err != nil {
		return fmt.Errorf("failed to clear vault data [%w]", err)
	}

	if err := k.keyring.DestroyKey(); err != nil {
		return fmt.Errorf("failed to destroy hardware key [%w]", err)
	}

	log.WithFields(logTags).Warn("Vault destroyed")
	return nil
}
