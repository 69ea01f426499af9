package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
)

// GlobalVaultParamEntryID ID of the singleton vault parameter entry
const GlobalVaultParamEntryID = "vault-parameters"

// getVaultParamEntry fetch the vault param entry
//
// If the entry does not exist, initialize a new one.
func (d *databaseImpl) getVaultParamEntry() (VaultParamsDBEntry, error) {
	var entries []VaultParamsDBEntry
	dbErr := d.db.Where("id = ?", GlobalVaultParamEntryID).Find(&entries).Error
	if dbErr != nil {
		return VaultParamsDBEntry{}, fmt.Errorf("failed to read vault params table [%w]", dbErr)
	}
	if len(entries) == 0 {
		// Make a new one
		newEntry := VaultParamsDBEntry{
			VaultParams: models.VaultParams{
				ID:      GlobalVaultParamEntryID,
				State:   models.VaultStatePreInit,
				Version: models.CurrentVaultVersion,
			},
		}
		if dbErr = d.db.Create(&newEntry).Error; dbErr != nil {
			return VaultParamsDBEntry{}, fmt.Errorf(
				"failed to setup singleton vault params table [%w]", dbErr,
			)
		}
		return newEntry, nil
	}
	return entries[0], nil
}

/*
GetVaultParamEntry fetch the global singleton vault parameter entry

	@param ctx context.Context - execution context
	@returns the entry
*/
func (d *databaseImpl) GetVaultParamEntry(_ context.Context) (models.VaultParams, error) {
	entry, err := d.getVaultParamEntry()
	if err != nil {
		return entry.VaultParams, fmt.Errorf("unable to fetch vault parameter entry [%w]", err)
	}
	return entry.VaultParams, nil
}

// updateVaultParamState update the vault parameter entry with new state
func (d *databaseImpl) updateVaultParamState(newState models.VaultStateENUMType) error {
	entry, err := d.getVaultParamEntry()
	if err != nil {
		return fmt.Errorf("unable to fetch vault parameter entry [%w]", err)
	}

	if entry.State == newState {
		// NOOP
		return nil
	}

	if err := entry.ValidateNextState(newState); err != nil {
		return fmt.Errorf("vault state change to %s not allowed [%w]", newState, err)
	}

	oldState := entry.State
	entry.State = newState
	if tmp := d.db.Updates(&entry); tmp.Error != nil {
		return fmt.Errorf("vault state change update failed [%w]", tmp.Error)
	}
	d.markTouched(VaultParamsDBEntry{}.TableName())

	// record this event
	switch newState {
	case models.VaultStateInit:
		_, err = d.recordNewVaultEvent(models.VaultEventTypeInitializing, nil)
		if err != nil {
			return fmt.Errorf("failed to log vault state change audit event [%w]", err)
		}

	case models.VaultStateReady:
		if oldState == models.VaultStateInit {
			_, err = d.recordNewVaultEvent(models.VaultEventTypeInitialized, nil)
			if err != nil {
				return fmt.Errorf("failed to log vault state change audit event [%w]", err)
			}
		}

	case models.VaultStatePreInit:
		if oldState == models.VaultStateReady {
			_, err = d.recordNewVaultEvent(models.VaultEventTypeDestroyed, nil)
			if err != nil {
				return fmt.Errorf("failed to log vault state change audit event [%w]", err)
			}
		}
	}

	return nil
}

/*
MarkVaultInitializing mark vault is initializing

	@param ctx context.Context - execution context
*/
func (d *databaseImpl) MarkVaultInitializing(_ context.Context) error {
	return d.updateVaultParamState(models.VaultStateInit)
}

/*
MarkVaultInitialized mark vault fully initialized

	@param ctx context.Context - execution context
*/
func (d *databaseImpl) MarkVaultInitialized(_ context.Context) error {
	return d.updateVaultParamState(models.VaultStateReady)
}

/*
MarkVaultDestroyed return the vault parameter entry to the pre-init state

	@param ctx context.Context - execution context
*/
func (d *databaseImpl) MarkVaultDestroyed(_ context.Context) error {
	return d.updateVaultParamState(models.VaultStatePreInit)
}

// ======================================================================================
// Schema identity

// schemaIdentityTables the tables covered by the schema identity hash
var schemaIdentityTables = []string{"records", "fields", "attachments"}

/*
Mount verify the persisted schema identity before use

	@param ctx context.Context - execution context
*/
func (c *clientImpl) Mount(ctx context.Context) error {
	logTags := c.GetLogTagsForContext(ctx)

	// Settle the table layout before hashing it
	if err := DefineTables(ctx, c.db); err != nil {
		return fmt.Errorf("failed to prepare tables [%w]", err)
	}

	// Hash the CREATE statements of the data tables as recorded by SQLite
	var stmts []string
	tmp := c.db.
		Raw(
			"SELECT sql FROM sqlite_master WHERE type = 'table' AND name IN ? ORDER BY name",
			schemaIdentityTables,
		).
		Scan(&stmts)
	if tmp.Error != nil {
		return fmt.Errorf("failed to read table definitions [%w]", tmp.Error)
	}

	hasher := sha256.New()
	hasher.Write([]byte(strings.Join(stmts, "\n")))
	computed := hex.EncodeToString(hasher.Sum(nil))

	return c.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient Database) error {
			params, err := dbClient.GetVaultParamEntry(dbCtx)
			if err != nil {
				return err
			}

			if params.SchemaHash == "" {
				// First mount. Record the identity.
				return dbClient.recordSchemaIdentity(computed)
			}

			if params.SchemaHash != computed {
				log.WithFields(logTags).
					WithField("recorded", params.SchemaHash).
					WithField("computed", computed).
					Error("Schema identity changed")
				return fmt.Errorf(
					"persisted tables no longer match the recorded layout [%w]",
					models.ErrSchemaMismatch,
				)
			}

			return nil
		},
	)
}

// recordSchemaIdentity persist the schema identity hash on first mount
func (d *databaseImpl) recordSchemaIdentity(identity string) error {
	entry, err := d.getVaultParamEntry()
	if err != nil {
		return fmt.Errorf("unable to fetch vault parameter entry [%w]", err)
	}

	entry.SchemaHash = identity
	if tmp := d.db.Updates(&entry); tmp.Error != nil {
		return fmt.Errorf("failed to record schema identity [%w]", tmp.Error)
	}
	d.markTouched(VaultParamsDBEntry{}.TableName())

	return nil
}
