package db_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
	"gorm.io/gorm/logger"
)

// TestDBKeySlots verifies the wrapped KEK slot table operations.
func TestDBKeySlots(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/quickvault_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(uut.RunSQLInTransaction(utCtx, db.DefineTables))

	// -------------------------------------------------------------------------
	// 1 – No slot yet
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.GetKeySlot(ctx, models.KeySlotKindPassphrase)
		return err
	})
	assert.Error(err)
	var notFound *models.NotFoundError
	assert.True(errors.As(err, &notFound))

	// 2 – Write a passphrase slot
	slot := models.KeySlot{
		Kind:       models.KeySlotKindPassphrase,
		Salt:       []byte("0123456789abcdef"),
		KDFParams:  datatypes.JSON(`{"algorithm":"PBKDF2-SHA256","iterations":200000,"key_len":32}`),
		WrappedKEK: []byte("wrapped-kek-bytes"),
	}
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.UpsertKeySlot(ctx, slot)
	})
	assert.Nil(err)

	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		readBack, err := dbClient.GetKeySlot(ctx, models.KeySlotKindPassphrase)
		if err != nil {
			return err
		}
		assert.Equal(slot.Salt, readBack.Salt)
		assert.Equal(slot.WrappedKEK, readBack.WrappedKEK)
		return nil
	})
	assert.Nil(err)

	// 3 – Upsert replaces the slot in place
	slot.WrappedKEK = []byte("rewrapped-kek-bytes")
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.UpsertKeySlot(ctx, slot)
	})
	assert.Nil(err)

	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		slots, err := dbClient.ListKeySlots(ctx)
		if err != nil {
			return err
		}
		assert.Len(slots, 1)
		assert.Equal([]byte("rewrapped-kek-bytes"), slots[0].WrappedKEK)
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 4 – Add a biometric slot, then delete everything
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.UpsertKeySlot(ctx, models.KeySlot{
			Kind:       models.KeySlotKindBiometric,
			WrappedKEK: []byte("hardware-wrapped"),
		})
	})
	assert.Nil(err)

	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		slots, err := dbClient.ListKeySlots(ctx)
		if err != nil {
			return err
		}
		assert.Len(slots, 2)
		return nil
	})
	assert.Nil(err)

	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.DeleteAllKeySlots(ctx)
	})
	assert.Nil(err)

	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		slots, err := dbClient.ListKeySlots(ctx)
		if err != nil {
			return err
		}
		assert.Empty(slots)
		return nil
	})
	assert.Nil(err)

	assert.Nil(uut.Close())
}
