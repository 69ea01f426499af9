package quickvault_test

import (
	"context"
	"fmt"
	"testing"

	quickvault "github.com/alwitt/quickvault"
	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/keyvault"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// TestVaultConfigValidation verifies `NewVault` refuses a broken config
// before touching storage.
func TestVaultConfigValidation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/quickvault_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")
	keyring := keyvault.NewSimulatedKeyring([]byte("test-keyring-pad"))

	// 1 – Zero config is rejected
	_, err := quickvault.NewVault(
		utCtx, db.GetSqliteDialector(testDB), logger.Error, keyring, quickvault.Config{},
	)
	assert.Error(err)

	// 2 – Unknown KDF algorithm is rejected
	badKDF := quickvault.DefaultConfig()
	badKDF.KDFAlgorithm = "rot13"
	_, err = quickvault.NewVault(
		utCtx, db.GetSqliteDialector(testDB), logger.Error, keyring, badKDF,
	)
	assert.Error(err)

	// -------------------------------------------------------------------------
	// 3 – The defaults pass
	uut, err := quickvault.NewVault(
		utCtx, db.GetSqliteDialector(testDB), logger.Error, keyring, quickvault.DefaultConfig(),
	)
	assert.Nil(err)
	assert.Nil(uut.Close())
}
