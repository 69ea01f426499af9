package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

/*
GetSqliteDialector define Sqlite GORM dialector

	@param dbFile string - Sqlite DB file
	@return GORM sqlite dialector
*/
func GetSqliteDialector(dbFile string) gorm.Dialector {
	return sqlite.Open(fmt.Sprintf("%s?_foreign_keys=on", dbFile))
}

// DefaultPlaceholderLimit maximum SQL placeholders per statement. Bulk child
// fetches partition their IN clauses to stay under this.
const DefaultPlaceholderLimit = 999

// Client manages connections and transactions with a DB
type Client interface {
	/*
		RunSQLInTransaction execute SQL calls within a transaction

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, tx *gorm.DB) error - the callback to execute
	*/
	RunSQLInTransaction(
		ctx context.Context, coreLogic func(ctx context.Context, tx *gorm.DB) error,
	) error

	/*
		UseDatabase utilize a `Database` instance outside a transaction

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
	*/
	UseDatabase(
		ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
	) error

	/*
		UseDatabaseInTransaction utilize a `Database` instance in a transaction

		Write transactions are serialized. Change notices for the touched tables
		are published after the transaction commits, in commit order.

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
	*/
	UseDatabaseInTransaction(
		ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
	) error

	/*
		SubscribeToChanges register for post-commit table change notices

			@return notice channel, and an idempotent cancel function
	*/
	SubscribeToChanges() (<-chan ChangeNotice, func())

	/*
		Mount verify the persisted schema identity before use

		On the first mount the computed identity is recorded in the vault
		parameter entry; later mounts fail with `models.ErrSchemaMismatch` when
		the computed identity differs from the recorded one.

			@param ctx context.Context - execution context
	*/
	Mount(ctx context.Context) error

	/*
		TruncateAndReclaim atomically clear all record tables and reclaim space

		Foreign key enforcement is deferred for the duration of the truncating
		transaction.

			@param ctx context.Context - execution context
	*/
	TruncateAndReclaim(ctx context.Context) error

	/*
		Close release the change notification subscribers
	*/
	Close() error
}

// clientImpl implements Client
type clientImpl struct {
	goutils.Component
	db               *gorm.DB
	writeLock        sync.Mutex
	notifications    *changeBus
	placeholderLimit int
}

/*
NewConnection define a new SQL client

	@param dbDialector gorm.Dialector - GORM dialector
	@param dbLogLevel logger.LogLevel - SQL log level
	@return new client
*/
func NewConnection(dbDialector gorm.Dialector, dbLogLevel logger.LogLevel) (Client, error) {
	return NewConnectionWithPlaceholderLimit(dbDialector, dbLogLevel, DefaultPlaceholderLimit)
}

/*
NewConnectionWithPlaceholderLimit define a new SQL client with a custom SQL
placeholder limit

	@param dbDialector gorm.Dialector - GORM dialector
	@param dbLogLevel logger.LogLevel - SQL log level
	@param placeholderLimit int - maximum SQL placeholders per statement
	@return new client
*/
func NewConnectionWithPlaceholderLimit(
	dbDialector gorm.Dialector, dbLogLevel logger.LogLevel, placeholderLimit int,
) (Client, error) {
	logTags := log.Fields{"package": "quickvault", "module": "db", "component": "sql-client"}

	db, err := gorm.Open(dbDialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(dbLogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect with DB [%w]", err)
	}

	instance := &clientImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:               db,
		notifications:    newChangeBus(),
		placeholderLimit: placeholderLimit,
	}

	return instance, nil
}

/*
RunSQLInTransaction execute SQL calls within a transaction

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, tx *gorm.DB) error - the callback to execute
*/
func (c *clientImpl) RunSQLInTransaction(
	ctx context.Context, coreLogic func(ctx context.Context, tx *gorm.DB) error,
) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		return coreLogic(ctx, tx)
	})
}

/*
UseDatabase utilize a `Database` instance outside a transaction

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func (c *clientImpl) UseDatabase(
	ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	dbClient, err := newDatabase(ctx, c.db, c.placeholderLimit)
	if err != nil {
		return fmt.Errorf("failed to define `Database` instance: [%w]", err)
	}
	return coreLogic(ctx, dbClient)
}

/*
UseDatabaseInTransaction utilize a `Database` instance in a transaction

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func (c *clientImpl) UseDatabaseInTransaction(
	ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	// Single logical writer. The lock also orders the post-commit notices.
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	var touched []string
	err := c.db.Transaction(func(tx *gorm.DB) error {
		dbClient, err := newDatabase(ctx, tx, c.placeholderLimit)
		if err != nil {
			return fmt.Errorf("failed to define `Database` instance: [%w]", err)
		}
		if err := coreLogic(ctx, dbClient); err != nil {
			return err
		}
		touched = dbClient.touchedTables()
		return nil
	})
	if err != nil {
		return err
	}

	c.notifications.publish(touched)
	return nil
}

/*
SubscribeToChanges register for post-commit table change notices

	@return notice channel, and an idempotent cancel function
*/
func (c *clientImpl) SubscribeToChanges() (<-chan ChangeNotice, func()) {
	return c.notifications.subscribe()
}

/*
TruncateAndReclaim atomically clear all record tables and reclaim space

	@param ctx context.Context - execution context
*/
func (c *clientImpl) TruncateAndReclaim(ctx context.Context) error {
	if err := c.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient Database) error {
			return dbClient.ClearAllData(dbCtx)
		},
	); err != nil {
		return fmt.Errorf("failed to truncate record tables [%w]", err)
	}

	// VACUUM cannot run inside a transaction
	if tmp := c.db.Exec("VACUUM"); tmp.Error != nil {
		return fmt.Errorf("failed to reclaim space after truncation [%w]", tmp.Error)
	}

	return nil
}

/*
Close release the change notification subscribers
*/
func (c *clientImpl) Close() error {
	c.notifications.close()
	return nil
}
