package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// VaultEventQueryFilter audit event query filter conditions
type VaultEventQueryFilter struct {
	CommonListEntryQueryFilter
	// EventTypes the specific event types to query for
	EventTypes []models.VaultEventTypeENUMType
	// EventsAfter filter for events after this timestamp
	EventsAfter *time.Time
	// EventsBefore filter for events before this timestamp
	EventsBefore *time.Time
}

// RecordQueryFilter record query filter conditions
//
// Listings are always ordered `pinned DESC, updated_at DESC`.
type RecordQueryFilter struct {
	CommonListEntryQueryFilter
	// TitleSubstring case-insensitive substring match against the title
	TitleSubstring *string
	// TargetGroup equality match against the group label
	TargetGroup *string
}

// Database the database handle to interacting with the data base
type Database interface {
	// ------------------------------------------------------------------------------------
	// Vault audit events

	/*
		RecordVaultEvent record a new vault event

			@param ctx context.Context - execution context
			@param eventType models.VaultEventTypeENUMType - the event type
			@param metadata interface{} - optional event metadata
			@returns the event entry
	*/
	RecordVaultEvent(
		ctx context.Context, eventType models.VaultEventTypeENUMType, metadata interface{},
	) (models.VaultEventAudit, error)

	/*
		ListVaultEvents list captured vault events

			@param ctx context.Context - execution context
			@param filters VaultEventQueryFilter - entry listing filter
			@return list of vault events
	*/
	ListVaultEvents(
		ctx context.Context, filters VaultEventQueryFilter,
	) ([]models.VaultEventAudit, error)

	// ------------------------------------------------------------------------------------
	// Vault parameters

	/*
		GetVaultParamEntry fetch the global singleton vault parameter entry

			@param ctx context.Context - execution context
			@returns the entry
	*/
	GetVaultParamEntry(ctx context.Context) (models.VaultParams, error)

	/*
		MarkVaultInitializing mark vault is initializing

			@param ctx context.Context - execution context
	*/
	MarkVaultInitializing(ctx context.Context) error

	/*
		MarkVaultInitialized mark vault fully initialized

			@param ctx context.Context - execution context
	*/
	MarkVaultInitialized(ctx context.Context) error

	/*
		MarkVaultDestroyed return the vault parameter entry to the pre-init state

			@param ctx context.Context - execution context
	*/
	MarkVaultDestroyed(ctx context.Context) error

	// ------------------------------------------------------------------------------------
	// Key slots

	/*
		UpsertKeySlot write a wrapped KEK slot, replacing any slot of the same kind

			@param ctx context.Context - execution context
			@param slot models.KeySlot - the slot to write
	*/
	UpsertKeySlot(ctx context.Context, slot models.KeySlot) error

	/*
		GetKeySlot fetch one wrapped KEK slot

			@param ctx context.Context - execution context
			@param kind models.KeySlotKindENUMType - the slot kind
			@return slot entry
	*/
	GetKeySlot(ctx context.Context, kind models.KeySlotKindENUMType) (models.KeySlot, error)

	/*
		ListKeySlots list all wrapped KEK slots

			@param ctx context.Context - execution context
			@return list of slots
	*/
	ListKeySlots(ctx context.Context) ([]models.KeySlot, error)

	/*
		DeleteKeySlot delete one wrapped KEK slot

			@param ctx context.Context - execution context
			@param kind models.KeySlotKindENUMType - the slot kind
	*/
	DeleteKeySlot(ctx context.Context, kind models.KeySlotKindENUMType) error

	/*
		DeleteAllKeySlots delete every wrapped KEK slot

			@param ctx context.Context - execution context
	*/
	DeleteAllKeySlots(ctx context.Context) error

	// ------------------------------------------------------------------------------------
	// Records

	/*
		CreateRecordWithChildren insert a record together with its fields and
		attachments as one unit

			@param ctx context.Context - execution context
			@param record models.Record - the record row
			@param fields []models.Field - the field rows
			@param attachments []models.Attachment - the attachment rows
	*/
	CreateRecordWithChildren(
		ctx context.Context,
		record models.Record,
		fields []models.Field,
		attachments []models.Attachment,
	) error

	/*
		ReplaceRecordWithChildren update a record row and replace its children
		wholesale

			@param ctx context.Context - execution context
			@param record models.Record - the record row
			@param fields []models.Field - the replacement field rows
			@param attachments []models.Attachment - the replacement attachment rows
	*/
	ReplaceRecordWithChildren(
		ctx context.Context,
		record models.Record,
		fields []models.Field,
		attachments []models.Attachment,
	) error

	/*
		GetRecord fetch a record by ID

			@param ctx context.Context - execution context
			@param recordID string - record ID
			@returns record entry
	*/
	GetRecord(ctx context.Context, recordID string) (models.Record, error)

	/*
		ListRecords list records

			@param ctx context.Context - execution context
			@param filters RecordQueryFilter - entry listing filter
			@return list of records ordered `pinned DESC, updated_at DESC`
	*/
	ListRecords(ctx context.Context, filters RecordQueryFilter) ([]models.Record, error)

	/*
		UpdateRecordPin update only the pinned flag and the update timestamp

			@param ctx context.Context - execution context
			@param recordID string - record ID
			@param pinned bool - new pinned state
			@param updatedAt int64 - new update timestamp, epoch milliseconds
	*/
	UpdateRecordPin(ctx context.Context, recordID string, pinned bool, updatedAt int64) error

	/*
		DeleteRecord delete a record; fields and attachments cascade

			@param ctx context.Context - execution context
			@param recordID string - record ID
	*/
	DeleteRecord(ctx context.Context, recordID string) error

	/*
		ListFieldsForRecord list fields of one record ordered by display position

			@param ctx context.Context - execution context
			@param recordID string - record ID
			@return list of fields ordered `order ASC`
	*/
	ListFieldsForRecord(ctx context.Context, recordID string) ([]models.Field, error)

	/*
		ListAttachmentsForRecord list attachments of one record

			@param ctx context.Context - execution context
			@param recordID string - record ID
			@return list of attachments ordered `created_at DESC`
	*/
	ListAttachmentsForRecord(ctx context.Context, recordID string) ([]models.Attachment, error)

	/*
		ListFieldsForRecords bulk fetch fields of multiple records

		The IN query is partitioned to stay under the placeholder limit.

			@param ctx context.Context - execution context
			@param recordIDs []string - record IDs
			@return fields grouped by record ID, each group ordered `order ASC`
	*/
	ListFieldsForRecords(ctx context.Context, recordIDs []string) (map[string][]models.Field, error)

	/*
		ListAttachmentsForRecords bulk fetch attachments of multiple records

		The IN query is partitioned to stay under the placeholder limit.

			@param ctx context.Context - execution context
			@param recordIDs []string - record IDs
			@return attachments grouped by record ID, each group ordered `created_at DESC`
	*/
	ListAttachmentsForRecords(
		ctx context.Context, recordIDs []string,
	) (map[string][]models.Attachment, error)

	/*
		ClearAllData truncate the record, field, and attachment tables

		Foreign key enforcement is deferred for the remainder of the enclosing
		transaction.

			@param ctx context.Context - execution context
	*/
	ClearAllData(ctx context.Context) error

	// touchedTables tables written by this handle, for change notices
	touchedTables() []string

	// recordSchemaIdentity persist the schema identity hash on first mount
	recordSchemaIdentity(identity string) error
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db               *gorm.DB
	validator        *validator.Validate
	placeholderLimit int
	touched          map[string]bool
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB, placeholderLimit int) (*databaseImpl, error) {
	logTags := log.Fields{"package": "quickvault", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:               sqlClient,
		validator:        validator.New(),
		placeholderLimit: placeholderLimit,
		touched:          make(map[string]bool),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

// markTouched note a table write for the post-commit change notice
func (d *databaseImpl) markTouched(table string) {
	d.touched[table] = true
}

func (d *databaseImpl) touchedTables() []string {
	result := make([]string, 0, len(d.touched))
	for table := range d.touched {
		result = append(result, table)
	}
	return result
}
