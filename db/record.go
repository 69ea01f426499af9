package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alwitt/quickvault/models"
	"gorm.io/gorm"
)

// ======================================================================================
// Records

/*
CreateRecordWithChildren insert a record together with its fields and
attachments as one unit

	@param ctx context.Context - execution context
	@param record models.Record - the record row
	@param fields []models.Field - the field rows
	@param attachments []models.Attachment - the attachment rows
*/
func (d *databaseImpl) CreateRecordWithChildren(
	_ context.Context,
	record models.Record,
	fields []models.Field,
	attachments []models.Attachment,
) error {
	newEntry := RecordDBEntry{Record: record}
	if err := d.validator.Struct(&newEntry); err != nil {
		return fmt.Errorf("new record '%s' is not valid [%w]", record.Title, err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return fmt.Errorf("new record '%s' failed insert [%w]", record.Title, tmp.Error)
	}
	d.markTouched(RecordDBEntry{}.TableName())

	if err := d.insertChildren(record.ID, fields, attachments); err != nil {
		return err
	}

	// Record this event
	if _, err := d.recordNewVaultEvent(
		models.VaultEventTypeAddNewRecord,
		models.VaultEventRecordRelated{RecordID: record.ID, RecordTitle: record.Title},
	); err != nil {
		return fmt.Errorf(
			"failed to log add new record '%s' audit event [%w]", record.Title, err,
		)
	}

	return nil
}

// insertChildren validate and insert field and attachment rows for a record
func (d *databaseImpl) insertChildren(
	recordID string, fields []models.Field, attachments []models.Attachment,
) error {
	for _, field := range fields {
		newEntry := FieldDBEntry{Field: field}
		if err := d.validator.Struct(&newEntry); err != nil {
			return fmt.Errorf("new field for record %s is invalid [%w]", recordID, err)
		}
		if tmp := d.db.Create(&newEntry); tmp.Error != nil {
			return fmt.Errorf("new field for record %s failed insert [%w]", recordID, tmp.Error)
		}
	}
	if len(fields) > 0 {
		d.markTouched(FieldDBEntry{}.TableName())
	}

	for _, attachment := range attachments {
		newEntry := AttachmentDBEntry{Attachment: attachment}
		if err := d.validator.Struct(&newEntry); err != nil {
			return fmt.Errorf("new attachment for record %s is invalid [%w]", recordID, err)
		}
		if tmp := d.db.Create(&newEntry); tmp.Error != nil {
			return fmt.Errorf("new attachment for record %s failed insert [%w]", recordID, tmp.Error)
		}
	}
	if len(attachments) > 0 {
		d.markTouched(AttachmentDBEntry{}.TableName())
	}

	return nil
}

/*
ReplaceRecordWithChildren update a record row and replace its children wholesale

	@param ctx context.Context - execution context
	@param record models.Record - the record row
	@param fields []models.Field - the replacement field rows
	@param attachments []models.Attachment - the replacement attachment rows
*/
func (d *databaseImpl) ReplaceRecordWithChildren(
	_ context.Context,
	record models.Record,
	fields []models.Field,
	attachments []models.Attachment,
) error {
	existing, err := d.getRecordEntry(record.ID)
	if err != nil {
		return err
	}

	updated := RecordDBEntry{Record: record}
	updated.CreatedAt = existing.CreatedAt
	if err := d.validator.Struct(&updated); err != nil {
		return fmt.Errorf("updated record %s is not valid [%w]", record.ID, err)
	}

	if tmp := d.db.Select("*").Updates(&updated); tmp.Error != nil {
		return fmt.Errorf("record %s failed update [%w]", record.ID, tmp.Error)
	}
	d.markTouched(RecordDBEntry{}.TableName())

	// Drop current children before reinserting the replacements
	if tmp := d.db.Where("record_id = ?", record.ID).Delete(&FieldDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to drop fields of record %s [%w]", record.ID, tmp.Error)
	}
	d.markTouched(FieldDBEntry{}.TableName())
	if tmp := d.db.Where("record_id = ?", record.ID).Delete(&AttachmentDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to drop attachments of record %s [%w]", record.ID, tmp.Error)
	}
	d.markTouched(AttachmentDBEntry{}.TableName())

	return d.insertChildren(record.ID, fields, attachments)
}

// getRecordEntry find a record by ID
func (d *databaseImpl) getRecordEntry(recordID string) (RecordDBEntry, error) {
	var entry RecordDBEntry
	err := d.db.Where("id = ?", recordID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entry, &models.NotFoundError{Kind: "record", ID: recordID}
	}
	return entry, err
}

/*
GetRecord fetch a record by ID

	@param ctx context.Context - execution context
	@param recordID string - record ID
	@returns record entry
*/
func (d *databaseImpl) GetRecord(
	_ context.Context, recordID string,
) (models.Record, error) {
	entry, err := d.getRecordEntry(recordID)
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to fetch record %s [%w]", recordID, err)
	}

	return entry.Record, nil
}

/*
ListRecords list records

	@param ctx context.Context - execution context
	@param filters RecordQueryFilter - entry listing filter
	@return list of records ordered `pinned DESC, updated_at DESC`
*/
func (d *databaseImpl) ListRecords(
	_ context.Context, filters RecordQueryFilter,
) ([]models.Record, error) {
	query := d.db.Model(&RecordDBEntry{})

	if filters.TitleSubstring != nil {
		pattern := "%" + strings.ToLower(*filters.TitleSubstring) + "%"
		query = query.Where("LOWER(title) LIKE ?", pattern)
	}
	if filters.TargetGroup != nil {
		query = query.Where(`"group" = ?`, *filters.TargetGroup)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("pinned desc, updated_at desc")

	var entries []RecordDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list records [%w]", tmp.Error)
	}

	result := []models.Record{}
	for _, entry := range entries {
		result = append(result, entry.Record)
	}

	return result, nil
}

/*
UpdateRecordPin update only the pinned flag and the update timestamp

	@param ctx context.Context - execution context
	@param recordID string - record ID
	@param pinned bool - new pinned state
	@param updatedAt int64 - new update timestamp, epoch milliseconds
*/
func (d *databaseImpl) UpdateRecordPin(
	_ context.Context, recordID string, pinned bool, updatedAt int64,
) error {
	entry, err := d.getRecordEntry(recordID)
	if err != nil {
		return err
	}

	tmp := d.db.Model(&entry).Select("pinned", "updated_at").Updates(map[string]interface{}{
		"pinned":     pinned,
		"updated_at": updatedAt,
	})
	if tmp.Error != nil {
		return fmt.Errorf("failed to update pin of record %s [%w]", recordID, tmp.Error)
	}
	d.markTouched(RecordDBEntry{}.TableName())

	return nil
}

/*
DeleteRecord delete a record; fields and attachments cascade

	@param ctx context.Context - execution context
	@param recordID string - record ID
*/
func (d *databaseImpl) DeleteRecord(_ context.Context, recordID string) error {
	entry, err := d.getRecordEntry(recordID)
	if err != nil {
		return err
	}

	if tmp := d.db.Delete(&entry); tmp.Error != nil {
		return fmt.Errorf("failed to delete record %s [%w]", recordID, tmp.Error)
	}
	d.markTouched(RecordDBEntry{}.TableName())
	d.markTouched(FieldDBEntry{}.TableName())
	d.markTouched(AttachmentDBEntry{}.TableName())

	// Record this event
	if _, err := d.recordNewVaultEvent(
		models.VaultEventTypeDeleteRecord,
		models.VaultEventRecordRelated{RecordID: entry.ID, RecordTitle: entry.Title},
	); err != nil {
		return fmt.Errorf(
			"failed to log delete record '%s' audit event [%w]", entry.Title, err,
		)
	}

	return nil
}

// ======================================================================================
// Record children

/*
ListFieldsForRecord list fields of one record ordered by display position

	@param ctx context.Context - execution context
	@param recordID string - record ID
	@return list of fields ordered `order ASC`
*/
func (d *databaseImpl) ListFieldsForRecord(
	_ context.Context, recordID string,
) ([]models.Field, error) {
	var entries []FieldDBEntry
	tmp := d.db.Where("record_id = ?", recordID).Order(`"order" asc`).Find(&entries)
	if tmp.Error != nil {
		return nil, fmt.Errorf("failed to list fields of record %s [%w]", recordID, tmp.Error)
	}

	result := []models.Field{}
	for _, entry := range entries {
		result = append(result, entry.Field)
	}

	return result, nil
}

/*
ListAttachmentsForRecord list attachments of one record

	@param ctx context.Context - execution context
	@param recordID string - record ID
	@return list of attachments ordered `created_at DESC`
*/
func (d *databaseImpl) ListAttachmentsForRecord(
	_ context.Context, recordID string,
) ([]models.Attachment, error) {
	var entries []AttachmentDBEntry
	tmp := d.db.Where("record_id = ?", recordID).Order("created_at desc").Find(&entries)
	if tmp.Error != nil {
		return nil, fmt.Errorf("failed to list attachments of record %s [%w]", recordID, tmp.Error)
	}

	result := []models.Attachment{}
	for _, entry := range entries {
		result = append(result, entry.Attachment)
	}

	return result, nil
}

// partitionIDs split an ID list into chunks no larger than the placeholder limit
func (d *databaseImpl) partitionIDs(ids []string) [][]string {
	limit := d.placeholderLimit
	if limit <= 0 {
		limit = DefaultPlaceholderLimit
	}

	var chunks [][]string
	for len(ids) > limit {
		chunks = append(chunks, ids[:limit])
		ids = ids[limit:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

/*
ListFieldsForRecords bulk fetch fields of multiple records

	@param ctx context.Context - execution context
	@param recordIDs []string - record IDs
	@return fields grouped by record ID, each group ordered `order ASC`
*/
func (d *databaseImpl) ListFieldsForRecords(
	_ context.Context, recordIDs []string,
) (map[string][]models.Field, error) {
	result := map[string][]models.Field{}

	for _, chunk := range d.partitionIDs(recordIDs) {
		var entries []FieldDBEntry
		tmp := d.db.Where("record_id in ?", chunk).Order(`"order" asc`).Find(&entries)
		if tmp.Error != nil {
			return nil, fmt.Errorf("failed to bulk fetch fields [%w]", tmp.Error)
		}
		for _, entry := range entries {
			result[entry.RecordID] = append(result[entry.RecordID], entry.Field)
		}
	}

	return result, nil
}

/*
ListAttachmentsForRecords bulk fetch attachments of multiple records

	@param ctx context.Context - execution context
	@param recordIDs []string - record IDs
	@return attachments grouped by record ID, each group ordered `created_at DESC`
*/
func (d *databaseImpl) ListAttachmentsForRecords(
	_ context.Context, recordIDs []string,
) (map[string][]models.Attachment, error) {
	result := map[string][]models.Attachment{}

	for _, chunk := range d.partitionIDs(recordIDs) {
		var entries []AttachmentDBEntry
		tmp := d.db.Where("record_id in ?", chunk).Order("created_at desc").Find(&entries)
		if tmp.Error != nil {
			return nil, fmt.Errorf("failed to bulk fetch attachments [%w]", tmp.Error)
		}
		for _, entry := range entries {
			result[entry.RecordID] = append(result[entry.RecordID], entry.Attachment)
		}
	}

	return result, nil
}

/*
ClearAllData truncate the record, field, and attachment tables

	@param ctx context.Context - execution context
*/
func (d *databaseImpl) ClearAllData(_ context.Context) error {
	// Defer FK enforcement for the remainder of the enclosing transaction
	if tmp := d.db.Exec("PRAGMA defer_foreign_keys = ON"); tmp.Error != nil {
		return fmt.Errorf("failed to defer foreign key enforcement [%w]", tmp.Error)
	}

	for _, target := range []interface{}{
		&AttachmentDBEntry{}, &FieldDBEntry{}, &RecordDBEntry{},
	} {
		if tmp := d.db.Where("1 = 1").Delete(target); tmp.Error != nil {
			return fmt.Errorf("failed to truncate record tables [%w]", tmp.Error)
		}
	}

	d.markTouched(RecordDBEntry{}.TableName())
	d.markTouched(FieldDBEntry{}.TableName())
	d.markTouched(AttachmentDBEntry{}.TableName())

	return nil
}
