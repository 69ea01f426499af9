package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/encryption"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
)

// checkInput validate plaintext input before any crypto or store work
func (r *recordServiceImpl) checkInput(input RecordInput) error {
	if err := r.validator.Struct(&input); err != nil {
		return &models.ValidationError{Reason: err.Error()}
	}
	if len(input.Tags) > r.config.MaxTags {
		return &models.ValidationError{
			Reason: fmt.Sprintf("record carries %d tags, limit is %d", len(input.Tags), r.config.MaxTags),
		}
	}
	for _, attachment := range input.Attachments {
		if int64(len(attachment.Body)) > r.config.MaxAttachmentBytes {
			return &models.ValidationError{
				Reason: fmt.Sprintf(
					"attachment '%s' is %d bytes, limit is %d",
					attachment.FileName, len(attachment.Body), r.config.MaxAttachmentBytes,
				),
			}
		}
	}
	return nil
}

// storeFault classify a store failure, passing known taxonomy errors through
func storeFault(err error) error {
	var notFound *models.NotFoundError
	if errors.As(err, &notFound) {
		return notFound
	}
	if errors.Is(err, models.ErrTampered) || errors.Is(err, models.ErrLocked) {
		return err
	}
	return &models.StorageError{Cause: err}
}

// encodeTags serialize the tag list for the tags_json column
func encodeTags(tags []string) (datatypes.JSON, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize tags [%w]", err)
	}
	return datatypes.JSON(encoded), nil
}

// decodeTags recover the tag list from the tags_json column
func decodeTags(encoded datatypes.JSON) []string {
	if len(encoded) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(encoded, &tags); err != nil {
		return nil
	}
	return tags
}

// encryptChildren seal all child payloads under the record's data key
//
// Runs before the write transaction so the store only sees ciphertext. Field
// display order follows input slice position, so orders are unique.
func (r *recordServiceImpl) encryptChildren(
	recordID string, input RecordInput, nowMS int64,
) ([]models.Field, []models.Attachment, error) {
	fields := []models.Field{}
	for idx, fieldInput := range input.Fields {
		fieldID := ulid.Make().String()
		sealed, err := r.crypto.EncryptField(recordID, fieldID, fieldInput.Label, fieldInput.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to seal field '%s' [%w]", fieldInput.Label, err)
		}
		fields = append(fields, models.Field{
			ID:         fieldID,
			RecordID:   recordID,
			Label:      fieldInput.Label,
			Ciphertext: sealed,
			Required:   fieldInput.Required,
			Order:      idx,
		})
	}

	attachments := []models.Attachment{}
	for _, attachmentInput := range input.Attachments {
		attachmentID := ulid.Make().String()
		sealed, err := r.crypto.EncryptAttachment(
			recordID, attachmentID, attachmentInput.MimeType, attachmentInput.Body,
		)
		if err != nil {
			return nil, nil, fmt.Errorf(
				"failed to seal attachment '%s' [%w]", attachmentInput.FileName, err,
			)
		}

		var sealedThumb []byte
		if attachmentInput.Thumbnail != nil {
			sealedThumb, err = r.crypto.EncryptThumbnail(
				recordID, attachmentID, attachmentInput.MimeType, attachmentInput.Thumbnail,
			)
			if err != nil {
				return nil, nil, fmt.Errorf(
					"failed to seal thumbnail of '%s' [%w]", attachmentInput.FileName, err,
				)
			}
		}

		attachments = append(attachments, models.Attachment{
			ID:         attachmentID,
			RecordID:   recordID,
			FileName:   attachmentInput.FileName,
			MimeType:   attachmentInput.MimeType,
			Size:       int64(len(attachmentInput.Body)),
			Ciphertext: sealed,
			Thumbnail:  sealedThumb,
			CreatedAt:  nowMS,
		})
	}

	return fields, attachments, nil
}

/*
CreateRecord create a record with its fields and attachments

	@param ctx context.Context - execution context
	@param input RecordInput - plaintext record content
	@return the stored record, decrypted
*/
func (r *recordServiceImpl) CreateRecord(
	ctx context.Context, input RecordInput,
) (RecordView, error) {
	if err := r.gateUnlocked(ctx); err != nil {
		return RecordView{}, err
	}
	if err := r.checkInput(input); err != nil {
		return RecordView{}, err
	}

	recordID := uuid.NewString()
	nowMS := time.Now().UnixMilli()

	tagsJSON, err := encodeTags(input.Tags)
	if err != nil {
		return RecordView{}, err
	}

	fields, attachments, err := r.encryptChildren(recordID, input, nowMS)
	if err != nil {
		return RecordView{}, err
	}

	record := models.Record{
		ID:        recordID,
		Title:     input.Title,
		Type:      input.Type,
		Group:     input.Group,
		TagsJSON:  tagsJSON,
		Pinned:    input.Pinned,
		CreatedAt: nowMS,
		UpdatedAt: nowMS,
	}

	if dbErr := r.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.CreateRecordWithChildren(dbCtx, record, fields, attachments)
		},
	); dbErr != nil {
		return RecordView{}, storeFault(dbErr)
	}

	return r.assembleView(record, fields, attachments)
}

/*
UpdateRecord replace a record's content wholesale

	@param ctx context.Context - execution context
	@param recordID string - record ID
	@param input RecordInput - plaintext replacement content
	@return the stored record, decrypted
*/
func (r *recordServiceImpl) UpdateRecord(
	ctx context.Context, recordID string, input RecordInput,
) (RecordView, error) {
	if err := r.gateUnlocked(ctx); err != nil {
		return RecordView{}, err
	}
	if err := r.checkInput(input); err != nil {
		return RecordView{}, err
	}

	nowMS := time.Now().UnixMilli()

	tagsJSON, err := encodeTags(input.Tags)
	if err != nil {
		return RecordView{}, err
	}

	fields, attachments, err := r.encryptChildren(recordID, input, nowMS)
	if err != nil {
		return RecordView{}, err
	}

	record := models.Record{
		ID:        recordID,
		Title:     input.Title,
		Type:      input.Type,
		Group:     input.Group,
		TagsJSON:  tagsJSON,
		Pinned:    input.Pinned,
		UpdatedAt: nowMS,
	}

	if dbErr := r.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.ReplaceRecordWithChildren(dbCtx, record, fields, attachments)
		},
	); dbErr != nil {
		return RecordView{}, storeFault(dbErr)
	}

	return r.assembleView(record, fields, attachments)
}

// assembleView decrypt stored rows back into a view
//
// Plaintext produced before a failure never outlives this call; the scratch
// buffers are wiped on every error path.
func (r *recordServiceImpl) assembleView(
	record models.Record, fields []models.Field, attachments []models.Attachment,
) (RecordView, error) {
	view := RecordView{
		Record:      record,
		Tags:        decodeTags(record.TagsJSON),
		Fields:      []FieldView{},
		Attachments: []AttachmentView{},
	}

	scratch := []*encryption.SecureBuffer{}
	fail := func(err error) (RecordView, error) {
		for _, held := range scratch {
			held.Wipe()
		}
		return RecordView{}, err
	}

	for _, field := range fields {
		value, err := r.crypto.DecryptField(record.ID, field.ID, field.Label, field.Ciphertext)
		if err != nil {
			return fail(fmt.Errorf(
				"field %s of record %s unreadable [%w]", field.ID, record.ID, err,
			))
		}
		held := encryption.NewSecureBuffer(value)
		scratch = append(scratch, held)
		view.Fields = append(view.Fields, FieldView{
			ID:       field.ID,
			Label:    field.Label,
			Value:    held.Bytes(),
			Required: field.Required,
			Order:    field.Order,
		})
	}

	for _, attachment := range attachments {
		body, err := r.crypto.DecryptAttachment(
			record.ID, attachment.ID, attachment.MimeType, attachment.Ciphertext,
		)
		if err != nil {
			return fail(fmt.Errorf(
				"attachment %s of record %s unreadable [%w]", attachment.ID, record.ID, err,
			))
		}
		heldBody := encryption.NewSecureBuffer(body)
		scratch = append(scratch, heldBody)

		var heldThumb *encryption.SecureBuffer
		if attachment.Thumbnail != nil {
			thumb, err := r.crypto.DecryptThumbnail(
				record.ID, attachment.ID, attachment.MimeType, attachment.Thumbnail,
			)
			if err != nil {
				return fail(fmt.Errorf(
					"thumbnail of attachment %s unreadable [%w]", attachment.ID, err,
				))
			}
			heldThumb = encryption.NewSecureBuffer(thumb)
			scratch = append(scratch, heldThumb)
		}

		view.Attachments = append(view.Attachments, AttachmentView{
			ID:        attachment.ID,
			FileName:  attachment.FileName,
			MimeType:  attachment.MimeType,
			Size:      attachment.Size,
			Body:      heldBody.Bytes(),
			Thumbnail: heldThumb.Bytes(),
			CreatedAt: attachment.CreatedAt,
		})
	}

	return view, nil
}

// assembleViews bulk fetch the children of a record listing and decrypt each
// record into a view
//
// Children come back through the partitioned IN queries, one round trip per
// chunk instead of one per record.
func (r *recordServiceImpl) assembleViews(
	ctx context.Context, dbClient db.Database, records []models.Record,
) ([]RecordView, error) {
	recordIDs := make([]string, 0, len(records))
	for _, record := range records {
		recordIDs = append(recordIDs, record.ID)
	}

	fieldsByRecord, err := dbClient.ListFieldsForRecords(ctx, recordIDs)
	if err != nil {
		return nil, err
	}
	attachmentsByRecord, err := dbClient.ListAttachmentsForRecords(ctx, recordIDs)
	if err != nil {
		return nil, err
	}

	views := []RecordView{}
	for _, record := range records {
		view, err := r.assembleView(
			record, fieldsByRecord[record.ID], attachmentsByRecord[record.ID],
		)
		if err != nil {
			wipeViews(views)
			return nil, err
		}
		views = append(views, view)
	}

	return views, nil
}

/*
GetRecord fetch and decrypt one record

	@param ctx context.Context - execution context
	@param recordID string - record ID
	@return the record, decrypted
*/
func (r *recordServiceImpl) GetRecord(
	ctx context.Context, recordID string,
) (RecordView, error) {
	if err := r.gateUnlocked(ctx); err != nil {
		return RecordView{}, err
	}

	var record models.Record
	var fields []models.Field
	var attachments []models.Attachment
	if dbErr := r.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			if record, err = dbClient.GetRecord(dbCtx, recordID); err != nil {
				return err
			}
			if fields, err = dbClient.ListFieldsForRecord(dbCtx, recordID); err != nil {
				return err
			}
			attachments, err = dbClient.ListAttachmentsForRecord(dbCtx, recordID)
			return err
		},
	); dbErr != nil {
		return RecordView{}, storeFault(dbErr)
	}

	view, err := r.assembleView(record, fields, attachments)
	if err != nil {
		if errors.Is(err, models.ErrTampered) {
			r.reportTampering(ctx, record)
		}
		return RecordView{}, err
	}

	return view, nil
}

// reportTampering record a tamper audit event, best effort
func (r *recordServiceImpl) reportTampering(ctx context.Context, record models.Record) {
	logTags := r.GetLogTagsForContext(ctx)
	log.WithFields(logTags).WithField("record", record.ID).Error("Stored ciphertext failed authentication")

	if err := r.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordVaultEvent(
				dbCtx,
				models.VaultEventTypeTamperDetected,
				models.VaultEventRecordRelated{RecordID: record.ID, RecordTitle: record.Title},
			)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to record tamper audit event")
	}
}

/*
DeleteRecord delete a record and all its children

	@param ctx context.Context - execution context
	@param recordID string - record ID
*/
func (r *recordServiceImpl) DeleteRecord(ctx context.Context, recordID string) error {
	if err := r.gateUnlocked(ctx); err != nil {
		return err
	}

	if dbErr := r.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.DeleteRecord(dbCtx, recordID)
		},
	); dbErr != nil {
		return storeFault(dbErr)
	}

	return nil
}

/*
TogglePin set the pinned flag, touching nothing else but the update timestamp

	@param ctx context.Context - execution context
	@param recordID string - record ID
	@param pinned bool - new pinned state
*/
func (r *recordServiceImpl) TogglePin(ctx context.Context, recordID string, pinned bool) error {
	if err := r.gateUnlocked(ctx); err != nil {
		return err
	}

	if dbErr := r.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.UpdateRecordPin(dbCtx, recordID, pinned, time.Now().UnixMilli())
		},
	); dbErr != nil {
		return storeFault(dbErr)
	}

	return nil
}

// runSearch execute a metadata search against the store
func (r *recordServiceImpl) runSearch(
	ctx context.Context, dbClient db.Database, query SearchQuery,
) ([]models.Record, error) {
	filter := db.RecordQueryFilter{
		TitleSubstring: query.TitleSubstring,
		TargetGroup:    query.Group,
	}
	// A tag condition filters after the fetch, so pagination must wait too
	if query.Tag == nil {
		filter.Limit = query.Limit
		filter.Offset = query.Offset
	}

	records, err := dbClient.ListRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	if query.Tag == nil {
		return records, nil
	}

	matched := []models.Record{}
	for _, record := range records {
		for _, tag := range decodeTags(record.TagsJSON) {
			if tag == *query.Tag {
				matched = append(matched, record)
				break
			}
		}
	}

	if query.Offset != nil {
		if *query.Offset >= len(matched) {
			return []models.Record{}, nil
		}
		matched = matched[*query.Offset:]
	}
	if query.Limit != nil && *query.Limit < len(matched) {
		matched = matched[:*query.Limit]
	}
	return matched, nil
}

// searchViews run a metadata search, then decrypt the matches into views
func (r *recordServiceImpl) searchViews(
	ctx context.Context, dbClient db.Database, query SearchQuery,
) ([]RecordView, error) {
	records, err := r.runSearch(ctx, dbClient, query)
	if err != nil {
		return nil, err
	}
	return r.assembleViews(ctx, dbClient, records)
}

/*
Search list decrypted records matching a metadata query

	@param ctx context.Context - execution context
	@param query SearchQuery - search conditions
	@return matching records, decrypted, ordered `pinned DESC, updated_at DESC`
*/
func (r *recordServiceImpl) Search(
	ctx context.Context, query SearchQuery,
) ([]RecordView, error) {
	if err := r.gateUnlocked(ctx); err != nil {
		return nil, err
	}

	var views []RecordView
	if dbErr := r.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			views, err = r.searchViews(dbCtx, dbClient, query)
			return err
		},
	); dbErr != nil {
		return nil, storeFault(dbErr)
	}

	return views, nil
}

/*
ClearAll delete every record, reclaiming storage space

	@param ctx context.Context - execution context
*/
func (r *recordServiceImpl) ClearAll(ctx context.Context) error {
	if err := r.gateUnlocked(ctx); err != nil {
		return err
	}

	if err := r.persistence.TruncateAndReclaim(ctx); err != nil {
		return storeFault(err)
	}

	return nil
}
