// Package vault - record service over the encrypted store
package vault

import (
	"context"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/alwitt/quickvault/auth"
	"github.com/alwitt/quickvault/db"
	"github.com/alwitt/quickvault/encryption"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// ServiceConfig record service tuning parameters
type ServiceConfig struct {
	// MaxAttachmentBytes upper bound on one attachment's plaintext size
	MaxAttachmentBytes int64 `validate:"required,gt=0"`
	// MaxTags upper bound on the number of tags per record
	MaxTags int `validate:"required,gt=0"`
}

// DefaultServiceConfig record service defaults
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxAttachmentBytes: 25 * 1024 * 1024,
		MaxTags:            32,
	}
}

// FieldInput plaintext field content for a create or update
type FieldInput struct {
	// Label plaintext field label
	Label string `validate:"required"`
	// Value the sensitive field value
	Value []byte `validate:"required"`
	// Required whether the field must be filled in
	Required bool
}

// AttachmentInput plaintext attachment content for a create or update
type AttachmentInput struct {
	// FileName plaintext file name
	FileName string `validate:"required"`
	// MimeType declared MIME type
	MimeType string `validate:"required"`
	// Body the attachment bytes
	Body []byte `validate:"required"`
	// Thumbnail optional preview image bytes
	Thumbnail []byte
}

// RecordInput full plaintext content for a create or update
//
// Field display order follows slice position.
type RecordInput struct {
	// Title record title
	Title string `validate:"required,max=256"`
	// Type record type tag
	Type models.RecordTypeENUMType `validate:"required,record_type"`
	// Group plaintext category label
	Group string
	// Tags plaintext tag list
	Tags []string
	// Pinned whether the record is pinned
	Pinned bool
	// Fields the field contents
	Fields []FieldInput `validate:"dive"`
	// Attachments the attachment contents
	Attachments []AttachmentInput `validate:"dive"`
}

// FieldView decrypted field content
type FieldView struct {
	// ID field ID
	ID string
	// Label plaintext field label
	Label string
	// Value the decrypted field value
	Value []byte
	// Required whether the field must be filled in
	Required bool
	// Order display position within the record
	Order int
}

// AttachmentView decrypted attachment content
type AttachmentView struct {
	// ID attachment ID
	ID string
	// FileName plaintext file name
	FileName string
	// MimeType declared MIME type
	MimeType string
	// Size byte count of the plaintext body
	Size int64
	// Body the decrypted attachment bytes
	Body []byte
	// Thumbnail the decrypted preview image bytes, if any
	Thumbnail []byte
	// CreatedAt entry creation timestamp, epoch milliseconds
	CreatedAt int64
}

// RecordView one fully decrypted record
type RecordView struct {
	models.Record
	// Tags decoded plaintext tag list
	Tags []string
	// Fields decrypted fields, ordered by display position
	Fields []FieldView
	// Attachments decrypted attachments, newest first
	Attachments []AttachmentView
}

// Wipe zero every decrypted payload held by the view
func (v *RecordView) Wipe() {
	for idx := range v.Fields {
		encryption.WipeKey(v.Fields[idx].Value)
		v.Fields[idx].Value = nil
	}
	for idx := range v.Attachments {
		encryption.WipeKey(v.Attachments[idx].Body)
		v.Attachments[idx].Body = nil
		encryption.WipeKey(v.Attachments[idx].Thumbnail)
		v.Attachments[idx].Thumbnail = nil
	}
}

// wipeViews zero the decrypted payloads of a whole listing
func wipeViews(views []RecordView) {
	for idx := range views {
		views[idx].Wipe()
	}
}

// SearchQuery metadata search conditions
//
// Search never touches encrypted payloads; it covers title, group, and tags
// only.
type SearchQuery struct {
	// TitleSubstring case-insensitive substring match against the title
	TitleSubstring *string
	// Group equality match against the group label
	Group *string
	// Tag records carrying this tag
	Tag *string
	// Limit page size
	Limit *int
	// Offset page offset
	Offset *int
}

// RecordSnapshot one emission of an observed record listing
type RecordSnapshot struct {
	// Seq commit sequence that produced this snapshot; 0 for the initial one
	Seq uint64
	// Records decrypted records, ordered `pinned DESC, updated_at DESC`
	Records []RecordView
}

/*
RecordService CRUD over encrypted records.

Every operation requires an unlocked session; encryption and decryption happen
outside write transactions so the store only ever sees ciphertext.
*/
type RecordService interface {
	/*
		CreateRecord create a record with its fields and attachments

			@param ctx context.Context - execution context
			@param input RecordInput - plaintext record content
			@return the stored record, decrypted
	*/
	CreateRecord(ctx context.Context, input RecordInput) (RecordView, error)

	/*
		UpdateRecord replace a record's content wholesale

			@param ctx context.Context - execution context
			@param recordID string - record ID
			@param input RecordInput - plaintext replacement content
			@return the stored record, decrypted
	*/
	UpdateRecord(ctx context.Context, recordID string, input RecordInput) (RecordView, error)

	/*
		GetRecord fetch and decrypt one record

		If any child payload fails authentication the whole fetch aborts with
		an error wrapping `models.ErrTampered`.

			@param ctx context.Context - execution context
			@param recordID string - record ID
			@return the record, decrypted
	*/
	GetRecord(ctx context.Context, recordID string) (RecordView, error)

	/*
		DeleteRecord delete a record and all its children

			@param ctx context.Context - execution context
			@param recordID string - record ID
	*/
	DeleteRecord(ctx context.Context, recordID string) error

	/*
		TogglePin set the pinned flag, touching nothing else but the update
		timestamp

			@param ctx context.Context - execution context
			@param recordID string - record ID
			@param pinned bool - new pinned state
	*/
	TogglePin(ctx context.Context, recordID string, pinned bool) error

	/*
		Search list decrypted records matching a metadata query

		The query covers plaintext metadata only; the matches come back with
		their fields and attachments decrypted.

			@param ctx context.Context - execution context
			@param query SearchQuery - search conditions
			@return matching records, decrypted, ordered `pinned DESC, updated_at DESC`
	*/
	Search(ctx context.Context, query SearchQuery) ([]RecordView, error)

	/*
		ClearAll delete every record, reclaiming storage space

			@param ctx context.Context - execution context
	*/
	ClearAll(ctx context.Context) error

	/*
		ObserveAll stream record listing snapshots as the store changes

		The stream opens with an immediate snapshot, then re-emits after every
		committed change to the record tables. Snapshots carry fully decrypted
		records. The stream closes when the session leaves UNLOCKED or the
		cancel function runs.

			@param ctx context.Context - execution context
			@return snapshot channel, and an idempotent cancel function
	*/
	ObserveAll(ctx context.Context) (<-chan RecordSnapshot, func(), error)

	/*
		ObserveSearch stream snapshots of a metadata search

			@param ctx context.Context - execution context
			@param query SearchQuery - search conditions
			@return snapshot channel, and an idempotent cancel function
	*/
	ObserveSearch(ctx context.Context, query SearchQuery) (<-chan RecordSnapshot, func(), error)
}

// recordServiceImpl implements RecordService
type recordServiceImpl struct {
	goutils.Component

	persistence db.Client
	crypto      encryption.Engine
	session     auth.Session
	config      ServiceConfig
	validator   *validator.Validate
}

// RecordServiceParams record service init parameters
type RecordServiceParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"-"`
	// Crypto the cryptography engine
	Crypto encryption.Engine `validate:"-"`
	// Session the session manager gating all operations
	Session auth.Session `validate:"-"`
	// Config service tuning parameters
	Config ServiceConfig `validate:"required"`
}

/*
NewRecordService define new record service

	@param ctx context.Context - execution context
	@param params RecordServiceParams - record service parameters
	@returns record service instance
*/
func NewRecordService(_ context.Context, params RecordServiceParams) (RecordService, error) {
	logTags := log.Fields{"package": "quickvault", "module": "vault", "component": "record-service"}

	instance := &recordServiceImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		crypto:      params.Crypto,
		session:     params.Session,
		config:      params.Config,
		validator:   validator.New(),
	}
	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}
	if err := instance.validator.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid record service init parameters [%w]", err)
	}
	if params.Persistence == nil || params.Crypto == nil || params.Session == nil {
		return nil, fmt.Errorf("record service requires persistence, crypto engine, and session")
	}

	return instance, nil
}

// gateUnlocked verify the session is open, and note the activity
func (r *recordServiceImpl) gateUnlocked(ctx context.Context) error {
	if r.session.CurrentState(ctx) != auth.SessionStateUnlocked {
		return fmt.Errorf("record operation refused [%w]", models.ErrLocked)
	}
	r.session.TouchActivity()
	return nil
}
