package models

import "gorm.io/datatypes"

// RecordTypeENUMType record type ENUM value type
type RecordTypeENUMType string

const (
	// RecordTypeCredential a username / password style entry
	RecordTypeCredential RecordTypeENUMType = "credential"
	// RecordTypeCard a payment card entry
	RecordTypeCard RecordTypeENUMType = "card"
	// RecordTypeNote a secure free-form note
	RecordTypeNote RecordTypeENUMType = "note"
	// RecordTypeIdentity an identity document entry
	RecordTypeIdentity RecordTypeENUMType = "identity"
)

// Record a user-facing vault item
//
// Title, type, group, and tags are stored in plaintext so metadata queries can
// run without unlocking the vault. The sensitive payload lives in the child
// Field and Attachment rows, which are always encrypted.
type Record struct {
	// ID record ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// Title record title. Searchable plaintext.
	Title string `json:"title" gorm:"column:title;not null;index" validate:"required,max=256"`

	// Type record type tag
	Type RecordTypeENUMType `json:"type" gorm:"column:type;not null" validate:"required,record_type"`

	// Group plaintext category label
	Group string `json:"group" gorm:"column:group;index"`

	// TagsJSON ordered tag list encoded as one JSON text blob
	TagsJSON datatypes.JSON `json:"tags_json,omitempty" gorm:"column:tags_json;default:null"`

	// Pinned whether the record is pinned to the top of listings
	Pinned bool `json:"pinned" gorm:"column:pinned;not null;index"`

	// CreatedAt entry creation timestamp, epoch milliseconds. Set by the
	// service layer, never by the ORM.
	CreatedAt int64 `json:"created_at" gorm:"column:created_at;not null;autoCreateTime:false"`
	// UpdatedAt entry update timestamp, epoch milliseconds. Set by the
	// service layer, never by the ORM.
	UpdatedAt int64 `json:"updated_at" gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// Field one typed attribute of a record
//
// The value is an AEAD envelope bound to (record ID, field ID, label); it can
// only be opened with the record's derived data key.
type Field struct {
	// ID field ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// RecordID the parent record
	RecordID string `json:"record_id" gorm:"column:record_id;not null;index;uniqueIndex:idx_fields_record_order,priority:1" validate:"required,uuid_rfc4122"`

	// Label plaintext field label
	Label string `json:"label" gorm:"column:label;not null" validate:"required"`

	// Ciphertext the AEAD envelope holding the encrypted field value
	Ciphertext []byte `json:"ciphertext" gorm:"column:ciphertext;not null" validate:"required"`

	// Required whether the field must be filled in
	Required bool `json:"required" gorm:"column:required;not null"`

	// Order display position within the record. Unique per record.
	Order int `json:"order" gorm:"column:order;not null;uniqueIndex:idx_fields_record_order,priority:2" validate:"gte=0"`
}

// Attachment a binary payload belonging to a record
type Attachment struct {
	// ID attachment ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// RecordID the parent record
	RecordID string `json:"record_id" gorm:"column:record_id;not null;index" validate:"required,uuid_rfc4122"`

	// FileName plaintext file name
	FileName string `json:"file_name" gorm:"column:file_name;not null" validate:"required"`

	// MimeType plaintext MIME type
	MimeType string `json:"mime" gorm:"column:mime;not null" validate:"required"`

	// Size byte count of the plaintext body
	Size int64 `json:"size" gorm:"column:size;not null" validate:"gte=0"`

	// Ciphertext the AEAD envelope holding the encrypted body
	Ciphertext []byte `json:"ciphertext" gorm:"column:ciphertext;not null" validate:"required"`

	// Thumbnail optional AEAD envelope holding an encrypted preview image
	Thumbnail []byte `json:"thumbnail,omitempty" gorm:"column:thumbnail;default:null"`

	// CreatedAt entry creation timestamp, epoch milliseconds. Set by the
	// service layer, never by the ORM.
	CreatedAt int64 `json:"created_at" gorm:"column:created_at;not null;autoCreateTime:false"`
}
