package db

import (
	"context"

	"github.com/alwitt/quickvault/models"
	"gorm.io/gorm"
)

// --------------------------------------------------------------------------------------
// Vault audit events

// VaultEventAuditDBEntry vault event DB entry
type VaultEventAuditDBEntry struct {
	models.VaultEventAudit
}

// TableName hard code table name
func (VaultEventAuditDBEntry) TableName() string {
	return "vault_audit_events"
}

// --------------------------------------------------------------------------------------
// Vault parameters

// VaultParamsDBEntry vault parameter singleton DB entry
type VaultParamsDBEntry struct {
	models.VaultParams
}

// TableName hard code table name
func (VaultParamsDBEntry) TableName() string {
	return "vault_params"
}

// --------------------------------------------------------------------------------------
// Key slots

// KeySlotDBEntry wrapped KEK DB entry
type KeySlotDBEntry struct {
	models.KeySlot
}

// TableName hard code table name
func (KeySlotDBEntry) TableName() string {
	return "vault_keys"
}

// --------------------------------------------------------------------------------------
// Records

// RecordDBEntry vault record DB entry
type RecordDBEntry struct {
	models.Record
}

// TableName hard code table name
func (RecordDBEntry) TableName() string {
	return "records"
}

// FieldDBEntry record field DB entry
type FieldDBEntry struct {
	models.Field
	Record RecordDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:RecordID" validate:"-"`
}

// TableName hard code table name
func (FieldDBEntry) TableName() string {
	return "fields"
}

// AttachmentDBEntry record attachment DB entry
type AttachmentDBEntry struct {
	models.Attachment
	Record RecordDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:RecordID" validate:"-"`
}

// TableName hard code table name
func (AttachmentDBEntry) TableName() string {
	return "attachments"
}

// DefineTables helper function meant to be used for unit-testing to prepare a
// database with tables
func DefineTables(_ context.Context, db *gorm.DB) error {
	return db.AutoMigrate(
		VaultEventAuditDBEntry{},
		VaultParamsDBEntry{},
		KeySlotDBEntry{},
		RecordDBEntry{},
		FieldDBEntry{},
		AttachmentDBEntry{},
	)
}
