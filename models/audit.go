package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// VaultEventTypeENUMType vault event type ENUM value type
type VaultEventTypeENUMType string

const (
	// VaultEventTypeInitializing vault is being initialized
	VaultEventTypeInitializing VaultEventTypeENUMType = "VAULT_INITIALIZING"

	// VaultEventTypeInitialized vault is initialized
	VaultEventTypeInitialized VaultEventTypeENUMType = "VAULT_INITIALIZED"

	// VaultEventTypeUnlocked a session was opened
	VaultEventTypeUnlocked VaultEventTypeENUMType = "VAULT_UNLOCKED"

	// VaultEventTypeLocked the session was closed
	VaultEventTypeLocked VaultEventTypeENUMType = "VAULT_LOCKED"

	// VaultEventTypePassphraseChanged the passphrase slot was rewrapped
	VaultEventTypePassphraseChanged VaultEventTypeENUMType = "PASSPHRASE_CHANGED"

	// VaultEventTypeBiometricEnabled the biometric key slot was written
	VaultEventTypeBiometricEnabled VaultEventTypeENUMType = "BIOMETRIC_ENABLED"

	// VaultEventTypeBiometricDisabled the biometric key slot was removed
	VaultEventTypeBiometricDisabled VaultEventTypeENUMType = "BIOMETRIC_DISABLED"

	// VaultEventTypeAddNewRecord new record is being added
	VaultEventTypeAddNewRecord VaultEventTypeENUMType = "ADD_NEW_RECORD"

	// VaultEventTypeDeleteRecord record is deleted
	VaultEventTypeDeleteRecord VaultEventTypeENUMType = "DELETE_RECORD"

	// VaultEventTypeTamperDetected a ciphertext failed AEAD verification
	VaultEventTypeTamperDetected VaultEventTypeENUMType = "TAMPER_DETECTED"

	// VaultEventTypeDestroyed the vault was irrecoverably destroyed
	VaultEventTypeDestroyed VaultEventTypeENUMType = "VAULT_DESTROYED"
)

// VaultEventAudit recording of events occurring at the vault level
//
// Audit entries must never contain field or attachment plaintext; record
// related metadata is limited to IDs and titles.
type VaultEventAudit struct {
	// ID audit entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// EventType vault event type
	EventType VaultEventTypeENUMType `json:"type" gorm:"column:type;not null" validate:"required,vault_event_type"`
	// Metadata a metadata relating to the event
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseMetadata parse the metadata based on the event type
func (a VaultEventAudit) ParseMetadata(validator *validator.Validate) (interface{}, error) {
	switch a.EventType {
	// Record related vault audit events
	case VaultEventTypeAddNewRecord:
		fallthrough
	case VaultEventTypeDeleteRecord:
		fallthrough
	case VaultEventTypeTamperDetected:
		var parsed VaultEventRecordRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("vault event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	// Key slot related vault audit events
	case VaultEventTypePassphraseChanged:
		fallthrough
	case VaultEventTypeBiometricEnabled:
		fallthrough
	case VaultEventTypeBiometricDisabled:
		var parsed VaultEventKeySlotRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("vault event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)
	}
	return nil, nil
}

// VaultEventRecordRelated vault event metadata related to a record
type VaultEventRecordRelated struct {
	// RecordID the record ID
	RecordID string `json:"record_id" validate:"required,uuid_rfc4122"`
	// RecordTitle the record title
	RecordTitle string `json:"record_title" validate:"required"`
}

// VaultEventKeySlotRelated vault event metadata related to a key slot
type VaultEventKeySlotRelated struct {
	// SlotKind the key slot kind
	SlotKind KeySlotKindENUMType `json:"slot_kind" validate:"required,key_slot_kind"`
}
