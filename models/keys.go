// Package models - system data models
package models

import (
	"time"

	"gorm.io/datatypes"
)

// KeySlotKindENUMType key slot kind ENUM value type
type KeySlotKindENUMType string

const (
	// KeySlotKindPassphrase KEK wrapped under the passphrase-derived key
	KeySlotKindPassphrase KeySlotKindENUMType = "PASSPHRASE"
	// KeySlotKindBiometric KEK wrapped under the hardware-backed key
	KeySlotKindBiometric KeySlotKindENUMType = "BIOMETRIC"
)

// KDFAlgorithmENUMType passphrase KDF algorithm ENUM value type
type KDFAlgorithmENUMType string

const (
	// KDFAlgorithmPBKDF2 PBKDF2-HMAC-SHA256
	KDFAlgorithmPBKDF2 KDFAlgorithmENUMType = "PBKDF2-SHA256"
	// KDFAlgorithmArgon2id Argon2id
	KDFAlgorithmArgon2id KDFAlgorithmENUMType = "ARGON2ID"
)

// KDFParams passphrase KDF parameters recorded next to the wrapped key so an
// unlock honors the parameters the slot was written with
type KDFParams struct {
	// Algorithm the KDF algorithm
	Algorithm KDFAlgorithmENUMType `json:"algorithm" validate:"required,kdf_algorithm"`
	// Iterations PBKDF2 iteration count
	Iterations int `json:"iterations,omitempty"`
	// MemoryKiB Argon2id memory cost in KiB
	MemoryKiB uint32 `json:"memory_kib,omitempty"`
	// Time Argon2id time cost
	Time uint32 `json:"time,omitempty"`
	// Threads Argon2id parallelism
	Threads uint8 `json:"threads,omitempty"`
	// KeyLen derived key length in bytes
	KeyLen int `json:"key_len" validate:"required,gt=0"`
}

// KeySlot one wrapped copy of the vault key-encryption key
//
// The KEK itself is never stored in plaintext. A passphrase slot carries the
// KDF salt and parameters used to derive the wrapping key; a biometric slot is
// wrapped by the hardware keyring and carries neither.
type KeySlot struct {
	// Kind which wrapping mechanism guards this slot
	Kind KeySlotKindENUMType `json:"kind" gorm:"column:kind;primaryKey;unique" validate:"required,key_slot_kind"`

	// Salt KDF salt for passphrase slots
	Salt []byte `json:"salt,omitempty" gorm:"column:salt;default:null"`

	// KDFParams KDF parameters for passphrase slots
	KDFParams datatypes.JSON `json:"kdf_params,omitempty" gorm:"column:kdf_params;default:null"`

	// WrappedKEK the AEAD envelope holding the wrapped KEK
	WrappedKEK []byte `json:"wrapped_kek" gorm:"column:wrapped_kek;not null" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
