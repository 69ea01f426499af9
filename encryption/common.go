// Package encryption - data encryption processing engine
package encryption

import (
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// Envelope layout: version byte, 96-bit nonce, ciphertext, 128-bit AEAD tag
const (
	// EnvelopeVersion current ciphertext envelope version byte
	EnvelopeVersion byte = 0x01
	// EnvelopeNonceLen AES-GCM nonce length in bytes
	EnvelopeNonceLen = 12
	// EnvelopeTagLen AES-GCM tag length in bytes
	EnvelopeTagLen = 16
	// EnvelopeOverhead bytes added to a plaintext by the envelope
	EnvelopeOverhead = 1 + EnvelopeNonceLen + EnvelopeTagLen

	// DataKeyLen length of the KEK and all derived data keys
	DataKeyLen = 32
)

/*
Engine the vault's cryptography engine. It is solely responsible for all
cryptographic operations over record data.

The engine holds the unwrapped key-encryption key while the vault is unlocked,
and derives one data key per record from it on demand. Locking the vault wipes
the KEK and every derived key from memory; the rest of the system never
touches raw key material.
*/
type Engine interface {
	// ------------------------------------------------------------------------------------
	// Key custody

	/*
		InstallKEK accept custody of the unwrapped key-encryption key

		The engine copies the key; the caller should wipe its own copy after.

			@param kek []byte - the unwrapped KEK
	*/
	InstallKEK(kek []byte) error

	/*
		DiscardKeys wipe the KEK and all derived record keys from memory
	*/
	DiscardKeys()

	/*
		HoldingKeys whether the engine currently holds an installed KEK
	*/
	HoldingKeys() bool

	// ------------------------------------------------------------------------------------
	// Record payloads

	/*
		EncryptField encrypt one field value

			@param recordID string - owning record ID
			@param fieldID string - field ID
			@param label string - field label, bound into the AAD
			@param plaintext []byte - the field value
			@return ciphertext envelope
	*/
	EncryptField(recordID, fieldID, label string, plaintext []byte) ([]byte, error)

	/*
		DecryptField decrypt one field value

		Returns an error wrapping `models.ErrTampered` when the envelope fails
		authentication.

			@param recordID string - owning record ID
			@param fieldID string - field ID
			@param label string - field label, bound into the AAD
			@param envelope []byte - the ciphertext envelope
			@return field value
	*/
	DecryptField(recordID, fieldID, label string, envelope []byte) ([]byte, error)

	/*
		EncryptAttachment encrypt one attachment payload

			@param recordID string - owning record ID
			@param attachmentID string - attachment ID
			@param mimeType string - declared MIME type, bound into the AAD
			@param payload []byte - the attachment bytes
			@return ciphertext envelope
	*/
	EncryptAttachment(recordID, attachmentID, mimeType string, payload []byte) ([]byte, error)

	/*
		DecryptAttachment decrypt one attachment payload

			@param recordID string - owning record ID
			@param attachmentID string - attachment ID
			@param mimeType string - declared MIME type, bound into the AAD
			@param envelope []byte - the ciphertext envelope
			@return attachment bytes
	*/
	DecryptAttachment(recordID, attachmentID, mimeType string, envelope []byte) ([]byte, error)

	/*
		EncryptThumbnail encrypt an attachment thumbnail

			@param recordID string - owning record ID
			@param attachmentID string - attachment ID
			@param mimeType string - declared MIME type of the parent attachment
			@param payload []byte - the thumbnail bytes
			@return ciphertext envelope
	*/
	EncryptThumbnail(recordID, attachmentID, mimeType string, payload []byte) ([]byte, error)

	/*
		DecryptThumbnail decrypt an attachment thumbnail

			@param recordID string - owning record ID
			@param attachmentID string - attachment ID
			@param mimeType string - declared MIME type of the parent attachment
			@param envelope []byte - the ciphertext envelope
			@return thumbnail bytes
	*/
	DecryptThumbnail(recordID, attachmentID, mimeType string, envelope []byte) ([]byte, error)
}

// engineImpl implements Engine
type engineImpl struct {
	goutils.Component

	keyLock    sync.RWMutex
	kek        []byte
	recordKeys map[string][]byte
}

/*
NewEngine define new cryptography engine

	@returns engine instance
*/
func NewEngine() Engine {
	logTags := log.Fields{"package": "quickvault", "module": "encryption", "component": "crypto-engine"}

	return &engineImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		recordKeys: make(map[string][]byte),
	}
}
