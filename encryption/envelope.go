package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/alwitt/quickvault/models"
)

// FieldAAD additional authenticated data binding a field ciphertext to its
// owning record, field ID, and label
func FieldAAD(recordID, fieldID, label string) []byte {
	return []byte("field|" + recordID + "|" + fieldID + "|" + label)
}

// AttachmentAAD additional authenticated data binding an attachment
// ciphertext to its owning record, attachment ID, and declared MIME type
func AttachmentAAD(recordID, attachmentID, mimeType string) []byte {
	return []byte("attach|" + recordID + "|" + attachmentID + "|" + mimeType)
}

// ThumbnailAAD additional authenticated data of an attachment thumbnail
func ThumbnailAAD(recordID, attachmentID, mimeType string) []byte {
	return []byte("attach|" + recordID + "|" + attachmentID + "|" + mimeType + "|thumb")
}

/*
SealWithKey encrypt a payload into a ciphertext envelope

The envelope is `version || nonce || ciphertext || tag` under AES-256-GCM
with a fresh random nonce.

	@param key []byte - 256-bit data key
	@param plaintext []byte - the payload
	@param aad []byte - additional authenticated data
	@return ciphertext envelope
*/
func SealWithKey(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	envelope := make([]byte, 1+EnvelopeNonceLen, len(plaintext)+EnvelopeOverhead)
	envelope[0] = EnvelopeVersion

	nonce := envelope[1 : 1+EnvelopeNonceLen]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate envelope nonce [%w]", err)
	}

	return aead.Seal(envelope, nonce, plaintext, aad), nil
}

/*
OpenWithKey authenticate and decrypt a ciphertext envelope

Any failure to authenticate, including an unknown envelope version or a
truncated envelope, reports as tampering.

	@param key []byte - 256-bit data key
	@param envelope []byte - the ciphertext envelope
	@param aad []byte - additional authenticated data
	@return the payload
*/
func OpenWithKey(key, envelope, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(envelope) < EnvelopeOverhead {
		return nil, fmt.Errorf("envelope truncated [%w]", models.ErrTampered)
	}
	if envelope[0] != EnvelopeVersion {
		return nil, fmt.Errorf("unknown envelope version %d [%w]", envelope[0], models.ErrTampered)
	}

	nonce := envelope[1 : 1+EnvelopeNonceLen]
	plaintext, err := aead.Open(nil, nonce, envelope[1+EnvelopeNonceLen:], aad)
	if err != nil {
		return nil, fmt.Errorf("envelope failed authentication [%w]", models.ErrTampered)
	}

	return plaintext, nil
}

// newAEAD build the AES-256-GCM primitive for a data key
func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != DataKeyLen {
		return nil, fmt.Errorf("data key must be %d bytes, got %d", DataKeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher [%w]", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AEAD [%w]", err)
	}
	return aead, nil
}

// ======================================================================================
// Record payloads

func (e *engineImpl) sealForRecord(recordID string, plaintext, aad []byte) ([]byte, error) {
	key, err := e.recordKeyFor(recordID)
	if err != nil {
		return nil, err
	}
	return SealWithKey(key, plaintext, aad)
}

func (e *engineImpl) openForRecord(recordID string, envelope, aad []byte) ([]byte, error) {
	key, err := e.recordKeyFor(recordID)
	if err != nil {
		return nil, err
	}
	return OpenWithKey(key, envelope, aad)
}

/*
EncryptField encrypt one field value

	@param recordID string - owning record ID
	@param fieldID string - field ID
	@param label string - field label, bound into the AAD
	@param plaintext []byte - the field value
	@return ciphertext envelope
*/
func (e *engineImpl) EncryptField(
	recordID, fieldID, label string, plaintext []byte,
) ([]byte, error) {
	return e.sealForRecord(recordID, plaintext, FieldAAD(recordID, fieldID, label))
}

/*
DecryptField decrypt one field value

	@param recordID string - owning record ID
	@param fieldID string - field ID
	@param label string - field label, bound into the AAD
	@param envelope []byte - the ciphertext envelope
	@return field value
*/
func (e *engineImpl) DecryptField(
	recordID, fieldID, label string, envelope []byte,
) ([]byte, error) {
	return e.openForRecord(recordID, envelope, FieldAAD(recordID, fieldID, label))
}

/*
EncryptAttachment encrypt one attachment payload

	@param recordID string - owning record ID
	@param attachmentID string - attachment ID
	@param mimeType string - declared MIME type, bound into the AAD
	@param payload []byte - the attachment bytes
	@return ciphertext envelope
*/
func (e *engineImpl) EncryptAttachment(
	recordID, attachmentID, mimeType string, payload []byte,
) ([]byte, error) {
	return e.sealForRecord(recordID, payload, AttachmentAAD(recordID, attachmentID, mimeType))
}

/*
DecryptAttachment decrypt one attachment payload

	@param recordID string - owning record ID
	@param attachmentID string - attachment ID
	@param mimeType string - declared MIME type, bound into the AAD
	@param envelope []byte - the ciphertext envelope
	@return attachment bytes
*/
func (e *engineImpl) DecryptAttachment(
	recordID, attachmentID, mimeType string, envelope []byte,
) ([]byte, error) {
	return e.openForRecord(recordID, envelope, AttachmentAAD(recordID, attachmentID, mimeType))
}

/*
EncryptThumbnail encrypt an attachment thumbnail

	@param recordID string - owning record ID
	@param attachmentID string - attachment ID
	@param mimeType string - declared MIME type of the parent attachment
	@param payload []byte - the thumbnail bytes
	@return ciphertext envelope
*/
func (e *engineImpl) EncryptThumbnail(
	recordID, attachmentID, mimeType string, payload []byte,
) ([]byte, error) {
	return e.sealForRecord(recordID, payload, ThumbnailAAD(recordID, attachmentID, mimeType))
}

/*
DecryptThumbnail decrypt an attachment thumbnail

	@param recordID string - owning record ID
	@param attachmentID string - attachment ID
	@param mimeType string - declared MIME type of the parent attachment
	@param envelope []byte - the ciphertext envelope
	@return thumbnail bytes
*/
func (e *engineImpl) DecryptThumbnail(
	recordID, attachmentID, mimeType string, envelope []byte,
) ([]byte, error) {
	return e.openForRecord(recordID, envelope, ThumbnailAAD(recordID, attachmentID, mimeType))
}
