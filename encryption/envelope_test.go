package encryption_test

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/alwitt/quickvault/encryption"
	"github.com/alwitt/quickvault/models"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestEnvelopeRoundTrip verifies `SealWithKey` / `OpenWithKey` and the
// envelope's tamper reporting.
func TestEnvelopeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	key := make([]byte, encryption.DataKeyLen)
	_, err := rand.Read(key)
	assert.Nil(err)

	plaintext := []byte("the quick brown fox")
	aad := encryption.FieldAAD(uuid.NewString(), "field-1", "username")

	// 1 – Round trip
	envelope, err := encryption.SealWithKey(key, plaintext, aad)
	assert.Nil(err)
	assert.Equal(byte(0x01), envelope[0])
	assert.Len(envelope, len(plaintext)+encryption.EnvelopeOverhead)

	recovered, err := encryption.OpenWithKey(key, envelope, aad)
	assert.Nil(err)
	assert.Equal(plaintext, recovered)

	// 2 – Two seals of the same plaintext differ (fresh nonce)
	envelope2, err := encryption.SealWithKey(key, plaintext, aad)
	assert.Nil(err)
	assert.NotEqual(envelope, envelope2)

	// -------------------------------------------------------------------------
	// 3 – A flipped ciphertext byte reports tampering
	mangled := make([]byte, len(envelope))
	copy(mangled, envelope)
	mangled[len(mangled)-1] ^= 0x01
	_, err = encryption.OpenWithKey(key, mangled, aad)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrTampered))

	// 4 – The wrong AAD reports tampering
	_, err = encryption.OpenWithKey(key, envelope, []byte("some other context"))
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrTampered))

	// 5 – An unknown version byte reports tampering
	mangled[0] = 0x02
	copy(mangled[1:], envelope[1:])
	_, err = encryption.OpenWithKey(key, mangled, aad)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrTampered))

	// 6 – A truncated envelope reports tampering
	_, err = encryption.OpenWithKey(key, envelope[:encryption.EnvelopeOverhead-1], aad)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrTampered))
}

// TestEngineKeyCustody verifies KEK installation, record key derivation, and
// key discard.
func TestEngineKeyCustody(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut := encryption.NewEngine()
	assert.False(uut.HoldingKeys())

	// 1 – No keys installed yet
	_, err := uut.EncryptField(uuid.NewString(), "f1", "username", []byte("alice"))
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrLocked))

	kek := make([]byte, encryption.DataKeyLen)
	_, err = rand.Read(kek)
	assert.Nil(err)
	assert.Nil(uut.InstallKEK(kek))
	assert.True(uut.HoldingKeys())

	// 2 – Field round trip through the engine
	recordID := uuid.NewString()
	envelope, err := uut.EncryptField(recordID, "f1", "username", []byte("alice"))
	assert.Nil(err)
	value, err := uut.DecryptField(recordID, "f1", "username", envelope)
	assert.Nil(err)
	assert.Equal([]byte("alice"), value)

	// 3 – The AAD binds the label; a renamed label cannot open the envelope
	_, err = uut.DecryptField(recordID, "f1", "password", envelope)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrTampered))

	// 4 – A different record's key cannot open the envelope
	_, err = uut.DecryptField(uuid.NewString(), "f1", "username", envelope)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrTampered))

	// -------------------------------------------------------------------------
	// 5 – Attachment and thumbnail contexts are distinct
	attachmentBody := []byte("binary payload")
	attEnvelope, err := uut.EncryptAttachment(recordID, "a1", "image/png", attachmentBody)
	assert.Nil(err)
	readBack, err := uut.DecryptAttachment(recordID, "a1", "image/png", attEnvelope)
	assert.Nil(err)
	assert.Equal(attachmentBody, readBack)

	_, err = uut.DecryptThumbnail(recordID, "a1", "image/png", attEnvelope)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrTampered))

	// 6 – Reinstalling the same KEK keeps derivation deterministic
	uut.DiscardKeys()
	assert.False(uut.HoldingKeys())
	_, err = uut.DecryptField(recordID, "f1", "username", envelope)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrLocked))

	assert.Nil(uut.InstallKEK(kek))
	value, err = uut.DecryptField(recordID, "f1", "username", envelope)
	assert.Nil(err)
	assert.Equal([]byte("alice"), value)
}
