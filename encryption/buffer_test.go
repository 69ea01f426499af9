package encryption_test

import (
	"testing"

	"github.com/alwitt/quickvault/encryption"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

// TestSecureBufferWipe verifies guarded bytes are zeroed in place on wipe.
func TestSecureBufferWipe(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	raw := []byte("decrypted secret material")
	uut := encryption.NewSecureBuffer(raw)
	assert.Equal(raw, uut.Bytes())
	assert.Equal(len(raw), uut.Len())

	// 1 – Wipe zeroes the underlying slice, not just the buffer's view of it
	uut.Wipe()
	for _, oneByte := range raw {
		assert.Equal(byte(0), oneByte)
	}
	assert.Nil(uut.Bytes())
	assert.Equal(0, uut.Len())

	// 2 – Repeated wipes and nil receivers are safe
	uut.Wipe()
	var unset *encryption.SecureBuffer
	unset.Wipe()
	assert.Nil(unset.Bytes())
	assert.Equal(0, unset.Len())
}
