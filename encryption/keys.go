package encryption

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/alwitt/quickvault/models"
	"golang.org/x/crypto/hkdf"
)

// WipeKey overwrite key material before releasing it
func WipeKey(key []byte) {
	for idx := range key {
		key[idx] = 0
	}
}

/*
InstallKEK accept custody of the unwrapped key-encryption key

	@param kek []byte - the unwrapped KEK
*/
func (e *engineImpl) InstallKEK(kek []byte) error {
	if len(kek) != DataKeyLen {
		return fmt.Errorf("KEK must be %d bytes, got %d", DataKeyLen, len(kek))
	}

	e.keyLock.Lock()
	defer e.keyLock.Unlock()

	if e.kek != nil {
		WipeKey(e.kek)
	}
	e.kek = make([]byte, DataKeyLen)
	copy(e.kek, kek)

	return nil
}

/*
DiscardKeys wipe the KEK and all derived record keys from memory
*/
func (e *engineImpl) DiscardKeys() {
	e.keyLock.Lock()
	defer e.keyLock.Unlock()

	if e.kek != nil {
		WipeKey(e.kek)
		e.kek = nil
	}
	for recordID, key := range e.recordKeys {
		WipeKey(key)
		delete(e.recordKeys, recordID)
	}
}

/*
HoldingKeys whether the engine currently holds an installed KEK
*/
func (e *engineImpl) HoldingKeys() bool {
	e.keyLock.RLock()
	defer e.keyLock.RUnlock()
	return e.kek != nil
}

// getCachedRecordKey helper function to read a derived key from cache
func (e *engineImpl) getCachedRecordKey(recordID string) ([]byte, bool) {
	e.keyLock.RLock()
	defer e.keyLock.RUnlock()
	key, ok := e.recordKeys[recordID]
	return key, ok
}

// recordKeyFor derive the data key guarding one record's payloads
//
// Derivation is HKDF-SHA256 over the KEK with the record ID bound into the
// info string. Derived keys are cached until the keys are discarded.
func (e *engineImpl) recordKeyFor(recordID string) ([]byte, error) {
	if key, ok := e.getCachedRecordKey(recordID); ok {
		return key, nil
	}

	e.keyLock.Lock()
	defer e.keyLock.Unlock()

	if e.kek == nil {
		return nil, fmt.Errorf("no KEK installed [%w]", models.ErrLocked)
	}

	// Re-check under the write lock
	if key, ok := e.recordKeys[recordID]; ok {
		return key, nil
	}

	key := make([]byte, DataKeyLen)
	reader := hkdf.New(sha256.New, e.kek, nil, []byte("record|"+recordID))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("record key derivation failed for %s [%w]", recordID, err)
	}

	e.recordKeys[recordID] = key
	return key, nil
}
