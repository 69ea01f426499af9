package encryption

// SecureBuffer holds sensitive bytes which must be zeroized once the holder
// is done with them.
type SecureBuffer struct {
	data []byte
}

/*
NewSecureBuffer take custody of sensitive bytes

	@param data []byte - the bytes to guard
	@return the buffer
*/
func NewSecureBuffer(data []byte) *SecureBuffer {
	return &SecureBuffer{data: data}
}

// Bytes the guarded bytes. Nil after a wipe.
func (b *SecureBuffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len byte count of the guarded bytes
func (b *SecureBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Wipe overwrite the guarded bytes and drop the reference. Safe to call more
// than once.
func (b *SecureBuffer) Wipe() {
	if b == nil {
		return
	}
	WipeKey(b.data)
	b.data = nil
}
