package secure

// Cipher seals and opens data under a key that never leaves the implementation
type Cipher interface {
	Seal(plaintext, aad []byte) (iv []byte, ciphertext []byte, err error)
	Open(iv, ciphertext, aad []byte) ([]byte, error)
	Clear()
	Usable() bool
}

var _ Cipher = (*Key)(nil)
