package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"sync"

	"github.com/oddbit-project/safekeep/utils"
)

const (
	ErrInvalidKeyLength     = utils.Error("key length must be 32 bytes")
	ErrAuthenticationFailed = utils.Error("authentication failed")
	ErrKeyCleared           = utils.Error("key material was cleared")
	ErrKeyNotExportable     = utils.Error("key material is not exportable")
)

// Key is a derived AES-256-GCM key. The raw bytes are wiped as soon as the cipher
// is built and are never exposed; the key can only seal, open and be cleared
type Key struct {
	mu   sync.RWMutex
	aead cipher.AEAD
}

func newKey(material []byte) (*Key, error) {
	defer utils.Wipe(material)
	if !constantTimeKeyLengthCheck(material) {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, err
	}
	return &Key{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random IV; the returned ciphertext carries the GCM tag
func (k *Key) Seal(plaintext, aad []byte) (iv []byte, ciphertext []byte, err error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.aead == nil {
		return nil, nil, ErrKeyCleared
	}
	if iv, err = utils.GenerateRandomBytes(IVSize); err != nil {
		return nil, nil, err
	}
	return iv, k.aead.Seal(nil, iv, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext. Every failure other than a cleared key
// is reported as ErrAuthenticationFailed
func (k *Key) Open(iv, ciphertext, aad []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.aead == nil {
		return nil, ErrKeyCleared
	}

	valid := constantTimeEqLen(iv, IVSize) & constantTimeMinLength(ciphertext, k.aead.Overhead())
	nonce := make([]byte, IVSize)
	if len(iv) == IVSize {
		copy(nonce, iv)
	}
	result, err := k.aead.Open(nil, nonce, ciphertext, aad)
	ok := 0
	if err == nil {
		ok = 1
	}
	if subtle.ConstantTimeSelect(valid, ok, 0) != 1 {
		utils.Wipe(result)
		return nil, ErrAuthenticationFailed
	}
	return result, nil
}

// Clear drops the cipher; further Seal/Open calls fail with ErrKeyCleared
func (k *Key) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.aead = nil
}

// Usable returns false once the key was cleared
func (k *Key) Usable() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.aead != nil
}

func (k *Key) String() string {
	return "secure.Key([REDACTED])"
}

func (k *Key) GoString() string {
	return k.String()
}

func (k *Key) MarshalJSON() ([]byte, error) {
	return nil, ErrKeyNotExportable
}

func (k *Key) MarshalText() ([]byte, error) {
	return nil, ErrKeyNotExportable
}
