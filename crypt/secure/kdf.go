package secure

import (
	"bytes"
	"crypto/sha256"

	"github.com/oddbit-project/safekeep/utils"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize          = 32
	SaltSize         = 32
	IVSize           = 16
	MinKDFIterations = 100000

	ErrInvalidSalt         = utils.Error("salt must be 32 bytes")
	ErrKDFIterationsTooLow = utils.Error("key derivation iterations below the minimum")
	ErrSelfTestFailed      = utils.Error("cryptographic self-test failed")
)

// DeriveKey derives an AES-256 key from secret using PBKDF2-HMAC-SHA256.
// A nil salt generates a new random one; the salt actually used is returned
func DeriveKey(secret, salt []byte, iterations int) (*Key, []byte, error) {
	if iterations < MinKDFIterations {
		return nil, nil, ErrKDFIterationsTooLow
	}
	return deriveKey(secret, salt, iterations)
}

func deriveKey(secret, salt []byte, iterations int) (*Key, []byte, error) {
	if salt == nil {
		var err error
		if salt, err = utils.GenerateRandomBytes(SaltSize); err != nil {
			return nil, nil, err
		}
	}
	if len(salt) != SaltSize {
		return nil, nil, ErrInvalidSalt
	}
	key, err := newKey(pbkdf2.Key(secret, salt, iterations, KeySize, sha256.New))
	if err != nil {
		return nil, nil, err
	}
	return key, salt, nil
}

// SelfTest checks the random source, the KDF and an AES-GCM round trip
func SelfTest() error {
	secret, err := utils.GenerateRandomBytes(16)
	if err != nil {
		return ErrSelfTestFailed.Wrap(err)
	}
	// iteration floor does not apply to the probe
	key, salt, err := deriveKey(secret, nil, 1)
	if err != nil {
		return ErrSelfTestFailed.Wrap(err)
	}
	defer key.Clear()

	probe := []byte("safekeep self-test")
	iv, ct, err := key.Seal(probe, salt)
	if err != nil {
		return ErrSelfTestFailed.Wrap(err)
	}
	pt, err := key.Open(iv, ct, salt)
	if err != nil || !bytes.Equal(pt, probe) {
		return ErrSelfTestFailed
	}
	return nil
}
