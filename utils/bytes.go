package utils

import (
	"crypto/rand"
	"crypto/subtle"
)

// GenerateRandomBytes returns n bytes from the system CSPRNG
func GenerateRandomBytes(n uint32) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Wipe zeroes a buffer holding sensitive material
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	// second pass so the zeroing is not optimized away
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

// CloneBytes returns an independent copy of b; nil stays nil
func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
