package secure

import (
	"crypto/subtle"
)

// constantTimeKeyLengthCheck performs constant-time validation of key length
func constantTimeKeyLengthCheck(key []byte) bool {
	expectedLen := []byte{KeySize}
	actualLen := []byte{255}
	if len(key) <= 255 {
		actualLen[0] = byte(len(key))
	}
	return subtle.ConstantTimeCompare(expectedLen, actualLen) == 1
}

// constantTimeEqLen returns 1 if len(data) == n, 0 otherwise, without branching on the value
func constantTimeEqLen(data []byte, n int) int {
	return subtle.ConstantTimeEq(int32(len(data)), int32(n))
}

// constantTimeMinLength returns 1 if len(data) >= minLen
func constantTimeMinLength(data []byte, minLen int) int {
	diff := int32(len(data)) - int32(minLen)
	return 1 - int((diff>>31)&1)
}
