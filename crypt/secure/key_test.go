package secure

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *Key {
	t.Helper()
	key, _, err := DeriveKey([]byte("correct horse battery staple"), nil, MinKDFIterations)
	require.NoError(t, err)
	return key
}

func TestKey_SealOpen(t *testing.T) {
	key := testKey(t)
	aad := []byte("safekeep:v1:notes")

	iv, ct, err := key.Seal([]byte("Tuesday: felt anxious"), aad)
	require.NoError(t, err)
	assert.Len(t, iv, IVSize)
	assert.NotContains(t, string(ct), "anxious")

	pt, err := key.Open(iv, ct, aad)
	require.NoError(t, err)
	assert.Equal(t, "Tuesday: felt anxious", string(pt))
}

func TestKey_FreshIV(t *testing.T) {
	key := testKey(t)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		iv, _, err := key.Seal([]byte("x"), nil)
		require.NoError(t, err)
		assert.False(t, seen[string(iv)], "iv reuse at %d", i)
		seen[string(iv)] = true
	}
}

func TestKey_OpenFailures(t *testing.T) {
	key := testKey(t)
	aad := []byte("safekeep:v1:notes")
	iv, ct, err := key.Seal([]byte("payload"), aad)
	require.NoError(t, err)

	flipped := append([]byte{}, ct...)
	flipped[0] ^= 0x01

	badIV := append([]byte{}, iv...)
	badIV[3] ^= 0x80

	tests := []struct {
		name string
		iv   []byte
		ct   []byte
		aad  []byte
	}{
		{"tampered ciphertext", iv, flipped, aad},
		{"tampered iv", badIV, ct, aad},
		{"short iv", iv[:12], ct, aad},
		{"nil iv", nil, ct, aad},
		{"wrong aad", iv, ct, []byte("safekeep:v1:finance")},
		{"truncated ciphertext", iv, ct[:4], aad},
		{"empty ciphertext", iv, nil, aad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt, err := key.Open(tt.iv, tt.ct, tt.aad)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
			assert.Nil(t, pt)
		})
	}
}

func TestKey_Clear(t *testing.T) {
	key := testKey(t)
	iv, ct, err := key.Seal([]byte("x"), nil)
	require.NoError(t, err)

	key.Clear()
	assert.False(t, key.Usable())
	_, err = key.Open(iv, ct, nil)
	assert.ErrorIs(t, err, ErrKeyCleared)
	_, _, err = key.Seal([]byte("x"), nil)
	assert.ErrorIs(t, err, ErrKeyCleared)
}

func TestKey_NotExportable(t *testing.T) {
	key := testKey(t)
	assert.Equal(t, "secure.Key([REDACTED])", key.String())
	assert.Equal(t, "secure.Key([REDACTED])", fmt.Sprintf("%v", key))
	assert.Equal(t, "secure.Key([REDACTED])", fmt.Sprintf("%#v", key))

	_, err := json.Marshal(key)
	assert.ErrorIs(t, err, ErrKeyNotExportable)
	_, err = json.Marshal(struct{ K *Key }{key})
	assert.ErrorIs(t, err, ErrKeyNotExportable)
}

func TestNewKey_InvalidLength(t *testing.T) {
	_, err := newKey(make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}
