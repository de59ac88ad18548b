package aes

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, err := GenerateRandom256BitsKey()
	require.NoError(t, err)
	iv, err := GenerateRandom16BytesIv()
	require.NoError(t, err)

	for size := 0; size <= 100; size++ {
		data := make([]byte, size)
		_, err := rand.Read(data)
		require.NoError(t, err)

		encrypted, err := EncryptBytesWithAES256CBCPKCS7(data, key, iv)
		require.NoError(t, err)
		assert.Zero(t, len(encrypted)%IVSize)
		assert.Greater(t, len(encrypted), size)

		decrypted, err := DecryptBytesAESCBCPKCS5(encrypted, key, iv)
		require.NoError(t, err, "size %d", size)
		assert.True(t, bytes.Equal(data, decrypted), "size %d", size)
	}
}

func TestEncrypt_DoesNotTouchInput(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	iv := bytes.Repeat([]byte{2}, IVSize)

	backing := make([]byte, 5, 64)
	copy(backing, "abcde")
	tail := backing[:cap(backing)]

	_, err := EncryptBytesWithAES256CBCPKCS7(backing, key, iv)
	require.NoError(t, err)
	assert.Equal(t, byte(0), tail[5])
}

func TestDecrypt_WrongKeyFailsLoudly(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	other := bytes.Repeat([]byte{3}, KeySize)
	iv := bytes.Repeat([]byte{2}, IVSize)

	encrypted, err := EncryptBytesWithAES256CBCPKCS7([]byte("Ala ma kota"), key, iv)
	require.NoError(t, err)

	// zły klucz prawie zawsze psuje padding; dla pewności sprawdzamy kilka IV
	failures := 0
	for i := 0; i < 16; i++ {
		iv2 := bytes.Repeat([]byte{byte(i + 10)}, IVSize)
		_, err := DecryptBytesAESCBCPKCS5(encrypted, other, iv2)
		if err != nil {
			assert.True(t, errors.Is(err, ErrPadding))
			failures++
		}
	}
	assert.Greater(t, failures, 0)
}

func TestDecrypt_CorruptedPadding(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	iv := bytes.Repeat([]byte{2}, IVSize)

	block := bytes.Repeat([]byte{0x41}, IVSize)
	block[IVSize-1] = 0x05 // pad=5, ale poprzednie bajty to 0x41
	encrypted, err := encryptRaw(block, key, iv)
	require.NoError(t, err)

	_, err = DecryptBytesAESCBCPKCS5(encrypted, key, iv)
	assert.ErrorIs(t, err, ErrPadding)
}

func TestDecrypt_InvalidInput(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	iv := bytes.Repeat([]byte{2}, IVSize)

	_, err := DecryptBytesAESCBCPKCS5(nil, key, iv)
	assert.Error(t, err)
	_, err = DecryptBytesAESCBCPKCS5(make([]byte, 17), key, iv)
	assert.Error(t, err)
	_, err = DecryptBytesAESCBCPKCS5(make([]byte, 16), key[:16], iv)
	assert.Error(t, err)
	_, err = DecryptBytesAESCBCPKCS5(make([]byte, 16), key, iv[:8])
	assert.Error(t, err)
}

func TestGetMetadata(t *testing.T) {
	m := GetMetadata([]byte("abc"))
	assert.Equal(t, int64(3), m.Size)
	assert.Equal(t, "ungWv48Bz+pBQUDeXa4iI7ADYaOWF3qctBD/YfIAFa0=", m.HashSHA)
}
