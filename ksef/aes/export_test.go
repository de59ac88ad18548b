package aes

import (
	aes2 "crypto/aes"
	"crypto/cipher"
)

// encryptRaw szyfruje pełne bloki bez dodawania dopełnienia.
func encryptRaw(blocks, key, iv []byte) ([]byte, error) {
	block, err := aes2.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(blocks))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, blocks)
	return out, nil
}
