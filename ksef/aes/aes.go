package aes

import (
	"bytes"
	aes2 "crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/alapierre/ksef-gateway/ksef/digest"
	"github.com/go-faster/errors"
)

const (
	KeySize = 32
	IVSize  = aes2.BlockSize
)

// ErrPadding niepoprawne dopełnienie PKCS#7 po deszyfrowaniu, zwykle zły klucz lub IV.
var ErrPadding = errors.New("niepoprawny padding")

// GenerateRandom256BitsKey generuje losowy 256-bitowy klucz (32 bajty)
func GenerateRandom256BitsKey() ([]byte, error) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	if err != nil {
		return nil, fmt.Errorf("błąd generowania losowego klucza: %w", err)
	}
	return key, nil
}

// GenerateRandom16BytesIv generuje losowy 16-bajtowy wektor inicjalizacji
func GenerateRandom16BytesIv() ([]byte, error) {
	iv := make([]byte, IVSize)
	_, err := rand.Read(iv)
	if err != nil {
		return nil, fmt.Errorf("błąd generowania losowego IV: %w", err)
	}
	return iv, nil
}

func checkKeyIV(key, iv []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("klucz musi mieć %d bajty (AES-256), ma %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return fmt.Errorf("IV musi mieć %d bajtów, ma %d", IVSize, len(iv))
	}
	return nil
}

// EncryptBytesWithAES256CBCPKCS7 szyfruje content, używając AES-256-CBC z PKCS#7.
func EncryptBytesWithAES256CBCPKCS7(content, key, iv []byte) ([]byte, error) {
	if err := checkKeyIV(key, iv); err != nil {
		return nil, err
	}

	block, err := aes2.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "NewCipher")
	}

	padded := pkcs7Pad(content, aes2.BlockSize)
	out := make([]byte, len(padded))

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out, padded)
	return out, nil
}

func pkcs7Pad(src []byte, blockSize int) []byte {
	padLen := blockSize - (len(src) % blockSize)
	out := make([]byte, len(src), len(src)+padLen)
	copy(out, src)
	return append(out, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

// DecryptBytesAESCBCPKCS5 odszyfrowuje bufor AES-256-CBC z PKCS5/7.
// Nie obcina danych po cichu: każdy błąd dopełnienia kończy się ErrPadding.
func DecryptBytesAESCBCPKCS5(ciphertext, key, iv []byte) ([]byte, error) {
	if err := checkKeyIV(key, iv); err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes2.BlockSize != 0 {
		return nil, fmt.Errorf("długość danych %d nie jest wielokrotnością rozmiaru bloku", len(ciphertext))
	}

	block, err := aes2.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "NewCipher")
	}
	mode := cipher.NewCBCDecrypter(block, iv)

	plain := make([]byte, len(ciphertext))
	mode.CryptBlocks(plain, ciphertext)

	pad := int(plain[len(plain)-1])
	if pad <= 0 || pad > aes2.BlockSize || pad > len(plain) {
		return nil, ErrPadding
	}
	// sprawdź wszystkie bajty paddingu
	for i := 0; i < pad; i++ {
		if plain[len(plain)-1-i] != byte(pad) {
			return nil, ErrPadding
		}
	}
	return plain[:len(plain)-pad], nil
}

func GetMetadata(file []byte) Metadata {
	return Metadata{
		Size:    int64(len(file)),
		HashSHA: digest.SHA256Base64(file),
	}
}

type Metadata struct {
	Size    int64
	HashSHA string // SHA-256 w Base64
}
