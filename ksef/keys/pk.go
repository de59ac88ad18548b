// Package keys ładuje klucz prywatny certyfikatu wystawcy używany do podpisu linku KOD II.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/pem"
	"os"

	"github.com/go-faster/errors"
	"github.com/youmark/pkcs8"
)

var ErrNoKey = errors.New("no PKCS#8 private key block found in PEM")

// LoadSignerFromFile ładuje klucz z pliku PEM i zwraca crypto.Signer.
func LoadSignerFromFile(path string, password []byte) (crypto.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	return LoadSignerFromPEM(b, password)
}

// LoadSignerFromPEM ładuje pierwszy blok ENCRYPTED PRIVATE KEY albo PRIVATE KEY.
// Blok zaszyfrowany wymaga hasła.
func LoadSignerFromPEM(pemBytes []byte, password []byte) (crypto.Signer, error) {
	for len(pemBytes) > 0 {
		var block *pem.Block
		block, pemBytes = pem.Decode(pemBytes)
		if block == nil {
			break
		}

		var pass []byte
		switch block.Type {
		case "ENCRYPTED PRIVATE KEY":
			if len(password) == 0 {
				return nil, errors.New("password is required for ENCRYPTED PRIVATE KEY")
			}
			pass = password
		case "PRIVATE KEY":
		default:
			continue
		}

		keyAny, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, pass)
		if err != nil {
			return nil, errors.Wrap(err, "parse PKCS#8 private key")
		}

		switch k := keyAny.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdsa.PrivateKey:
			return k, nil
		default:
			return nil, errors.Errorf("unsupported key type in PKCS#8: %T (expected RSA or ECDSA)", keyAny)
		}
	}

	return nil, ErrNoKey
}

// EncodePEM koduje klucz jako PKCS#8 PEM, zaszyfrowany gdy podano hasło.
func EncodePEM(key crypto.Signer, password []byte) ([]byte, error) {
	der, err := pkcs8.MarshalPrivateKey(key, password, nil)
	if err != nil {
		return nil, errors.Wrap(err, "marshal PKCS#8 private key")
	}

	typ := "PRIVATE KEY"
	if len(password) > 0 {
		typ = "ENCRYPTED PRIVATE KEY"
	}
	return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), nil
}
