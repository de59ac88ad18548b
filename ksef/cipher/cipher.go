package cipher

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/alapierre/ksef-gateway/ksef/aes"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "ksef.cipher")

// EncryptionMaterial klucz i IV jednej operacji pobierania paczki. Nigdy nie używać ponownie.
type EncryptionMaterial struct {
	SymmetricKey []byte
	IV           []byte
	WrappedKey   string
	IVBase64     string
}

// GenerateEncryptionMaterial losuje klucz AES-256 i IV, a klucz opakowuje RSA-OAEP/SHA-256
// kluczem publicznym bramki.
func GenerateEncryptionMaterial(publicKeyPEM []byte) (*EncryptionMaterial, error) {
	pub, err := ParseRSAPublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return GenerateEncryptionMaterialFor(pub)
}

func GenerateEncryptionMaterialFor(pub *rsa.PublicKey) (*EncryptionMaterial, error) {
	key, err := aes.GenerateRandom256BitsKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate AES key")
	}
	iv, err := aes.GenerateRandom16BytesIv()
	if err != nil {
		return nil, errors.Wrap(err, "generate IV")
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, errors.Wrap(err, "RSA-OAEP wrap")
	}

	logger.WithField("key_bits", pub.N.BitLen()).Debug("Encryption material generated")

	return &EncryptionMaterial{
		SymmetricKey: key,
		IV:           iv,
		WrappedKey:   base64.StdEncoding.EncodeToString(wrapped),
		IVBase64:     base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Decrypt odszyfrowuje paczkę zaszyfrowaną tym materiałem.
func (m *EncryptionMaterial) Decrypt(ciphertext []byte) ([]byte, error) {
	return aes.DecryptBytesAESCBCPKCS5(ciphertext, m.SymmetricKey, m.IV)
}

// Unwrap odwraca opakowanie klucza; używane po stronie posiadacza klucza prywatnego.
func Unwrap(priv *rsa.PrivateKey, wrappedKey string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrappedKey)
	if err != nil {
		return nil, errors.Wrap(err, "decode wrapped key")
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, raw, nil)
	if err != nil {
		return nil, errors.Wrap(err, "RSA-OAEP unwrap")
	}
	return key, nil
}

// ParseRSAPublicKeyPEM akceptuje bloki PUBLIC KEY, RSA PUBLIC KEY oraz CERTIFICATE.
func ParseRSAPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in public key")
	}

	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "parse PKIX public key")
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.Errorf("public key is not RSA (type: %T)", parsed)
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "parse PKCS#1 public key")
		}
		return pub, nil
	case "CERTIFICATE":
		pub, _, err := parseCertificateDER(block.Bytes)
		return pub, err
	default:
		return nil, errors.Errorf("unsupported PEM block %q", block.Type)
	}
}

// ParseRSAPubFromB64Cert parsuje certyfikat DER zakodowany base64 (format bramki).
func ParseRSAPubFromB64Cert(certB64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return nil, errors.Wrap(err, "decode cert")
	}
	pub, _, err := parseCertificateDER(der)
	return pub, err
}

func parseCertificateDER(der []byte) (*rsa.PublicKey, *x509.Certificate, error) {
	xc, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse x509")
	}
	pub, ok := xc.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, nil, errors.Errorf("cert nie zawiera klucza RSA (typ: %T)", xc.PublicKey)
	}
	return pub, xc, nil
}
