// Package qr buduje linki weryfikacyjne KOD I (faktura) i KOD II (certyfikat wystawcy)
// drukowane na wizualizacji faktury.
package qr

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/digest"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "ksef.qr")

type ContextIdentifierType string

const (
	CtxNip        ContextIdentifierType = "Nip"
	CtxInternalId ContextIdentifierType = "InternalId"
	CtxNipVatUe   ContextIdentifierType = "NipVatUe"
)

// OfflineLabel podpis pod KOD I dla faktury, która nie ma jeszcze numeru KSeF.
const OfflineLabel = "OFFLINE"

var ErrInvalidNip = errors.New("NIP must contain exactly 10 digits")

// Code link do zakodowania w QR i podpis drukowany pod kodem.
type Code struct {
	Link  string
	Label string
}

// GenerateVerificationLink buduje link KOD I:
// https://{qr-host}/client-app/invoice/{NIP}/{DD-MM-YYYY}/{Base64URL(SHA256(xml))}
func GenerateVerificationLink(cfg ksef.GatewayConfig, nip string, issueDate time.Time, invoiceXML []byte) (string, error) {
	baseQR, err := QRBaseURL(cfg.BaseURL)
	if err != nil {
		return "", err
	}

	normalized, err := normalizeNip(nip)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/client-app/invoice/%s/%s/%s",
		baseQR, normalized, issueDate.Format("02-01-2006"), digest.SHA256Base64URL(invoiceXML)), nil
}

// InvoiceCode KOD I dla faktury pobranej z KSeF, podpisany numerem KSeF.
func InvoiceCode(cfg ksef.GatewayConfig, inv model.RetrievedInvoice) (Code, error) {
	link, err := GenerateVerificationLink(cfg, inv.Metadata.SellerTaxID, inv.Metadata.IssueDate, inv.XML)
	if err != nil {
		return Code{}, errors.Wrapf(err, "invoice %s", inv.GatewayNumber())
	}
	label := inv.GatewayNumber()
	if label == "" {
		label = OfflineLabel
	}
	return Code{Link: link, Label: label}, nil
}

// GenerateCertificateVerificationLink buduje link KOD II. Podpisywany jest ciąg "{host}{path}"
// bez schematu, np. "qr-test.ksef.mf.gov.pl/client-app/certificate/Nip/...".
func GenerateCertificateVerificationLink(
	cfg ksef.GatewayConfig,
	ctxType ContextIdentifierType,
	ctxValue string,
	sellerNip string,
	certSerial string,
	signer crypto.Signer, // *rsa.PrivateKey lub *ecdsa.PrivateKey
	invoiceXML []byte,
) (string, error) {
	if len(invoiceXML) == 0 {
		return "", errors.New("invoice XML is empty")
	}

	baseQR, err := QRBaseURL(cfg.BaseURL)
	if err != nil {
		return "", err
	}

	normalized, err := normalizeNip(sellerNip)
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("/client-app/certificate/%s/%s/%s/%s/%s",
		ctxType, ctxValue, normalized, certSerial, digest.SHA256Base64URL(invoiceXML))

	u, err := url.Parse(baseQR)
	if err != nil {
		return "", errors.Wrap(err, "qr base URL")
	}
	toSign := u.Host + path
	logger.WithField("data", toSign).Debug("Signing certificate verification link")

	sig, err := sign(toSign, signer)
	if err != nil {
		return "", err
	}
	return baseQR + path + "/" + sig, nil
}

// QRBaseURL mapuje adres API na host qr-..., bez ścieżki.
func QRBaseURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("base URL is empty")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "invalid base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Errorf("base URL must include scheme and host, got: %q", base)
	}

	host := strings.Replace(u.Host, "api-", "qr-", 1)
	host = strings.Replace(host, "api.", "qr.", 1)

	return (&url.URL{Scheme: u.Scheme, Host: host}).String(), nil
}

// ExtractCertSerial numer seryjny certyfikatu jako HEX wielkimi literami.
func ExtractCertSerial(cert *x509.Certificate) (string, error) {
	if cert == nil || cert.SerialNumber == nil {
		return "", errors.New("certificate has no serial number")
	}
	if cert.SerialNumber.Sign() <= 0 {
		return "", errors.New("certificate serial number must be positive")
	}
	return fmt.Sprintf("%X", cert.SerialNumber.Bytes()), nil
}

func LoadCertificateFromFile(path string) (*x509.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read cert file")
	}
	return LoadCertificate(b)
}

// LoadCertificate akceptuje PEM albo surowy DER.
func LoadCertificate(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, errors.Errorf("unexpected PEM block: %s", block.Type)
		}
		data = block.Bytes
	}

	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse certificate")
	}
	return cert, nil
}

// sign podpisuje SHA-256 danych: RSA-PSS (salt 32) albo ECDSA (DER). Wynik w Base64URL bez paddingu.
func sign(data string, key crypto.Signer) (string, error) {
	sum := sha256.Sum256([]byte(data))

	var (
		sig []byte
		err error
	)
	switch k := key.(type) {
	case *rsa.PrivateKey:
		sig, err = rsa.SignPSS(rand.Reader, k, crypto.SHA256, sum[:], &rsa.PSSOptions{
			SaltLength: 32,
			Hash:       crypto.SHA256,
		})
	case *ecdsa.PrivateKey:
		sig, err = ecdsa.SignASN1(rand.Reader, k, sum[:])
	default:
		return "", errors.Errorf("unsupported private key type: %T (expected RSA or ECDSA)", key)
	}
	if err != nil {
		return "", errors.Wrap(err, "sign verification link")
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

func normalizeNip(nip string) (string, error) {
	n := strings.TrimPrefix(ksef.NormalizeTaxID(nip), "PL")
	if len(n) != 10 {
		return "", errors.Wrapf(ErrInvalidNip, "%q", nip)
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return "", errors.Wrapf(ErrInvalidNip, "%q", nip)
		}
	}
	return n, nil
}
