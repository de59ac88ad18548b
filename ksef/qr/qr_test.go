package qr

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = ksef.NewGatewayConfig(ksef.Test, nil)

func TestQRBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{ksef.Test.BaseURL(), "https://qr-test.ksef.mf.gov.pl"},
		{ksef.Demo.BaseURL(), "https://qr-demo.ksef.mf.gov.pl"},
		{ksef.Prod.BaseURL(), "https://qr.ksef.mf.gov.pl"},
		{"http://localhost:8080/v2?x=1", "http://localhost:8080"},
	}
	for _, tt := range tests {
		got, err := QRBaseURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := QRBaseURL("")
	assert.Error(t, err)
	_, err = QRBaseURL("api.ksef.mf.gov.pl")
	assert.Error(t, err)
}

func TestGenerateVerificationLink(t *testing.T) {
	xml := []byte("<Faktura/>")
	sum := sha256.Sum256(xml)

	link, err := GenerateVerificationLink(testCfg, "526-587-76-35", time.Date(2025, 8, 26, 0, 0, 0, 0, time.UTC), xml)
	require.NoError(t, err)
	assert.Equal(t,
		"https://qr-test.ksef.mf.gov.pl/client-app/invoice/5265877635/26-08-2025/"+base64.RawURLEncoding.EncodeToString(sum[:]),
		link)
}

func TestGenerateVerificationLink_InvalidNip(t *testing.T) {
	for _, nip := range []string{"", "123", "52658776351", "52658776AB"} {
		_, err := GenerateVerificationLink(testCfg, nip, time.Now(), []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidNip, nip)
	}
}

func TestInvoiceCode(t *testing.T) {
	inv := model.RetrievedInvoice{
		Metadata: model.InvoiceMetadata{
			GatewayNumber: "5265877635-20250826-0100001AF629-AF",
			SellerTaxID:   "5265877635",
			IssueDate:     time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC),
		},
		XML: []byte("<Faktura/>"),
	}

	code, err := InvoiceCode(testCfg, inv)
	require.NoError(t, err)
	assert.Equal(t, "5265877635-20250826-0100001AF629-AF", code.Label)
	assert.Contains(t, code.Link, "/client-app/invoice/5265877635/20-08-2025/")

	inv.Metadata.GatewayNumber = ""
	code, err = InvoiceCode(testCfg, inv)
	require.NoError(t, err)
	assert.Equal(t, OfflineLabel, code.Label)
}

func TestGenerateCertificateVerificationLink_ECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	xml := []byte("<Faktura/>")
	link, err := GenerateCertificateVerificationLink(testCfg, CtxNip, "5265877635", "5265877635", "01F2", key, xml)
	require.NoError(t, err)

	const prefix = "https://qr-test.ksef.mf.gov.pl"
	require.True(t, strings.HasPrefix(link, prefix+"/client-app/certificate/Nip/5265877635/5265877635/01F2/"))

	i := strings.LastIndex(link, "/")
	signed := "qr-test.ksef.mf.gov.pl" + link[len(prefix):i]
	sig, err := base64.RawURLEncoding.DecodeString(link[i+1:])
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(signed))
	assert.True(t, ecdsa.VerifyASN1(&key.PublicKey, sum[:], sig))
}

func TestGenerateCertificateVerificationLink_RSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	link, err := GenerateCertificateVerificationLink(testCfg, CtxNip, "5265877635", "5265877635", "01", key, []byte("<Faktura/>"))
	require.NoError(t, err)

	const prefix = "https://qr-test.ksef.mf.gov.pl"
	i := strings.LastIndex(link, "/")
	sig, err := base64.RawURLEncoding.DecodeString(link[i+1:])
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("qr-test.ksef.mf.gov.pl" + link[len(prefix):i]))
	assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, sum[:], sig, &rsa.PSSOptions{SaltLength: 32}))
}

func TestGenerateCertificateVerificationLink_EmptyXML(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = GenerateCertificateVerificationLink(testCfg, CtxNip, "5265877635", "5265877635", "01", key, nil)
	assert.Error(t, err)
}

func TestLoadCertificate_Serial(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0x01F2A3),
		Subject:      pkix.Name{CommonName: "Softcom"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"der": der,
		"pem": pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	} {
		t.Run(name, func(t *testing.T) {
			cert, err := LoadCertificate(data)
			require.NoError(t, err)

			serial, err := ExtractCertSerial(cert)
			require.NoError(t, err)
			assert.Equal(t, "01F2A3", serial)
		})
	}

	_, err = LoadCertificate(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1}}))
	assert.Error(t, err)
}
