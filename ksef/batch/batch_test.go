package batch

import (
	"bytes"
	"testing"
	"time"

	"github.com/alapierre/ksef-gateway/ksef/aes"
	"github.com/alapierre/ksef-gateway/ksef/digest"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/klauspost/compress/zip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(no, invoiceNumber string) InvoiceItem {
	return InvoiceItem{
		Metadata: model.InvoiceMetadata{
			GatewayNumber:        no,
			InvoiceNumber:        invoiceNumber,
			IssueDate:            time.Date(2025, 8, 26, 0, 0, 0, 0, time.UTC),
			SellerTaxID:          "5265877635",
			TotalGross:           decimal.RequireFromString("123.00"),
			Currency:             "PLN",
			PermanentStorageDate: time.Date(2025, 8, 26, 10, 0, 0, 0, time.UTC),
		},
		XML: []byte("<Faktura><Fa><P_2>" + invoiceNumber + "</P_2></Fa></Faktura>"),
	}
}

func TestSplit(t *testing.T) {
	data := []byte("abcdefghij")

	parts := Split(data, 4)
	require.Len(t, parts, 3)
	assert.Equal(t, "abcd", string(parts[0]))
	assert.Equal(t, "ij", string(parts[2]))
	assert.Equal(t, data, bytes.Join(parts, nil))

	assert.Len(t, Split(data, 10), 1)
	assert.Len(t, Split(nil, 10), 1)
	assert.Panics(t, func() { Split(data, 0) })
}

func TestZip_ManifestFirst(t *testing.T) {
	a := item("A", "FV/1")
	b := item("B", "FV/2")
	b.Unlisted = true

	data, err := Zip([]InvoiceItem{a, b}, []model.InvoiceMetadata{item("C", "FV/3").Metadata})
	require.NoError(t, err)

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, r.File, 3)
	assert.Equal(t, ManifestName, r.File[0].Name)
	assert.Equal(t, "A.xml", r.File[1].Name)
	assert.Equal(t, "B.xml", r.File[2].Name)
}

func TestManifest(t *testing.T) {
	m := item("A", "FV/1").Metadata
	m.BuyerTaxID = "5213017228"

	assert.JSONEq(t, `{"invoices":[{
		"ksefNumber":"A","invoiceNumber":"FV/1","issueDate":"2025-08-26",
		"seller":{"nip":"5265877635"},
		"buyer":{"identifier":{"type":"Nip","value":"5213017228"}},
		"grossAmount":123.00,"currency":"PLN","permanentStorageDate":"2025-08-26T10:00:00Z"
	}]}`, string(Manifest([]model.InvoiceMetadata{m})))
}

func TestBuild_EncryptedParts(t *testing.T) {
	key, err := aes.GenerateRandom256BitsKey()
	require.NoError(t, err)
	iv, err := aes.GenerateRandom16BytesIv()
	require.NoError(t, err)

	res, err := Build(BatchConfig{MaxPartSize: 64}, []InvoiceItem{item("A", "FV/1"), item("B", "FV/2")}, key, iv)
	require.NoError(t, err)
	require.Greater(t, len(res.Parts), 1)

	var joined []byte
	for i, p := range res.Parts {
		assert.Equal(t, i+1, p.OrdinalNumber)
		assert.LessOrEqual(t, len(p.Data), 64)
		assert.Equal(t, digest.SHA256Base64(p.Data), p.Hash)
		joined = append(joined, p.Data...)
	}
	assert.Len(t, joined, res.Encrypted)

	plain, err := aes.DecryptBytesAESCBCPKCS5(joined, key, iv)
	require.NoError(t, err)
	assert.Len(t, plain, res.ZipSize)
	assert.Equal(t, res.ZipSHA256, digest.SHA256Base64(plain))
}

func TestBuild_Empty(t *testing.T) {
	_, err := Build(BatchConfig{}, nil, make([]byte, 32), make([]byte, 16))
	assert.Error(t, err)
}
