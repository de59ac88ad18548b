package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitExport(t *testing.T) {
	g := newFakeGateway()
	g.handle("POST /v2/invoices/exports", http.StatusAccepted, `{"referenceNumber":"EXP-1"}`)
	c := newTestClient(t, g)
	require.NoError(t, c.InitSession("token"))

	ref, err := c.InitExport(context.Background(), ExportRequest{
		From:                  time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		To:                    time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC),
		EncryptedSymmetricKey: "a2V5",
		InitializationVector:  "aXY=",
	})
	require.NoError(t, err)
	assert.Equal(t, "EXP-1", ref)

	calls := g.Calls()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{
		"encryption":{"encryptedSymmetricKey":"a2V5","initializationVector":"aXY="},
		"filters":{"subjectType":"Subject2","dateRange":{"dateType":"PermanentStorage","from":"2025-08-01T00:00:00Z","to":"2025-08-31T00:00:00Z"}}
	}`, calls[0].Body)
}

func TestGetExportStatus(t *testing.T) {
	g := newFakeGateway()
	g.handle("GET /v2/invoices/exports/EXP-1", http.StatusOK, `{
		"status":{"code":200,"description":"Eksport zakończony"},
		"completedDate":"2025-08-26T12:00:00Z",
		"package":{
			"invoiceCount":3,"size":2048,"isTruncated":true,
			"lastPermanentStorageDate":"2025-08-25T10:00:00Z",
			"parts":[
				{"ordinalNumber":1,"partName":"p1","method":"GET","url":"https://x/1","partSize":10,"partHash":"h1","encryptedPartSize":16,"encryptedPartHash":"e1","expirationDate":"2025-08-27T00:00:00Z"},
				{"ordinalNumber":2,"partName":"p2","method":"GET","url":"https://x/2"}
			]
		}
	}`)
	g.handle("GET /v2/invoices/exports/EXP-2", http.StatusOK, `{"status":{"code":100,"description":"W trakcie"}}`)
	c := newTestClient(t, g)
	require.NoError(t, c.InitSession("token"))

	st, err := c.GetExportStatus(context.Background(), "EXP-1")
	require.NoError(t, err)
	assert.True(t, st.Ready())
	require.NotNil(t, st.Package)
	assert.Equal(t, 3, st.Package.InvoiceCount)
	assert.True(t, st.Package.IsTruncated)
	assert.True(t, st.Package.LastPermanentStorageDate.Equal(time.Date(2025, 8, 25, 10, 0, 0, 0, time.UTC)))
	require.Len(t, st.Package.Parts, 2)
	assert.Equal(t, 1, st.Package.Parts[0].OrdinalNumber)
	assert.Equal(t, "e1", st.Package.Parts[0].EncryptedPartHash)
	assert.Equal(t, "https://x/2", st.Package.Parts[1].URL)

	st, err = c.GetExportStatus(context.Background(), "EXP-2")
	require.NoError(t, err)
	assert.True(t, st.Pending())
	assert.Nil(t, st.Package)
}

func TestGetExportStatus_PartWithoutURL(t *testing.T) {
	g := newFakeGateway()
	g.handle("GET /v2/invoices/exports/EXP-3", http.StatusOK,
		`{"status":{"code":200},"package":{"parts":[{"ordinalNumber":1}]}}`)
	c := newTestClient(t, g)
	require.NoError(t, c.InitSession("token"))

	_, err := c.GetExportStatus(context.Background(), "EXP-3")
	var perr *ksef.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestGetExportStatus_NullPackageFields(t *testing.T) {
	g := newFakeGateway()
	g.handle("GET /v2/invoices/exports/EXP-4", http.StatusOK,
		`{"status":{"code":200},"package":{"invoiceCount":0,"size":null,"isTruncated":null,"lastPermanentStorageDate":null,"parts":null}}`)
	c := newTestClient(t, g)
	require.NoError(t, c.InitSession("token"))

	st, err := c.GetExportStatus(context.Background(), "EXP-4")
	require.NoError(t, err)
	assert.True(t, st.Ready())
	require.NotNil(t, st.Package)
	assert.Empty(t, st.Package.Parts)
	assert.False(t, st.Package.IsTruncated)
	assert.True(t, st.Package.LastPermanentStorageDate.IsZero())
}

func TestDownloadPart(t *testing.T) {
	g := newFakeGateway()
	g.mux.HandleFunc("GET /storage/part-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "cipher")
	})
	c := newTestClient(t, g)

	part := PackagePart{OrdinalNumber: 1, URL: strings.TrimSuffix(c.cfg.BaseURL, "/v2") + "/storage/part-1"}
	_, err := c.DownloadPart(context.Background(), part)
	gerr, ok := ksef.AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, ksef.KindSession, gerr.Kind)

	require.NoError(t, c.InitSession("token"))
	data, err := c.DownloadPart(context.Background(), part)
	require.NoError(t, err)
	assert.Equal(t, "cipher", string(data))

	calls := g.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Auth, "pre-signed URL must not carry the bearer token")
}

func TestGetPublicKeyCertificates(t *testing.T) {
	g := newFakeGateway()
	g.handle("GET /v2/security/public-key-certificates", http.StatusOK, `[
		{"certificate":"MIIB","validFrom":"2025-01-01T00:00:00Z","validTo":"2027-01-01T00:00:00Z","usage":["SymmetricKeyEncryption"]},
		{"certificate":"MIIC","validFrom":"2025-01-01T00:00:00Z","validTo":"2027-01-01T00:00:00Z","usage":["KsefTokenEncryption"]}
	]`)
	c := newTestClient(t, g)

	certs, err := c.GetPublicKeyCertificates(context.Background())
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.True(t, certs[0].HasUsage(UsageSymmetricKeyEncryption))
	assert.False(t, certs[1].HasUsage(UsageSymmetricKeyEncryption))
	assert.Empty(t, g.Calls()[0].Auth)
}
