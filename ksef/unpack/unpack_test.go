package unpack

import (
	"fmt"
	"testing"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/batch"
	"github.com/alapierre/ksef-gateway/ksef/fa"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/alapierre/ksef-gateway/ksef/number"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sellerNip = "5265877635"

func gatewayNumber(i int) string {
	prefix := fmt.Sprintf("%s-20250826-%012X", sellerNip, 0x0100001AF629+i)
	return prefix + "-" + number.Checksum(prefix)
}

func invoiceXML(invoiceNumber string) []byte {
	enc := fa.NewEncoder(fa.WithClock(clockwork.NewFakeClockAt(time.Date(2025, 8, 26, 9, 0, 0, 0, time.UTC))))
	inv := model.Invoice{
		Number:    invoiceNumber,
		IssueDate: time.Date(2025, 8, 26, 0, 0, 0, 0, time.UTC),
		Items: []model.LineItem{
			{Name: "Towar", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("100"), VatRate: "23"},
		},
	}
	return enc.Encode(inv, model.Party{TaxID: sellerNip, Name: "Sprzedawca"}, model.Party{TaxID: "5213017228", Name: "Nabywca"})
}

func packageItem(i int) batch.InvoiceItem {
	no := fmt.Sprintf("FV/2025/08/%03d", i)
	return batch.InvoiceItem{
		Metadata: model.InvoiceMetadata{
			GatewayNumber:        gatewayNumber(i),
			InvoiceNumber:        no,
			IssueDate:            time.Date(2025, 8, 26, 0, 0, 0, 0, time.UTC),
			SellerTaxID:          sellerNip,
			BuyerTaxID:           "5213017228",
			TotalGross:           decimal.RequireFromString("123.00"),
			Currency:             "PLN",
			PermanentStorageDate: time.Date(2025, 8, 26, 10, i, 0, 0, time.UTC),
		},
		XML: invoiceXML(no),
	}
}

func unzipItems(t *testing.T, items []batch.InvoiceItem, missing ...model.InvoiceMetadata) map[string][]byte {
	t.Helper()
	data, err := batch.Zip(items, missing)
	require.NoError(t, err)
	files, err := Unzip(data)
	require.NoError(t, err)
	return files
}

func TestUnzip(t *testing.T) {
	files := unzipItems(t, []batch.InvoiceItem{packageItem(1)})
	assert.Contains(t, files, ManifestName)
	assert.Contains(t, files, gatewayNumber(1)+".xml")

	_, err := Unzip([]byte("definitely not a zip"))
	var perr *ksef.ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestParseMetadata(t *testing.T) {
	entries, err := ParseMetadata([]byte(`{"invoices":[
		{"ksefNumber":"N1","invoiceNumber":"FV/1","issueDate":"2025-08-26","seller":{"nip":"526-587-76-35","name":"S"},
		 "buyer":{"identifier":{"type":"Nip","value":"5213017228"}},"grossAmount":"1230.50","currency":"PLN",
		 "permanentStorageDate":"2025-08-26T10:00:00.5+02:00","invoiceType":"Vat"},
		{"ksefNumber":"N2","invoiceNumber":"FV/2","issueDate":"2025-08-27","seller":{"nip":"5265877635"},"buyer":null,
		 "grossAmount":99.9,"currency":"EUR","permanentStorageDate":"2025-08-27T10:00:00Z"}
	],"hasMore":false}`))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "5265877635", entries[0].SellerTaxID)
	assert.Equal(t, "5213017228", entries[0].BuyerTaxID)
	assert.Equal(t, "1230.5", entries[0].TotalGross.String())
	assert.True(t, entries[0].PermanentStorageDate.Equal(time.Date(2025, 8, 26, 8, 0, 0, 500_000_000, time.UTC)))
	assert.Empty(t, entries[1].BuyerTaxID)
	assert.Equal(t, "99.9", entries[1].TotalGross.String())
}

func TestParseMetadata_Invalid(t *testing.T) {
	tests := map[string]string{
		"not object":       `[]`,
		"no invoices":      `{"hasMore":false}`,
		"missing required": `{"invoices":[{"ksefNumber":"N1","invoiceNumber":"FV/1"}]}`,
		"wrong type":       `{"invoices":[{"ksefNumber":1}]}`,
		"bad date":         `{"invoices":[{"ksefNumber":"N","invoiceNumber":"F","issueDate":"26.08.2025"}]}`,
		"truncated":        `{"invoices":[`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMetadata([]byte(body))
			var perr *ksef.ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, ManifestName, perr.File)
		})
	}
}

func TestParseInvoice(t *testing.T) {
	p, err := ParseInvoice("a.xml", invoiceXML("FV/2025/08/001"))
	require.NoError(t, err)
	assert.Equal(t, "FV/2025/08/001", p.InvoiceNumber)
	assert.Equal(t, sellerNip, p.SellerTaxID)
	assert.Equal(t, "5213017228", p.BuyerTaxID)
	assert.Equal(t, "123.00", p.TotalGross.StringFixed(2))
	assert.Equal(t, 1, p.Items)

	for name, body := range map[string]string{
		"malformed": `<Faktura><Fa>`,
		"wrong root": `<Invoice/>`,
		"no number":  `<Faktura><Fa><P_1>2025-08-26</P_1></Fa></Faktura>`,
		"bad amount": `<Faktura><Fa><P_2>X</P_2><P_15>abc</P_15></Fa></Faktura>`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInvoice("bad.xml", []byte(body))
			var perr *ksef.ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "bad.xml", perr.File)
		})
	}
}

func TestAssemble_MissingXML(t *testing.T) {
	files := unzipItems(t, []batch.InvoiceItem{packageItem(1), packageItem(2)}, packageItem(3).Metadata)

	pkg, err := Assemble(files)
	require.NoError(t, err)
	require.Len(t, pkg.Invoices, 2)
	require.Len(t, pkg.Missing, 1)
	assert.Equal(t, gatewayNumber(3), pkg.Missing[0].GatewayNumber)
	assert.Empty(t, pkg.Unlisted)
	assert.Empty(t, pkg.Failed)
}

func TestAssemble_MatchByInvoiceNumberAndConflicts(t *testing.T) {
	a := packageItem(1)
	a.FileName = "faktura-a.xml"
	a.Metadata.TotalGross = decimal.RequireFromString("999.99")

	extra := packageItem(5)
	extra.Unlisted = true

	broken := packageItem(6)
	broken.Unlisted = true
	broken.XML = []byte("<Faktura>")

	pkg, err := Assemble(unzipItems(t, []batch.InvoiceItem{a, extra, broken}))
	require.NoError(t, err)

	require.Len(t, pkg.Invoices, 1)
	got := pkg.Invoices[0]
	assert.Equal(t, "faktura-a.xml", got.FileName)
	assert.Equal(t, gatewayNumber(1), got.GatewayNumber())
	assert.Equal(t, "999.99", got.Metadata.TotalGross.String(), "manifest wins")
	assert.Equal(t, "123.00", got.Parsed.TotalGross.StringFixed(2))

	assert.Equal(t, []string{gatewayNumber(5) + ".xml"}, pkg.Unlisted)
	require.Len(t, pkg.Failed, 1)
	assert.Equal(t, gatewayNumber(6)+".xml", pkg.Failed[0].File)
}

func TestAssemble_NoManifest(t *testing.T) {
	_, err := Assemble(map[string][]byte{"a.xml": invoiceXML("FV/1")})
	var perr *ksef.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ManifestName, perr.File)
}

func TestDedupe(t *testing.T) {
	type inv struct{ no, tag string }
	key := func(i inv) string { return i.no }

	in := []inv{{"A", "1"}, {"B", "1"}, {"A", "2"}, {"C", "1"}}
	out := Dedupe(in, key)
	assert.Equal(t, []inv{{"A", "1"}, {"B", "1"}, {"C", "1"}}, out)

	assert.Equal(t, out, Dedupe(out, key), "idempotent")
	assert.Len(t, in, 4, "input untouched")
}
