package unpack

import (
	"strings"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ParseInvoice odczytuje z XML faktury pola potrzebne do dopasowania z manifestem.
func ParseInvoice(name string, data []byte) (model.ParsedInvoice, error) {
	var out model.ParsedInvoice

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return out, ksef.NewParseError(name, errors.Wrap(err, "parse XML"))
	}
	root := doc.Root()
	if root == nil || root.Tag != "Faktura" {
		return out, ksef.NewParseError(name, errors.New("root element is not Faktura"))
	}

	fa := root.SelectElement("Fa")
	if fa == nil {
		return out, ksef.NewParseError(name, errors.New("missing Fa element"))
	}
	out.InvoiceNumber = childText(fa, "P_2")
	if out.InvoiceNumber == "" {
		return out, ksef.NewParseError(name, errors.New("missing invoice number (P_2)"))
	}

	if s := childText(fa, "P_1"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return out, ksef.NewParseError(name, errors.Wrap(err, "P_1"))
		}
		out.IssueDate = t
	}
	if s := childText(fa, "P_15"); s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return out, ksef.NewParseError(name, errors.Wrap(err, "P_15"))
		}
		out.TotalGross = v
	}
	out.Currency = childText(fa, "KodWaluty")
	out.Items = len(fa.SelectElements("FaWiersz"))

	if id := root.FindElement("Podmiot1/DaneIdentyfikacyjne"); id != nil {
		out.SellerTaxID = ksef.NormalizeTaxID(childText(id, "NIP"))
		out.SellerName = childText(id, "Nazwa")
	}
	if id := root.FindElement("Podmiot2/DaneIdentyfikacyjne"); id != nil {
		for _, tag := range []string{"NIP", "NrVatUE", "NrID"} {
			if v := childText(id, tag); v != "" {
				out.BuyerTaxID = ksef.NormalizeTaxID(v)
				break
			}
		}
		out.BuyerName = childText(id, "Nazwa")
	}
	return out, nil
}

func childText(el *etree.Element, tag string) string {
	c := el.SelectElement(tag)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}
