package unpack

import (
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ParseMetadata czyta manifest {"invoices":[...]}. Brak wymaganego pola albo zły typ to ParseError.
func ParseMetadata(data []byte) ([]model.InvoiceMetadata, error) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, ksef.NewParseError(ManifestName, errors.New("manifest is not a JSON object"))
	}

	var (
		out  []model.InvoiceMetadata
		seen bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "invoices" {
			return d.Skip()
		}
		seen = true
		i := 0
		return d.Arr(func(d *jx.Decoder) error {
			m, err := decodeEntry(d)
			if err != nil {
				return errors.Wrapf(err, "invoices[%d]", i)
			}
			out = append(out, m)
			i++
			return nil
		})
	})
	if err != nil {
		return nil, ksef.NewParseError(ManifestName, err)
	}
	if !seen {
		return nil, ksef.NewParseError(ManifestName, errors.New(`missing required field "invoices"`))
	}
	return out, nil
}

func decodeEntry(d *jx.Decoder) (model.InvoiceMetadata, error) {
	var (
		m    model.InvoiceMetadata
		have = map[string]bool{}
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "ksefNumber":
			m.GatewayNumber, err = d.Str()
		case "invoiceNumber":
			m.InvoiceNumber, err = d.Str()
		case "issueDate":
			m.IssueDate, err = decodeDate(d)
		case "seller":
			m.SellerTaxID, err = decodeSeller(d)
		case "buyer":
			if d.Next() == jx.Null {
				return d.Null()
			}
			m.BuyerTaxID, err = decodeBuyer(d)
		case "grossAmount":
			m.TotalGross, err = decodeAmount(d)
		case "currency":
			m.Currency, err = d.Str()
		case "permanentStorageDate":
			m.PermanentStorageDate, err = decodeTimestamp(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		have[key] = true
		return nil
	})
	if err != nil {
		return m, err
	}

	for _, f := range []string{"ksefNumber", "invoiceNumber", "issueDate", "seller", "grossAmount", "currency", "permanentStorageDate"} {
		if !have[f] {
			return m, errors.Errorf("missing required field %q", f)
		}
	}
	m.SellerTaxID = ksef.NormalizeTaxID(m.SellerTaxID)
	m.BuyerTaxID = ksef.NormalizeTaxID(m.BuyerTaxID)
	return m, nil
}

func decodeSeller(d *jx.Decoder) (string, error) {
	var nip string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "nip" {
			return d.Skip()
		}
		v, err := d.Str()
		nip = v
		return err
	})
	if err == nil && nip == "" {
		err = errors.New(`missing required field "nip"`)
	}
	return nip, err
}

func decodeBuyer(d *jx.Decoder) (string, error) {
	var value string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "identifier" {
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "value" {
				return d.Skip()
			}
			v, err := d.Str()
			value = v
			return err
		})
	})
	return value, err
}

// decodeAmount przyjmuje liczbę JSON albo liczbę zapisaną jako string.
func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, errors.Errorf("unexpected %s", d.Next())
	}
	return decimal.NewFromString(raw)
}

func decodeDate(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	if len(s) > len("2006-01-02") {
		return time.Parse(time.RFC3339Nano, s)
	}
	return time.Parse("2006-01-02", s)
}

func decodeTimestamp(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
