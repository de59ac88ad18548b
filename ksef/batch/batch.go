// Package batch buduje paczkę w formacie eksportu KSeF: ZIP z plikami XML i manifestem
// _metadata.json, szyfrowany AES-256-CBC i dzielony na części. Odwrotność pakietu unpack.
package batch

import (
	"bytes"
	"fmt"
	"time"

	"github.com/alapierre/ksef-gateway/ksef/aes"
	"github.com/alapierre/ksef-gateway/ksef/digest"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "ksef.batch")

const (
	ManifestName = "_metadata.json"

	// DefaultMaxPartSize maksymalny rozmiar części po zaszyfrowaniu.
	DefaultMaxPartSize = 100 * 1024 * 1024
)

// InvoiceItem jedna faktura paczki. FileName domyślnie "{GatewayNumber}.xml".
// Item z Unlisted=true trafia do ZIP, ale nie do manifestu.
type InvoiceItem struct {
	Metadata model.InvoiceMetadata
	FileName string
	XML      []byte
	Unlisted bool
}

func (i InvoiceItem) name() string {
	if i.FileName != "" {
		return i.FileName
	}
	return i.Metadata.GatewayNumber + ".xml"
}

// BatchConfig parametry budowy paczki.
type BatchConfig struct {
	// MaxPartSize limit części zaszyfrowanej; 0 oznacza DefaultMaxPartSize.
	MaxPartSize int

	// Missing wpisy tylko w manifeście, bez pliku XML.
	Missing []model.InvoiceMetadata
}

// Part jedna zaszyfrowana część paczki.
type Part struct {
	OrdinalNumber int
	Data          []byte
	// Hash SHA-256 części w base64.
	Hash string
}

// BatchResult zawiera zaszyfrowane części w kolejności oraz skrót całego ZIP przed szyfrowaniem.
type BatchResult struct {
	Parts     []Part
	ZipSize   int
	ZipSHA256 string
	Encrypted int
	Invoices  int
}

// Build pakuje faktury, szyfruje cały ZIP kluczem i IV z EncryptionMaterial i dzieli szyfrogram na części.
func Build(cfg BatchConfig, items []InvoiceItem, key, iv []byte) (*BatchResult, error) {
	if cfg.MaxPartSize <= 0 {
		cfg.MaxPartSize = DefaultMaxPartSize
	}
	if len(items) == 0 && len(cfg.Missing) == 0 {
		return nil, errors.New("no invoices to pack")
	}

	plain, err := Zip(items, cfg.Missing)
	if err != nil {
		return nil, err
	}

	enc, err := aes.EncryptBytesWithAES256CBCPKCS7(plain, key, iv)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt package")
	}

	res := &BatchResult{
		ZipSize:   len(plain),
		ZipSHA256: digest.SHA256Base64(plain),
		Encrypted: len(enc),
		Invoices:  len(items),
	}
	for i, chunk := range Split(enc, cfg.MaxPartSize) {
		res.Parts = append(res.Parts, Part{
			OrdinalNumber: i + 1,
			Data:          chunk,
			Hash:          digest.SHA256Base64(chunk),
		})
	}

	logger.WithFields(logrus.Fields{
		"invoices": len(items),
		"zip_size": len(plain),
		"parts":    len(res.Parts),
	}).Debug("Package built")
	return res, nil
}

// Zip tworzy archiwum z manifestem na początku i plikami XML w kolejności items.
func Zip(items []InvoiceItem, missing []model.InvoiceMetadata) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	listed := make([]model.InvoiceMetadata, 0, len(items)+len(missing))
	for _, it := range items {
		if !it.Unlisted {
			listed = append(listed, it.Metadata)
		}
	}
	listed = append(listed, missing...)

	if err := writeEntry(zw, ManifestName, Manifest(listed)); err != nil {
		return nil, err
	}
	for _, it := range items {
		if err := writeEntry(zw, it.name(), it.XML); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close zip writer")
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "create zip entry for %q", name)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "write zip entry for %q", name)
	}
	return nil
}

// Manifest serializuje wpisy do formatu _metadata.json.
func Manifest(entries []model.InvoiceMetadata) []byte {
	var e jx.Encoder
	e.SetIdent(2)
	e.Obj(func(e *jx.Encoder) {
		e.Field("invoices", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, m := range entries {
					manifestEntry(e, m)
				}
			})
		})
	})
	return e.Bytes()
}

func manifestEntry(e *jx.Encoder, m model.InvoiceMetadata) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("ksefNumber", func(e *jx.Encoder) { e.Str(m.GatewayNumber) })
		e.Field("invoiceNumber", func(e *jx.Encoder) { e.Str(m.InvoiceNumber) })
		e.Field("issueDate", func(e *jx.Encoder) { e.Str(m.IssueDate.Format("2006-01-02")) })
		e.Field("seller", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("nip", func(e *jx.Encoder) { e.Str(m.SellerTaxID) })
			})
		})
		if m.BuyerTaxID != "" {
			e.Field("buyer", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("identifier", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("type", func(e *jx.Encoder) { e.Str("Nip") })
							e.Field("value", func(e *jx.Encoder) { e.Str(m.BuyerTaxID) })
						})
					})
				})
			})
		}
		e.Field("grossAmount", func(e *jx.Encoder) { e.Num(jx.Num(m.TotalGross.StringFixed(2))) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(m.Currency) })
		e.Field("permanentStorageDate", func(e *jx.Encoder) {
			e.Str(m.PermanentStorageDate.UTC().Format(time.RFC3339Nano))
		})
	})
}

// Split tnie dane na kawałki o rozmiarze co najwyżej size, bez kopiowania.
func Split(data []byte, size int) [][]byte {
	if size <= 0 {
		panic(fmt.Sprintf("batch: invalid part size %d", size))
	}
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size:size])
		data = data[size:]
	}
	return append(out, data)
}
