package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/go-faster/jx"
	"github.com/sirupsen/logrus"
)

type DateType string

const (
	DateTypeIssue            DateType = "Issue"
	DateTypeInvoicing        DateType = "Invoicing"
	DateTypePermanentStorage DateType = "PermanentStorage"
)

type SubjectType string

const (
	SubjectSeller SubjectType = "Subject1"
	SubjectBuyer  SubjectType = "Subject2"
)

// ExportRequest zlecenie eksportu paczki faktur. Klucz AES jest opakowany kluczem publicznym bramki.
type ExportRequest struct {
	SubjectType           SubjectType
	DateType              DateType
	From                  time.Time
	To                    time.Time
	EncryptedSymmetricKey string
	InitializationVector  string
}

// PackagePart jedna część zaszyfrowanej paczki. Części muszą być sklejane w kolejności OrdinalNumber
// zwróconej przez bramkę.
type PackagePart struct {
	OrdinalNumber     int
	PartName          string
	Method            string
	URL               string
	PartSize          int64
	PartHash          string
	EncryptedPartSize int64
	EncryptedPartHash string
	ExpirationDate    time.Time
}

type Package struct {
	InvoiceCount             int
	Size                     int64
	Parts                    []PackagePart
	IsTruncated              bool
	LastPermanentStorageDate time.Time
}

// ExportStatus status eksportu. Package jest nil dopóki bramka nie zakończy przygotowania paczki.
type ExportStatus struct {
	Code        int
	Description string
	Package     *Package
}

const (
	ExportCodeInProgress = 100
	ExportCodeReady      = 200
)

func (s *ExportStatus) Ready() bool {
	return s.Code == ExportCodeReady && s.Package != nil
}

func (s *ExportStatus) Pending() bool {
	return s.Code == ExportCodeInProgress
}

// InitExport zleca przygotowanie paczki faktur z przedziału dat.
func (c *Client) InitExport(ctx context.Context, r ExportRequest) (string, error) {
	if err := c.requireSession(); err != nil {
		return "", err
	}
	if r.SubjectType == "" {
		r.SubjectType = SubjectBuyer
	}
	if r.DateType == "" {
		r.DateType = DateTypePermanentStorage
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("encryption", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("encryptedSymmetricKey", func(e *jx.Encoder) { e.Str(r.EncryptedSymmetricKey) })
				e.Field("initializationVector", func(e *jx.Encoder) { e.Str(r.InitializationVector) })
			})
		})
		e.Field("filters", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("subjectType", func(e *jx.Encoder) { e.Str(string(r.SubjectType)) })
				e.Field("dateRange", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("dateType", func(e *jx.Encoder) { e.Str(string(r.DateType)) })
						e.Field("from", func(e *jx.Encoder) { e.Str(r.From.UTC().Format(time.RFC3339Nano)) })
						if !r.To.IsZero() {
							e.Field("to", func(e *jx.Encoder) { e.Str(r.To.UTC().Format(time.RFC3339Nano)) })
						}
					})
				})
			})
		})
	})

	res, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/invoices/exports",
		contentType: contentTypeJSON,
		body:        e.Bytes(),
		auth:        true,
	})
	if err != nil {
		return "", err
	}

	var ref string
	req := newRequired("referenceNumber")
	err = decodeObject("init export", res.body, func(d *jx.Decoder, key string) error {
		if key != "referenceNumber" {
			return d.Skip()
		}
		req.mark(key)
		v, err := d.Str()
		ref = v
		return err
	})
	if err != nil {
		return "", err
	}
	if err := req.check(); err != nil {
		return "", ksef.NewParseError("init export", err)
	}

	logger.WithFields(logrus.Fields{
		"reference": ref,
		"from":      r.From,
		"to":        r.To,
	}).Debug("Export requested")
	return ref, nil
}

func (c *Client) GetExportStatus(ctx context.Context, referenceNumber string) (*ExportStatus, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/invoices/exports/" + url.PathEscape(referenceNumber),
		auth:   true,
	})
	if err != nil {
		return nil, err
	}

	out := &ExportStatus{}
	req := newRequired("status")
	err = decodeObject("export status", res.body, func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			req.mark(key)
			return d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "code":
					out.Code, err = d.Int()
				case "description":
					out.Description, err = decodeOptStr(d)
				default:
					err = d.Skip()
				}
				return err
			})
		case "package":
			if d.Next() == jx.Null {
				return d.Null()
			}
			p, err := decodePackage(d)
			out.Package = p
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if err := req.check(); err != nil {
		return nil, ksef.NewParseError("export status", err)
	}
	return out, nil
}

func decodePackage(d *jx.Decoder) (*Package, error) {
	p := &Package{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		// wszystkie pola paczki są opcjonalne, null traktujemy jak brak pola
		if d.Next() == jx.Null {
			return d.Null()
		}
		var err error
		switch key {
		case "invoiceCount":
			p.InvoiceCount, err = d.Int()
		case "size":
			p.Size, err = d.Int64()
		case "isTruncated":
			p.IsTruncated, err = d.Bool()
		case "lastPermanentStorageDate":
			p.LastPermanentStorageDate, err = decodeTime(d)
		case "parts":
			err = d.Arr(func(d *jx.Decoder) error {
				part, err := decodePart(d)
				if err != nil {
					return err
				}
				p.Parts = append(p.Parts, part)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	return p, err
}

func decodePart(d *jx.Decoder) (PackagePart, error) {
	var part PackagePart
	req := newRequired("ordinalNumber", "url")
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "ordinalNumber":
			req.mark(key)
			part.OrdinalNumber, err = d.Int()
		case "partName":
			part.PartName, err = decodeOptStr(d)
		case "method":
			part.Method, err = decodeOptStr(d)
		case "url":
			req.mark(key)
			part.URL, err = d.Str()
		case "partSize":
			part.PartSize, err = d.Int64()
		case "partHash":
			part.PartHash, err = decodeOptStr(d)
		case "encryptedPartSize":
			part.EncryptedPartSize, err = d.Int64()
		case "encryptedPartHash":
			part.EncryptedPartHash, err = decodeOptStr(d)
		case "expirationDate":
			if d.Next() == jx.Null {
				return d.Null()
			}
			part.ExpirationDate, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return part, err
	}
	if err := req.check(); err != nil {
		return part, err
	}
	return part, nil
}

// DownloadPart pobiera zaszyfrowaną część paczki. URL jest już podpisany przez bramkę,
// więc żądanie idzie bez nagłówka Bearer, ale nadal wymaga aktywnej sesji klienta.
func (c *Client) DownloadPart(ctx context.Context, part PackagePart) ([]byte, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	method := part.Method
	if method == "" {
		method = http.MethodGet
	}

	res, err := c.do(ctx, request{
		method: method,
		rawURL: part.URL,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"part": part.OrdinalNumber,
		"size": len(res.body),
	}).Debug("Package part downloaded")
	return res.body, nil
}

type PublicKeyCertificate struct {
	Certificate string
	ValidFrom   time.Time
	ValidTo     time.Time
	Usage       []string
}

const (
	UsageKsefTokenEncryption    = "KsefTokenEncryption"
	UsageSymmetricKeyEncryption = "SymmetricKeyEncryption"
)

func (p PublicKeyCertificate) HasUsage(usage string) bool {
	for _, u := range p.Usage {
		if u == usage {
			return true
		}
	}
	return false
}

// GetPublicKeyCertificates endpoint publiczny, nie wymaga sesji.
func (c *Client) GetPublicKeyCertificates(ctx context.Context) ([]PublicKeyCertificate, error) {
	res, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/security/public-key-certificates",
	})
	if err != nil {
		return nil, err
	}

	var out []PublicKeyCertificate
	d := jx.DecodeBytes(res.body)
	err = d.Arr(func(d *jx.Decoder) error {
		var cert PublicKeyCertificate
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "certificate":
				cert.Certificate, err = d.Str()
			case "validFrom":
				cert.ValidFrom, err = decodeTime(d)
			case "validTo":
				cert.ValidTo, err = decodeTime(d)
			case "usage":
				err = d.Arr(func(d *jx.Decoder) error {
					u, err := d.Str()
					cert.Usage = append(cert.Usage, u)
					return err
				})
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		out = append(out, cert)
		return nil
	})
	if err != nil {
		return nil, ksef.NewParseError("public key certificates", err)
	}
	return out, nil
}
