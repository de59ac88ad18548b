package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sirupsen/logrus"
)

type FormCode struct {
	SystemCode    string
	SchemaVersion string
	Value         string
}

var DefaultFormCode = FormCode{
	SystemCode:    "FA (3)",
	SchemaVersion: "1-0E",
	Value:         "FA",
}

// SubmissionResult wynik zamknięcia sesji interaktywnej. Upo jest puste, gdy bramka
// jeszcze go nie wystawiła, co nie jest błędem.
type SubmissionResult struct {
	SessionReferenceNumber string
	ElementReferenceNumber string
	ProcessingCode         int
	ProcessingDescription  string
	Timestamp              time.Time
	Upo                    string
}

func (r *SubmissionResult) HasUpo() bool {
	return r.Upo != ""
}

// SubmitState stan trzykrokowego protokołu wysyłki: Opened → Uploaded → Closed.
type SubmitState int

const (
	NotOpened SubmitState = iota
	Opened
	Uploaded
	Closed
)

func (s SubmitState) String() string {
	switch s {
	case Opened:
		return "opened"
	case Uploaded:
		return "uploaded"
	case Closed:
		return "closed"
	default:
		return "not-opened"
	}
}

// SubmitError błąd jednego z kroków wysyłki. Reached to ostatni osiągnięty stan,
// Err to zawsze *ksef.GatewayError lub *ksef.ParseError.
type SubmitError struct {
	Reached                SubmitState
	SessionReferenceNumber string
	Err                    error
}

func (e *SubmitError) Error() string {
	return "submit invoice (state " + e.Reached.String() + "): " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Abandoned true gdy po stronie bramki została otwarta i niezamknięta sesja interaktywna.
func (e *SubmitError) Abandoned() bool {
	return e.Reached == Opened || e.Reached == Uploaded
}

// OutcomeUnknown true gdy faktura mogła zostać przyjęta: upload się powiódł, wysłany upload
// nie doczekał się odpowiedzi albo odpowiedź 2xx była nieczytelna. Przed ponowną wysyłką trzeba sprawdzić status.
func (e *SubmitError) OutcomeUnknown() bool {
	if e.Reached >= Uploaded {
		return true
	}
	if e.Reached != Opened {
		return false
	}
	var perr *ksef.ParseError
	if errors.As(e.Err, &perr) {
		return true
	}
	gerr, ok := ksef.AsGatewayError(e.Err)
	return ok && gerr.HTTPStatus == 0
}

// SubmitInvoice otwiera sesję interaktywną, wysyła XML i zamyka sesję. Przerywa na pierwszym
// błędzie i nie sprząta otwartej sesji; taki przypadek jest logowany jako porzucona sesja.
func (c *Client) SubmitInvoice(ctx context.Context, invoiceXML []byte) (*SubmissionResult, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	state := NotOpened
	ref := ""
	fail := func(err error) (*SubmissionResult, error) {
		serr := &SubmitError{Reached: state, SessionReferenceNumber: ref, Err: err}
		if serr.Abandoned() {
			logger.WithFields(logrus.Fields{
				"session_reference": ref,
				"state":             state.String(),
				"outcome_unknown":   serr.OutcomeUnknown(),
			}).WithError(err).Warn("Interactive session abandoned without close")
		}
		return nil, serr
	}

	ref, err := c.openInteractiveSession(ctx)
	if err != nil {
		return fail(err)
	}
	state = Opened

	element, err := c.uploadInvoice(ctx, ref, invoiceXML)
	if err != nil {
		return fail(err)
	}
	state = Uploaded

	res, err := c.closeInteractiveSession(ctx, ref)
	if err != nil {
		return fail(err)
	}
	state = Closed

	if res.ElementReferenceNumber == "" {
		res.ElementReferenceNumber = element
	}
	if res.ElementReferenceNumber == "" {
		return fail(ksef.NewParseError("close", errors.New("no element reference number in response")))
	}

	logger.WithFields(logrus.Fields{
		"session_reference": ref,
		"element_reference": res.ElementReferenceNumber,
		"processing_code":   res.ProcessingCode,
	}).Info("Invoice submitted")

	return res, nil
}

func (c *Client) openInteractiveSession(ctx context.Context) (string, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("formCode", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("systemCode", func(e *jx.Encoder) { e.Str(c.form.SystemCode) })
				e.Field("schemaVersion", func(e *jx.Encoder) { e.Str(c.form.SchemaVersion) })
				e.Field("value", func(e *jx.Encoder) { e.Str(c.form.Value) })
			})
		})
	})

	res, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/online/session/interactive",
		contentType: contentTypeJSON,
		body:        e.Bytes(),
		auth:        true,
	})
	if err != nil {
		return "", err
	}

	var ref string
	req := newRequired("referenceNumber")
	err = decodeObject("open session", res.body, func(d *jx.Decoder, key string) error {
		switch key {
		case "referenceNumber":
			req.mark(key)
			v, err := d.Str()
			ref = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", err
	}
	if err := req.check(); err != nil {
		return "", ksef.NewParseError("open session", err)
	}
	logger.WithField("session_reference", ref).Debug("Interactive session opened")
	return ref, nil
}

func (c *Client) uploadInvoice(ctx context.Context, ref string, invoiceXML []byte) (string, error) {
	res, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/online/session/interactive/" + url.PathEscape(ref) + "/invoice",
		contentType: contentTypeXML,
		body:        invoiceXML,
		auth:        true,
	})
	if err != nil {
		return "", err
	}
	if len(res.body) == 0 {
		return "", nil
	}

	var element string
	err = decodeObject("upload invoice", res.body, func(d *jx.Decoder, key string) error {
		switch key {
		case "elementReferenceNumber":
			v, err := decodeOptStr(d)
			element = v
			return err
		default:
			return d.Skip()
		}
	})
	return element, err
}

func (c *Client) closeInteractiveSession(ctx context.Context, ref string) (*SubmissionResult, error) {
	res, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/online/session/interactive/" + url.PathEscape(ref) + "/close",
		auth:   true,
	})
	if err != nil {
		return nil, err
	}

	out := &SubmissionResult{SessionReferenceNumber: ref}
	req := newRequired("processingCode", "timestamp")
	err = decodeObject("close session", res.body, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "elementReferenceNumber":
			out.ElementReferenceNumber, err = decodeOptStr(d)
		case "processingCode":
			req.mark(key)
			out.ProcessingCode, err = d.Int()
		case "processingDescription":
			out.ProcessingDescription, err = decodeOptStr(d)
		case "timestamp":
			req.mark(key)
			out.Timestamp, err = decodeTime(d)
		case "upo":
			out.Upo, err = decodeOptStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := req.check(); err != nil {
		return nil, ksef.NewParseError("close session", err)
	}
	return out, nil
}

// InvoiceStatus status przetwarzania sesji z listą stron UPO (każda jako surowy JSON).
type InvoiceStatus struct {
	ReferenceNumber       string
	ProcessingCode        int
	ProcessingDescription string
	Timestamp             time.Time
	InvoiceCount          int
	UpoPages              []string
}

// CheckInvoiceStatus pojedynczy GET statusu sesji.
func (c *Client) CheckInvoiceStatus(ctx context.Context, referenceNumber string) (*InvoiceStatus, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/online/session/" + url.PathEscape(referenceNumber) + "/status",
		auth:   true,
	})
	if err != nil {
		return nil, err
	}

	out := &InvoiceStatus{}
	req := newRequired("processingCode")
	err = decodeObject("session status", res.body, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "referenceNumber":
			out.ReferenceNumber, err = decodeOptStr(d)
		case "processingCode":
			req.mark(key)
			out.ProcessingCode, err = d.Int()
		case "processingDescription":
			out.ProcessingDescription, err = decodeOptStr(d)
		case "timestamp":
			out.Timestamp, err = decodeTime(d)
		case "invoiceCount":
			out.InvoiceCount, err = d.Int()
		case "upo":
			out.UpoPages, err = decodeUpoPages(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := req.check(); err != nil {
		return nil, ksef.NewParseError("session status", err)
	}
	if out.ReferenceNumber == "" {
		out.ReferenceNumber = referenceNumber
	}
	return out, nil
}

func decodeUpoPages(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var pages []string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "pages" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			pages = append(pages, raw.String())
			return nil
		})
	})
	return pages, err
}

var ErrUpoNotAvailable = errors.New("UPO not available yet")

// GetUpo zwraca pierwszą stronę UPO w postaci zserializowanej.
func (c *Client) GetUpo(ctx context.Context, referenceNumber string) (string, error) {
	st, err := c.CheckInvoiceStatus(ctx, referenceNumber)
	if err != nil {
		return "", err
	}
	if len(st.UpoPages) == 0 {
		return "", errors.Wrapf(ErrUpoNotAvailable, "session %s (code %d)", referenceNumber, st.ProcessingCode)
	}
	return st.UpoPages[0], nil
}
