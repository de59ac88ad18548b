package ksef

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

type ErrorKind string

const (
	KindAuthentication   ErrorKind = "AUTHENTICATION"
	KindValidation       ErrorKind = "VALIDATION"
	KindSession          ErrorKind = "SESSION"
	KindDuplicateInvoice ErrorKind = "DUPLICATE_INVOICE"
	KindRateLimit        ErrorKind = "RATE_LIMIT"
	KindServer           ErrorKind = "SERVER"
	KindNetwork          ErrorKind = "NETWORK"
)

// GatewayError jest jedynym typem błędu zwracanym przez klienta bramki dla odpowiedzi innych niż 2xx.
// Tworzony wyłącznie przez Classify, ClassifyTransport i ErrSessionNotActive.
type GatewayError struct {
	Kind       ErrorKind
	HTTPStatus int
	Message    string
	Retryable  bool
	Details    []ErrorDetail
	cause      error
}

type ErrorDetail struct {
	Code    int
	Message string
	Details []string
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func (e *GatewayError) Error() string {
	if e.HTTPStatus == 0 {
		return fmt.Sprintf("KSeF %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("KSeF %s (HTTP %d): %s", e.Kind, e.HTTPStatus, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.cause
}

var defaultMessages = map[ErrorKind]string{
	KindAuthentication:   "Authentication failed",
	KindValidation:       "Invalid request",
	KindDuplicateInvoice: "Invoice already submitted",
	KindRateLimit:        "Too many requests",
	KindServer:           "Gateway server error",
	KindNetwork:          "Unexpected gateway response",
}

// classification zwraca rodzaj błędu i decyzję o ponawianiu dla statusu HTTP.
func classification(status int) (ErrorKind, bool) {
	switch {
	case status == 400:
		return KindValidation, false
	case status == 401, status == 403:
		return KindAuthentication, false
	case status == 409:
		return KindDuplicateInvoice, false
	case status == 429:
		return KindRateLimit, true
	case status >= 500 && status <= 504:
		return KindServer, true
	default:
		return KindNetwork, status >= 500
	}
}

// Classify mapuje status HTTP i ciało odpowiedzi na GatewayError. To jedyne miejsce,
// w którym podejmowana jest decyzja o ponawianiu.
func Classify(status int, body []byte) *GatewayError {
	kind, retryable := classification(status)

	msg, details := parseErrorBody(body)
	if msg == "" {
		msg = fmt.Sprintf("%s (HTTP %d)", defaultMessages[kind], status)
	}

	return &GatewayError{
		Kind:       kind,
		HTTPStatus: status,
		Message:    msg,
		Retryable:  retryable,
		Details:    details,
	}
}

// ClassifyTransport opisuje błąd, dla którego nie otrzymano żadnej odpowiedzi HTTP.
// Anulowanie albo przekroczenie terminu kontekstu to decyzja wywołującego, nie awaria sieci,
// więc taki błąd nie jest oznaczany do ponowienia.
func ClassifyTransport(err error) *GatewayError {
	return &GatewayError{
		Kind:      KindNetwork,
		Message:   err.Error(),
		Retryable: !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded),
		cause:     err,
	}
}

// ErrSessionNotActive operacja wywołana bez aktywnej sesji.
func ErrSessionNotActive() *GatewayError {
	return &GatewayError{
		Kind:    KindSession,
		Message: "no active KSeF session, call InitSession first",
	}
}

// parseErrorBody szuka pola message/error, a w drugiej kolejności opisu z exceptionDetailList.
func parseErrorBody(body []byte) (string, []ErrorDetail) {
	if len(body) == 0 {
		return "", nil
	}

	var (
		message  string
		fallback string
		details  []ErrorDetail
	)

	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return "", nil
	}

	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "message", "error":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			if message == "" {
				message = s
			}
			return nil
		case "exception":
			var err error
			details, err = decodeException(d)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		logger.WithError(err).Debug("Unparseable error body")
		return "", nil
	}

	for _, det := range details {
		if det.Message != "" {
			fallback = det.Message
			break
		}
	}
	if message == "" {
		message = fallback
	}
	return message, details
}

func decodeException(d *jx.Decoder) ([]ErrorDetail, error) {
	if d.Next() != jx.Object {
		return nil, d.Skip()
	}

	var out []ErrorDetail
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "exceptionDetailList" || d.Next() != jx.Array {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var det ErrorDetail
			err := d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "exceptionCode":
					v, err := d.Int()
					det.Code = v
					return err
				case "exceptionDescription":
					v, err := d.Str()
					det.Message = v
					return err
				case "details":
					return d.Arr(func(d *jx.Decoder) error {
						s, err := d.Str()
						det.Details = append(det.Details, s)
						return err
					})
				default:
					return d.Skip()
				}
			})
			if det.Message == "" && len(det.Details) > 0 {
				det.Message = det.Details[0]
			}
			out = append(out, det)
			return err
		})
	})
	return out, err
}

// ParseError błąd parsowania odpowiedzi bramki lub zawartości paczki. Nigdy nie jest ponawiany.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func NewParseError(file string, err error) *ParseError {
	return &ParseError{File: file, Err: err}
}

// OutcomeUnknown implementują błędy, po których nie wiadomo, czy bramka przyjęła dokument.
type OutcomeUnknown interface {
	OutcomeUnknown() bool
}

// IsOutcomeUnknown true gdy w łańcuchu jest błąd z nieznanym stanem po stronie bramki.
func IsOutcomeUnknown(err error) bool {
	var u OutcomeUnknown
	return errors.As(err, &u) && u.OutcomeUnknown()
}

// IsRetryable true tylko dla GatewayError z Retryable=true i tylko wtedy, gdy stan
// po stronie bramki jest znany. Nieznanego stanu nigdy nie ponawiamy automatycznie.
func IsRetryable(err error) bool {
	if IsOutcomeUnknown(err) {
		return false
	}
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Retryable
	}
	return false
}

// AsGatewayError wyciąga GatewayError z łańcucha błędów.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gerr *GatewayError
	ok := errors.As(err, &gerr)
	return gerr, ok
}
