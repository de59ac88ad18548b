// Package submission realizuje przypadek użycia "wyślij jedną fakturę": odczyt z read modelu,
// kodowanie XML, wysyłka do bramki i zapis wyniku końcowego w write modelu.
package submission

import (
	"context"
	"sync"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/api"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/alapierre/ksef-gateway/ksef/mutex"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "ksef.submission")

type ReadModel interface {
	GetInvoiceForSubmission(ctx context.Context, invoiceID string) (*model.SubmissionInput, error)
}

// WriteModel jedyne miejsce, w którym podsystem zmienia stan faktury.
type WriteModel interface {
	RecordSubmissionOutcome(ctx context.Context, invoiceID string, outcome model.SubmissionOutcome) error
}

type Gateway interface {
	IsActive() bool
	SubmitInvoice(ctx context.Context, invoiceXML []byte) (*api.SubmissionResult, error)
}

type Encoder interface {
	Encode(inv model.Invoice, issuer, counterparty model.Party) []byte
}

var ErrInFlight = errors.New("invoice submission already in progress")

type Service struct {
	read  ReadModel
	write WriteModel
	gw    Gateway
	enc   Encoder
	clock clockwork.Clock

	inflight mutex.KeyedMutex[string]
	// protokół open/upload/close na jednej sesji nie może się przeplatać
	mu sync.Mutex
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func NewService(read ReadModel, write WriteModel, gw Gateway, enc Encoder, opts ...Option) *Service {
	s := &Service{
		read:  read,
		write: write,
		gw:    gw,
		enc:   enc,
		clock: clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit wysyła fakturę. Każdy błąd po odczycie faktury jest zapisywany jako status error
// i zwracany wywołującemu; sukces zapisuje status sent z numerem KSeF i UPO.
func (s *Service) Submit(ctx context.Context, invoiceID string) (*api.SubmissionResult, error) {
	if !s.inflight.TryLock(invoiceID) {
		return nil, errors.Wrap(ErrInFlight, invoiceID)
	}
	defer s.inflight.Unlock(invoiceID)

	log := logger.WithField("invoice_id", invoiceID)

	input, err := s.read.GetInvoiceForSubmission(ctx, invoiceID)
	if err != nil {
		return nil, errors.Wrapf(err, "load invoice %s", invoiceID)
	}

	if !s.gw.IsActive() {
		return nil, s.fail(ctx, log, invoiceID, ksef.ErrSessionNotActive())
	}

	xml := s.enc.Encode(input.Invoice, input.Issuer, input.Counterparty)
	log.WithFields(logrus.Fields{
		"invoice_number": input.Invoice.Number,
		"size":           len(xml),
	}).Debug("Invoice encoded")

	s.mu.Lock()
	res, err := s.gw.SubmitInvoice(ctx, xml)
	s.mu.Unlock()
	if err != nil {
		return nil, s.fail(ctx, log, invoiceID, err)
	}

	outcome := model.Sent(res.ElementReferenceNumber, s.clock.Now(), res.Upo)
	if err := s.write.RecordSubmissionOutcome(ctx, invoiceID, outcome); err != nil {
		log.WithError(err).WithField("ksef_number", res.ElementReferenceNumber).
			Error("Invoice accepted by KSeF but outcome could not be recorded")
		return res, errors.Wrapf(err, "record outcome of invoice %s", invoiceID)
	}

	log.WithFields(logrus.Fields{
		"ksef_number": res.ElementReferenceNumber,
		"upo":         res.HasUpo(),
	}).Info("Invoice sent")
	return res, nil
}

func (s *Service) fail(ctx context.Context, log *logrus.Entry, invoiceID string, cause error) error {
	entry := log.WithError(cause).WithFields(logrus.Fields{
		"retryable":       ksef.IsRetryable(cause),
		"outcome_unknown": ksef.IsOutcomeUnknown(cause),
	})
	message := cause.Error()
	if gerr, ok := ksef.AsGatewayError(cause); ok {
		entry = entry.WithField("kind", gerr.Kind)
		if gerr.Message != "" {
			message = gerr.Message
		}
	}
	entry.Warn("Invoice submission failed")

	if err := s.write.RecordSubmissionOutcome(ctx, invoiceID, model.Failed(message)); err != nil {
		log.WithError(err).Error("Cannot record failed submission")
	}
	return cause
}

// Result wynik jednej faktury w SubmitAll.
type Result struct {
	InvoiceID string
	Result    *api.SubmissionResult
	Err       error
}

// SubmitAll wysyła faktury po kolei i nie przerywa na błędzie pojedynczej faktury.
// Po anulowaniu kontekstu pozostałe faktury nie są wysyłane i dostają ctx.Err().
func (s *Service) SubmitAll(ctx context.Context, invoiceIDs []string) []Result {
	out := make([]Result, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		if err := ctx.Err(); err != nil {
			out = append(out, Result{InvoiceID: id, Err: err})
			continue
		}
		res, err := s.Submit(ctx, id)
		out = append(out, Result{InvoiceID: id, Result: res, Err: err})
	}
	return out
}
