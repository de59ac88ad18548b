package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/go-faster/errors"
)

// storeFile format pliku z fakturami do wysyłki.
type storeFile struct {
	Invoices []model.SubmissionInput `json:"invoices"`
}

// fileStore read model i write model oparty o jeden plik JSON. Każdy zapis wyniku
// zapisuje cały plik przez plik tymczasowy i rename.
type fileStore struct {
	path string

	mu   sync.Mutex
	data storeFile
}

var ErrInvoiceNotFound = errors.New("invoice not found")

func openStore(path string) (*fileStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read store %s", path)
	}

	s := &fileStore{path: path}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, errors.Wrapf(err, "decode store %s", path)
	}
	return s, nil
}

func (s *fileStore) find(id string) (*model.SubmissionInput, error) {
	for i := range s.data.Invoices {
		if s.data.Invoices[i].Invoice.ID == id {
			return &s.data.Invoices[i], nil
		}
	}
	return nil, errors.Wrap(ErrInvoiceNotFound, id)
}

func (s *fileStore) GetInvoiceForSubmission(_ context.Context, invoiceID string) (*model.SubmissionInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := s.find(invoiceID)
	if err != nil {
		return nil, err
	}
	out := *in
	out.Invoice.Items = append([]model.LineItem(nil), in.Invoice.Items...)
	return &out, nil
}

func (s *fileStore) RecordSubmissionOutcome(_ context.Context, invoiceID string, outcome model.SubmissionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := s.find(invoiceID)
	if err != nil {
		return err
	}
	outcome.Apply(&in.Invoice)
	return s.save()
}

// Pending identyfikatory faktur bez końcowego statusu.
func (s *fileStore) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, in := range s.data.Invoices {
		if !in.Invoice.GatewayStatus.Terminal() {
			ids = append(ids, in.Invoice.ID)
		}
	}
	return ids
}

func (s *fileStore) save() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode store")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*")
	if err != nil {
		return errors.Wrap(err, "create temp store")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp store")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp store")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "replace store")
	}
	return nil
}
