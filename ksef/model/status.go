package model

import (
	"time"

	"github.com/go-faster/errors"
)

type GatewayStatus string

const (
	StatusNone    GatewayStatus = "none"
	StatusPending GatewayStatus = "pending"
	StatusSent    GatewayStatus = "sent"
	StatusError   GatewayStatus = "error"
)

func (s GatewayStatus) Terminal() bool {
	return s == StatusSent || s == StatusError
}

func (s *GatewayStatus) UnmarshalText(text []byte) error {
	switch v := GatewayStatus(text); v {
	case StatusNone, StatusPending, StatusSent, StatusError:
		*s = v
		return nil
	case "":
		*s = StatusNone
		return nil
	}
	return errors.Errorf("invalid gateway status %q", string(text))
}

func (s GatewayStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// SubmissionOutcome zapis końcowy jednej próby wysyłki. Tworzony tylko przez Sent albo Failed.
type SubmissionOutcome struct {
	Status          GatewayStatus
	ReferenceNumber string
	SubmittedAt     time.Time
	Upo             string
	LastError       string
}

func Sent(referenceNumber string, at time.Time, upo string) SubmissionOutcome {
	return SubmissionOutcome{
		Status:          StatusSent,
		ReferenceNumber: referenceNumber,
		SubmittedAt:     at,
		Upo:             upo,
	}
}

// Failed zapisuje tylko status i komunikat; numer referencyjny i UPO nie są nadpisywane.
func Failed(message string) SubmissionOutcome {
	return SubmissionOutcome{
		Status:    StatusError,
		LastError: message,
	}
}

// Apply nanosi wynik na fakturę tak, jak zrobiłby to write model.
func (o SubmissionOutcome) Apply(inv *Invoice) {
	inv.GatewayStatus = o.Status
	inv.GatewayLastError = o.LastError
	if o.Status == StatusSent {
		inv.GatewayReferenceNumber = o.ReferenceNumber
		inv.GatewaySubmittedAt = o.SubmittedAt
		inv.GatewayUpo = o.Upo
	}
}
