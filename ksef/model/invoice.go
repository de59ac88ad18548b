package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Party sprzedawca lub nabywca. TaxID może zawierać myślniki i spacje, encoder je usuwa.
type Party struct {
	TaxID       string
	CountryCode string
	Name        string
	Address     Address
	Email       string
	Phone       string
}

type Address struct {
	CountryCode string
	Line1       string
	Line2       string
}

// IsDomestic true dla kontrahenta z Polski (brak kodu kraju traktujemy jak PL).
func (p Party) IsDomestic() bool {
	return p.CountryCode == "" || strings.EqualFold(strings.TrimSpace(p.CountryCode), "PL")
}

// LineItem pozycja faktury. NetValue jest opcjonalne, liczone jako Quantity × UnitPrice gdy puste.
// VatRate to kod stawki KSeF: "23", "8", "5", "0", "zw", "np", "oo".
type LineItem struct {
	Name      string
	Unit      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	NetValue  decimal.NullDecimal
	VatRate   string
}

// Net wartość netto pozycji zaokrąglona do groszy.
func (l LineItem) Net() decimal.Decimal {
	if l.NetValue.Valid {
		return l.NetValue.Decimal.Round(2)
	}
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

type PaymentMethod int

const (
	PaymentUnspecified PaymentMethod = iota
	PaymentCash
	PaymentCard
	PaymentVoucher
	PaymentCheque
	PaymentCredit
	PaymentTransfer
	PaymentMobile
)

type Payment struct {
	DueDate     time.Time
	Method      PaymentMethod
	BankAccount string
	Paid        bool
	PaidDate    time.Time
}

// Invoice dane faktury tylko do odczytu. Pola Gateway* należą do podsystemu KSeF
// i są zmieniane wyłącznie przez WriteModel.
type Invoice struct {
	ID           string
	Number       string
	IssueDate    time.Time
	SaleDate     time.Time
	IssuePlace   string
	Currency     string
	Items        []LineItem
	Payment      *Payment
	SplitPayment bool

	GatewayStatus          GatewayStatus
	GatewayReferenceNumber string
	GatewaySubmittedAt     time.Time
	GatewayUpo             string
	GatewayLastError       string
}

// SubmissionInput wynik odczytu z read modelu.
type SubmissionInput struct {
	Invoice      Invoice
	Issuer       Party
	Counterparty Party
}
