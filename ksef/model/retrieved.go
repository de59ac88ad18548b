package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceMetadata wpis z pliku _metadata.json paczki eksportu.
type InvoiceMetadata struct {
	GatewayNumber        string
	InvoiceNumber        string
	IssueDate            time.Time
	SellerTaxID          string
	BuyerTaxID           string
	TotalGross           decimal.Decimal
	Currency             string
	PermanentStorageDate time.Time
}

// ParsedInvoice dane odczytane z samego XML faktury.
type ParsedInvoice struct {
	InvoiceNumber string
	IssueDate     time.Time
	SellerTaxID   string
	SellerName    string
	BuyerTaxID    string
	BuyerName     string
	Currency      string
	TotalGross    decimal.Decimal
	Items         int
}

// RetrievedInvoice faktura z paczki: metadane z manifestu (nadrzędne) plus treść XML.
type RetrievedInvoice struct {
	Metadata InvoiceMetadata
	Parsed   ParsedInvoice
	FileName string
	XML      []byte
}

func (r RetrievedInvoice) GatewayNumber() string {
	return r.Metadata.GatewayNumber
}
