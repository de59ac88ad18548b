// Package fa buduje dokument XML faktury w kształcie schemy FA(3).
package fa

import (
	"bytes"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const (
	Namespace     = "http://crd.gov.pl/wzor/2025/06/25/13775/"
	SystemCode    = "FA (3)"
	SchemaVersion = "1-0E"
	FormValue     = "FA"
	FormVariant   = "3"

	dateLayout      = "2006-01-02"
	defaultCurrency = "PLN"
)

type Encoder struct {
	clock      clockwork.Clock
	systemInfo string
}

type Option func(*Encoder)

func WithClock(c clockwork.Clock) Option {
	return func(e *Encoder) { e.clock = c }
}

func WithSystemInfo(s string) Option {
	return func(e *Encoder) { e.systemInfo = s }
}

func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		clock:      clockwork.NewRealClock(),
		systemInfo: "ksef-gateway",
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Encode jest funkcją czystą i totalną: brakujące pola opcjonalne są pomijane.
// Dwa wywołania dla tej samej faktury różnią się wyłącznie DataWytworzeniaFa.
func (e *Encoder) Encode(inv model.Invoice, issuer, counterparty model.Party) []byte {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("Faktura")
	root.CreateAttr("xmlns", Namespace)

	e.header(root)
	seller(root.CreateElement("Podmiot1"), issuer)
	buyer(root.CreateElement("Podmiot2"), counterparty)
	body(root.CreateElement("Fa"), inv)

	doc.Indent(2)

	var buf bytes.Buffer
	// zapis do bytes.Buffer nie zwraca błędów
	_, _ = doc.WriteTo(&buf)
	return buf.Bytes()
}

func (e *Encoder) header(root *etree.Element) {
	h := root.CreateElement("Naglowek")
	kod := h.CreateElement("KodFormularza")
	kod.CreateAttr("kodSystemowy", SystemCode)
	kod.CreateAttr("wersjaSchemy", SchemaVersion)
	kod.SetText(FormValue)
	h.CreateElement("WariantFormularza").SetText(FormVariant)
	h.CreateElement("DataWytworzeniaFa").SetText(e.clock.Now().UTC().Format("2006-01-02T15:04:05Z"))
	text(h, "SystemInfo", e.systemInfo)
}

func seller(p *etree.Element, party model.Party) {
	id := p.CreateElement("DaneIdentyfikacyjne")
	text(id, "NIP", ksef.NormalizeTaxID(party.TaxID))
	text(id, "Nazwa", party.Name)
	address(p, party)
	contact(p, party)
}

func buyer(p *etree.Element, party model.Party) {
	id := p.CreateElement("DaneIdentyfikacyjne")
	taxID := ksef.NormalizeTaxID(party.TaxID)
	country := strings.ToUpper(party.CountryCode)

	switch {
	case taxID == "":
		id.CreateElement("BrakID").SetText("1")
	case party.IsDomestic():
		id.CreateElement("NIP").SetText(strings.TrimPrefix(taxID, "PL"))
	case isEU(country):
		id.CreateElement("KodUE").SetText(country)
		id.CreateElement("NrVatUE").SetText(strings.TrimPrefix(taxID, country))
	default:
		id.CreateElement("KodKraju").SetText(country)
		id.CreateElement("NrID").SetText(taxID)
	}
	text(id, "Nazwa", party.Name)

	address(p, party)
	contact(p, party)
	p.CreateElement("JST").SetText("2")
	p.CreateElement("GV").SetText("2")
}

func address(p *etree.Element, party model.Party) {
	if party.Address.Line1 == "" {
		return
	}
	a := p.CreateElement("Adres")
	country := party.Address.CountryCode
	if country == "" {
		country = party.CountryCode
	}
	if country == "" {
		country = "PL"
	}
	a.CreateElement("KodKraju").SetText(strings.ToUpper(country))
	a.CreateElement("AdresL1").SetText(party.Address.Line1)
	text(a, "AdresL2", party.Address.Line2)
}

func contact(p *etree.Element, party model.Party) {
	if party.Email == "" && party.Phone == "" {
		return
	}
	c := p.CreateElement("DaneKontaktowe")
	text(c, "Email", party.Email)
	text(c, "Telefon", party.Phone)
}

func body(fa *etree.Element, inv model.Invoice) {
	currency := inv.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	fa.CreateElement("KodWaluty").SetText(currency)
	date(fa, "P_1", inv.IssueDate)
	text(fa, "P_1M", inv.IssuePlace)
	fa.CreateElement("P_2").SetText(inv.Number)
	if !inv.SaleDate.IsZero() && !sameDay(inv.SaleDate, inv.IssueDate) {
		date(fa, "P_6", inv.SaleDate)
	}

	t := summarize(inv.Items)
	for _, b := range t.buckets {
		fa.CreateElement(b.netField).SetText(amount(b.net))
		if b.taxField != "" {
			fa.CreateElement(b.taxField).SetText(amount(b.tax))
		}
	}
	fa.CreateElement("P_15").SetText(amount(t.gross))

	annotations(fa.CreateElement("Adnotacje"), inv)
	fa.CreateElement("RodzajFaktury").SetText("VAT")

	for i, item := range inv.Items {
		line(fa.CreateElement("FaWiersz"), i+1, item)
	}

	if inv.Payment != nil {
		payment(fa.CreateElement("Platnosc"), *inv.Payment)
	}
}

func annotations(a *etree.Element, inv model.Invoice) {
	a.CreateElement("P_16").SetText("2")
	a.CreateElement("P_17").SetText("2")
	a.CreateElement("P_18").SetText("2")
	if inv.SplitPayment {
		a.CreateElement("P_18A").SetText("1")
	} else {
		a.CreateElement("P_18A").SetText("2")
	}
	a.CreateElement("Zwolnienie").CreateElement("P_19N").SetText("1")
	a.CreateElement("NoweSrodkiTransportu").CreateElement("P_22N").SetText("1")
	a.CreateElement("P_23").SetText("2")
	a.CreateElement("PMarzy").CreateElement("P_PMarzyN").SetText("1")
}

func line(w *etree.Element, no int, item model.LineItem) {
	w.CreateElement("NrWierszaFa").SetText(strconv.Itoa(no))
	text(w, "P_7", item.Name)
	text(w, "P_8A", item.Unit)
	w.CreateElement("P_8B").SetText(item.Quantity.String())
	w.CreateElement("P_9A").SetText(price(item.UnitPrice))
	w.CreateElement("P_11").SetText(amount(item.Net()))
	text(w, "P_12", strings.ToLower(item.VatRate))
}

func payment(p *etree.Element, pay model.Payment) {
	if pay.Paid {
		p.CreateElement("Zaplacono").SetText("1")
		date(p, "DataZaplaty", pay.PaidDate)
	} else if !pay.DueDate.IsZero() {
		date(p.CreateElement("TerminPlatnosci"), "Termin", pay.DueDate)
	}
	if pay.Method != model.PaymentUnspecified {
		p.CreateElement("FormaPlatnosci").SetText(strconv.Itoa(int(pay.Method)))
	}
	if acc := normalizeAccount(pay.BankAccount); acc != "" {
		p.CreateElement("RachunekBankowy").CreateElement("NrRB").SetText(acc)
	}
}

// normalizeAccount zostawia w numerze rachunku (NRB lub IBAN) tylko litery i cyfry.
func normalizeAccount(acc string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, acc))
}

// text dodaje element tylko dla niepustej wartości.
func text(parent *etree.Element, tag, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	parent.CreateElement(tag).SetText(value)
}

func date(parent *etree.Element, tag string, t time.Time) {
	if t.IsZero() {
		return
	}
	parent.CreateElement(tag).SetText(t.Format(dateLayout))
}

func sameDay(a, b time.Time) bool {
	return a.Format(dateLayout) == b.Format(dateLayout)
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// price zachowuje dokładność ceny jednostkowej powyżej dwóch miejsc po przecinku.
func price(d decimal.Decimal) string {
	if d.Equal(d.Round(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}

var euCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "CY": true, "CZ": true, "DE": true, "DK": true,
	"EE": true, "EL": true, "ES": true, "FI": true, "FR": true, "HR": true, "HU": true,
	"IE": true, "IT": true, "LT": true, "LU": true, "LV": true, "MT": true, "NL": true,
	"PT": true, "RO": true, "SE": true, "SI": true, "SK": true, "XI": true,
}

func isEU(country string) bool {
	return euCountries[country]
}
