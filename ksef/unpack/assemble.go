package unpack

import (
	"sort"
	"strings"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

// FileError plik paczki pominięty z powodu błędu parsowania.
type FileError struct {
	File string
	Err  error
}

// Package zawartość jednej paczki po dopasowaniu XML do manifestu.
type Package struct {
	Invoices []model.RetrievedInvoice
	// Missing wpisy manifestu bez pliku XML.
	Missing []model.InvoiceMetadata
	// Unlisted pliki XML bez wpisu w manifeście, odrzucone.
	Unlisted []string
	Failed   []FileError
}

// Assemble najpierw czyta manifest (jego brak jest błędem całej paczki), potem wszystkie pliki .xml
// w kolejności nazw. Dopasowanie: nazwa pliku równa numerowi KSeF, w drugiej kolejności numer faktury.
// Przy konflikcie pól wygrywa manifest.
func Assemble(files map[string][]byte) (*Package, error) {
	raw, ok := files[ManifestName]
	if !ok {
		return nil, ksef.NewParseError(ManifestName, errors.New("manifest not found in package"))
	}
	entries, err := ParseMetadata(raw)
	if err != nil {
		return nil, err
	}

	idx := newIndex(entries)
	pkg := &Package{}

	for _, name := range xmlNames(files) {
		parsed, err := ParseInvoice(name, files[name])
		if err != nil {
			logger.WithField("file", name).WithError(err).Warn("Skipping unparseable invoice")
			pkg.Failed = append(pkg.Failed, FileError{File: name, Err: err})
			continue
		}

		pos, ok := idx.match(name, parsed)
		if !ok {
			logger.WithFields(logrus.Fields{
				"file":           name,
				"invoice_number": parsed.InvoiceNumber,
			}).Warn("Invoice not listed in package manifest, dropping")
			pkg.Unlisted = append(pkg.Unlisted, name)
			continue
		}

		meta := entries[pos]
		logConflicts(name, meta, parsed)
		pkg.Invoices = append(pkg.Invoices, model.RetrievedInvoice{
			Metadata: meta,
			Parsed:   parsed,
			FileName: name,
			XML:      files[name],
		})
	}

	for i, m := range entries {
		if idx.used[i] {
			continue
		}
		logger.WithFields(logrus.Fields{
			"ksef_number":    m.GatewayNumber,
			"invoice_number": m.InvoiceNumber,
		}).Warn("Invoice listed in manifest but missing from package")
		pkg.Missing = append(pkg.Missing, m)
	}

	logger.WithFields(logrus.Fields{
		"manifest": len(entries),
		"matched":  len(pkg.Invoices),
		"missing":  len(pkg.Missing),
		"unlisted": len(pkg.Unlisted),
		"failed":   len(pkg.Failed),
	}).Debug("Package assembled")
	return pkg, nil
}

func xmlNames(files map[string][]byte) []string {
	var names []string
	for name := range files {
		if strings.EqualFold(pathExt(name), ".xml") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func pathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

type index struct {
	entries  []model.InvoiceMetadata
	byNumber map[string]int
	byInv    map[string][]int
	used     []bool
}

func newIndex(entries []model.InvoiceMetadata) *index {
	idx := &index{
		entries:  entries,
		byNumber: make(map[string]int, len(entries)),
		byInv:    make(map[string][]int, len(entries)),
		used:     make([]bool, len(entries)),
	}
	for i, m := range entries {
		if _, ok := idx.byNumber[m.GatewayNumber]; !ok {
			idx.byNumber[m.GatewayNumber] = i
		}
		idx.byInv[m.InvoiceNumber] = append(idx.byInv[m.InvoiceNumber], i)
	}
	return idx
}

// match zwraca pierwszy niewykorzystany wpis; przy kilku fakturach o tym samym numerze
// preferowany jest wpis z tym samym NIP sprzedawcy.
func (x *index) match(name string, parsed model.ParsedInvoice) (int, bool) {
	stem := strings.TrimSuffix(name, pathExt(name))
	if i, ok := x.byNumber[stem]; ok && !x.used[i] {
		x.used[i] = true
		return i, true
	}

	candidates := x.byInv[parsed.InvoiceNumber]
	for _, i := range candidates {
		if !x.used[i] && x.entries[i].SellerTaxID == parsed.SellerTaxID {
			x.used[i] = true
			return i, true
		}
	}
	for _, i := range candidates {
		if !x.used[i] {
			x.used[i] = true
			return i, true
		}
	}
	return 0, false
}

func logConflicts(name string, meta model.InvoiceMetadata, parsed model.ParsedInvoice) {
	entry := logger.WithFields(logrus.Fields{"file": name, "ksef_number": meta.GatewayNumber})
	if parsed.InvoiceNumber != meta.InvoiceNumber {
		entry.WithField("xml", parsed.InvoiceNumber).Info("Invoice number differs from manifest, using manifest")
	}
	if parsed.SellerTaxID != "" && parsed.SellerTaxID != meta.SellerTaxID {
		entry.WithField("xml", parsed.SellerTaxID).Info("Seller tax id differs from manifest, using manifest")
	}
	if !parsed.TotalGross.IsZero() && !parsed.TotalGross.Equal(meta.TotalGross) {
		entry.WithField("xml", parsed.TotalGross.String()).Info("Gross total differs from manifest, using manifest")
	}
}

// Dedupe usuwa duplikaty według klucza; zostaje pierwsze wystąpienie, kolejność zachowana.
func Dedupe[T any, K comparable](items []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}
