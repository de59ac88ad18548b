// Package retrieval pobiera paczki faktur z bramki: eksport, pobranie części, deszyfrowanie,
// rozpakowanie, deduplikacja i walidacja numerów KSeF.
package retrieval

import (
	"context"
	"strconv"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/api"
	"github.com/alapierre/ksef-gateway/ksef/cipher"
	"github.com/alapierre/ksef-gateway/ksef/digest"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/alapierre/ksef-gateway/ksef/number"
	"github.com/alapierre/ksef-gateway/ksef/unpack"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var logger = logrus.WithField("component", "ksef.retrieval")

// Gateway podzbiór api.Client używany przy pobieraniu.
type Gateway interface {
	InitExport(ctx context.Context, r api.ExportRequest) (string, error)
	GetExportStatus(ctx context.Context, referenceNumber string) (*api.ExportStatus, error)
	DownloadPart(ctx context.Context, part api.PackagePart) ([]byte, error)
}

var ErrExportNotReady = errors.New("export not ready")

// Rejected faktura odrzucona przez walidację numeru KSeF.
type Rejected struct {
	GatewayNumber string
	FileName      string
	Err           error
}

type Result struct {
	ExportReference string
	Invoices        []model.RetrievedInvoice
	Missing         []model.InvoiceMetadata
	Unlisted        []string
	Failed          []unpack.FileError
	Rejected        []Rejected
	Duplicates      int

	// HighWaterMark dolna granica następnego pobrania.
	HighWaterMark time.Time
	// Truncated bramka ucięła wynik; należy pobrać ponownie od HighWaterMark.
	Truncated bool
}

type Fetcher struct {
	gw          Gateway
	keys        cipher.KeySource
	clock       clockwork.Clock
	interval    time.Duration
	maxPolls    int
	concurrency int
	subject     api.SubjectType
}

type Option func(*Fetcher)

func WithClock(c clockwork.Clock) Option {
	return func(f *Fetcher) { f.clock = c }
}

// WithPolling odstęp i maksymalna liczba zapytań o status eksportu.
func WithPolling(interval time.Duration, maxPolls int) Option {
	return func(f *Fetcher) {
		f.interval = interval
		f.maxPolls = maxPolls
	}
}

// WithConcurrency limit równoległych pobrań części.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) { f.concurrency = n }
}

func WithSubject(s api.SubjectType) Option {
	return func(f *Fetcher) { f.subject = s }
}

func NewFetcher(gw Gateway, keys cipher.KeySource, opts ...Option) *Fetcher {
	f := &Fetcher{
		gw:          gw,
		keys:        keys,
		clock:       clockwork.NewRealClock(),
		interval:    2 * time.Second,
		maxPolls:    30,
		concurrency: 4,
		subject:     api.SubjectBuyer,
	}
	for _, o := range opts {
		o(f)
	}
	if f.concurrency < 1 {
		f.concurrency = 1
	}
	return f
}

// Fetch pobiera faktury od since do teraz. Błąd pobrania, skrótu, deszyfrowania, rozpakowania
// albo manifestu przerywa całą paczkę; błędy pojedynczych faktur są raportowane w Result.
func (f *Fetcher) Fetch(ctx context.Context, since time.Time) (*Result, error) {
	pub, err := f.keys.PublicKey(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gateway public key")
	}
	material, err := cipher.GenerateEncryptionMaterialFor(pub)
	if err != nil {
		return nil, err
	}

	ref, err := f.gw.InitExport(ctx, api.ExportRequest{
		SubjectType:           f.subject,
		DateType:              api.DateTypePermanentStorage,
		From:                  since,
		To:                    f.clock.Now(),
		EncryptedSymmetricKey: material.WrappedKey,
		InitializationVector:  material.IVBase64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init export")
	}
	log := logger.WithField("export_reference", ref)

	pkg, err := f.waitForPackage(ctx, ref)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ExportReference: ref,
		HighWaterMark:   since,
		Truncated:       pkg.IsTruncated,
	}
	if len(pkg.Parts) == 0 {
		log.Info("Export returned no package parts")
		return res, nil
	}

	encrypted, err := f.download(ctx, pkg.Parts)
	if err != nil {
		return nil, err
	}

	plain, err := material.Decrypt(encrypted)
	if err != nil {
		log.WithError(err).Error("Cannot decrypt package")
		return nil, ksef.NewParseError("package", errors.Wrap(err, "decrypt"))
	}

	files, err := unpack.Unzip(plain)
	if err != nil {
		log.WithError(err).Error("Cannot unzip package")
		return nil, err
	}
	assembled, err := unpack.Assemble(files)
	if err != nil {
		log.WithError(err).Error("Cannot read package manifest")
		return nil, err
	}

	res.Missing = assembled.Missing
	res.Unlisted = assembled.Unlisted
	res.Failed = assembled.Failed

	unique := unpack.Dedupe(assembled.Invoices, model.RetrievedInvoice.GatewayNumber)
	res.Duplicates = len(assembled.Invoices) - len(unique)

	for _, inv := range unique {
		if err := number.Validate(inv.GatewayNumber()); err != nil {
			log.WithFields(logrus.Fields{
				"file":        inv.FileName,
				"ksef_number": inv.GatewayNumber(),
			}).WithError(err).Warn("Rejecting invoice with invalid KSeF number")
			res.Rejected = append(res.Rejected, Rejected{GatewayNumber: inv.GatewayNumber(), FileName: inv.FileName, Err: err})
			continue
		}
		res.Invoices = append(res.Invoices, inv)
		if inv.Metadata.PermanentStorageDate.After(res.HighWaterMark) {
			res.HighWaterMark = inv.Metadata.PermanentStorageDate
		}
	}
	if pkg.LastPermanentStorageDate.After(res.HighWaterMark) {
		res.HighWaterMark = pkg.LastPermanentStorageDate
	}

	log.WithFields(logrus.Fields{
		"invoices":   len(res.Invoices),
		"missing":    len(res.Missing),
		"rejected":   len(res.Rejected),
		"failed":     len(res.Failed),
		"duplicates": res.Duplicates,
		"truncated":  res.Truncated,
	}).Info("Package retrieved")
	return res, nil
}

func (f *Fetcher) waitForPackage(ctx context.Context, ref string) (*api.Package, error) {
	for poll := 1; ; poll++ {
		st, err := f.gw.GetExportStatus(ctx, ref)
		if err != nil {
			return nil, errors.Wrap(err, "export status")
		}
		if st.Ready() {
			return st.Package, nil
		}
		if !st.Pending() {
			return nil, errors.Errorf("export %s failed: %d %s", ref, st.Code, st.Description)
		}
		if poll >= f.maxPolls {
			return nil, errors.Wrapf(ErrExportNotReady, "export %s after %d polls", ref, poll)
		}

		logger.WithFields(logrus.Fields{"export_reference": ref, "poll": poll}).Debug("Export in progress")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.clock.After(f.interval):
		}
	}
}

// download pobiera części równolegle, ale skleja je w kolejności zwróconej przez bramkę.
func (f *Fetcher) download(ctx context.Context, parts []api.PackagePart) ([]byte, error) {
	chunks := make([][]byte, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, part := range parts {
		g.Go(func() error {
			data, err := f.gw.DownloadPart(gctx, part)
			if err != nil {
				return errors.Wrapf(err, "download part %d", part.OrdinalNumber)
			}
			if part.EncryptedPartHash != "" {
				if got := digest.SHA256Base64(data); got != part.EncryptedPartHash {
					logger.WithFields(logrus.Fields{
						"part":     part.OrdinalNumber,
						"expected": part.EncryptedPartHash,
						"actual":   got,
					}).Error("Package part hash mismatch")
					return ksef.NewParseError(partName(part), errors.New("encrypted part hash mismatch"))
				}
			}
			chunks[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}

func partName(p api.PackagePart) string {
	if p.PartName != "" {
		return p.PartName
	}
	return "part-" + strconv.Itoa(p.OrdinalNumber)
}
