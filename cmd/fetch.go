package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/api"
	"github.com/alapierre/ksef-gateway/ksef/cipher"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/alapierre/ksef-gateway/ksef/qr"
	"github.com/alapierre/ksef-gateway/ksef/retrieval"
	"github.com/alapierre/ksef-gateway/png"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	fetchSince       string
	fetchOut         string
	fetchSubject     string
	fetchQR          bool
	fetchConcurrency int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download invoices from KSeF into a directory",
	Long: `Request an encrypted export package, download its parts, decrypt and unpack it.
Every invoice is written as <ksef-number>.xml. The high-water mark printed at the end
is the --since value for the next run.

Examples:
  ksef-gateway fetch --since 2025-08-01T00:00:00Z --out ./inbox
  ksef-gateway fetch --since 2025-08-01T00:00:00Z --subject seller --qr`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVar(&fetchSince, "since", "", "Lower bound of permanent storage date (RFC 3339)")
	fetchCmd.Flags().StringVar(&fetchOut, "out", ".", "Output directory")
	fetchCmd.Flags().StringVar(&fetchSubject, "subject", "buyer", "Invoices where the company is the buyer or the seller")
	fetchCmd.Flags().BoolVar(&fetchQR, "qr", false, "Write verification QR code PNG next to every invoice")
	fetchCmd.Flags().IntVar(&fetchConcurrency, "concurrency", 4, "Parallel part downloads")
	_ = fetchCmd.MarkFlagRequired("since")
}

func parseSubject(s string) (api.SubjectType, error) {
	switch s {
	case "buyer":
		return api.SubjectBuyer, nil
	case "seller":
		return api.SubjectSeller, nil
	}
	return "", errors.Errorf("invalid subject %q (allowed: buyer, seller)", s)
}

// keySource klucz z KSEF_PUBLIC_KEY_FILE, a gdy go brak certyfikat pobrany z bramki.
func keySource(cfg ksef.GatewayConfig, client *api.Client) (cipher.KeySource, error) {
	if len(cfg.PublicKeyPEM) > 0 {
		return cipher.NewStaticKey(cfg.PublicKeyPEM)
	}
	return cipher.NewCertificateService(client), nil
}

func runFetch(cmd *cobra.Command, _ []string) error {
	since, err := time.Parse(time.RFC3339, fetchSince)
	if err != nil {
		return errors.Wrap(err, "--since")
	}
	subject, err := parseSubject(fetchSubject)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(fetchOut, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", fetchOut)
	}

	client, cfg, err := newClient(true)
	if err != nil {
		return err
	}
	defer closeSession(client)

	keys, err := keySource(cfg, client)
	if err != nil {
		return err
	}

	f := retrieval.NewFetcher(client, keys,
		retrieval.WithSubject(subject),
		retrieval.WithConcurrency(fetchConcurrency),
	)
	res, err := f.Fetch(commandContext(cmd), since)
	if err != nil {
		return err
	}

	for _, inv := range res.Invoices {
		name := filepath.Join(fetchOut, inv.GatewayNumber()+".xml")
		if err := os.WriteFile(name, inv.XML, 0o644); err != nil {
			return errors.Wrapf(err, "write %s", name)
		}
		if fetchQR {
			if err := writeQR(cfg, inv, name); err != nil {
				logger.WithError(err).WithField("ksef_number", inv.GatewayNumber()).Warn("Cannot render QR code")
			}
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "export:      %s\n", res.ExportReference)
	_, _ = fmt.Fprintf(out, "invoices:    %d\n", len(res.Invoices))
	_, _ = fmt.Fprintf(out, "duplicates:  %d\n", res.Duplicates)
	_, _ = fmt.Fprintf(out, "missing:     %d\n", len(res.Missing))
	_, _ = fmt.Fprintf(out, "unlisted:    %d\n", len(res.Unlisted))
	_, _ = fmt.Fprintf(out, "failed:      %d\n", len(res.Failed))
	_, _ = fmt.Fprintf(out, "rejected:    %d\n", len(res.Rejected))
	_, _ = fmt.Fprintf(out, "next since:  %s\n", res.HighWaterMark.Format(time.RFC3339Nano))
	if res.Truncated {
		logger.WithField("next_since", res.HighWaterMark).Warn("Export truncated, run fetch again")
	}
	return nil
}

func writeQR(cfg ksef.GatewayConfig, inv model.RetrievedInvoice, xmlPath string) error {
	code, err := qr.InvoiceCode(cfg, inv)
	if err != nil {
		return err
	}
	img, err := png.Qr(code.Link)
	if err != nil {
		return err
	}

	name := strings.TrimSuffix(xmlPath, filepath.Ext(xmlPath)) + ".png"
	if err := os.WriteFile(name, img, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	logger.WithFields(logrus.Fields{"file": name, "label": code.Label}).Debug("QR code written")
	return nil
}
