package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/keys"
	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/alapierre/ksef-gateway/ksef/qr"
	"github.com/alapierre/ksef-gateway/ksef/unpack"
	"github.com/alapierre/ksef-gateway/ksef/util"
	"github.com/alapierre/ksef-gateway/png"
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
)

var (
	qrKsefNumber string
	qrPNG        string
	qrKeyFile    string
	qrCertFile   string
	qrCtxType    string
	qrCtxValue   string
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Build invoice verification links (KOD I, KOD II)",
}

var qrInvoiceCmd = &cobra.Command{
	Use:   "invoice <invoice.xml>",
	Short: "KOD I link of an invoice; seller NIP and issue date are read from the XML",
	Args:  cobra.ExactArgs(1),
	RunE:  runQRInvoice,
}

var qrCertificateCmd = &cobra.Command{
	Use:   "certificate <invoice.xml>",
	Short: "KOD II link signed with the issuer certificate key (password in KSEF_CERT_PASS)",
	Args:  cobra.ExactArgs(1),
	RunE:  runQRCertificate,
}

func init() {
	rootCmd.AddCommand(qrCmd)
	qrCmd.AddCommand(qrInvoiceCmd, qrCertificateCmd)

	qrCmd.PersistentFlags().StringVar(&qrPNG, "png", "", "Also write QR code PNG to this file")

	qrInvoiceCmd.Flags().StringVar(&qrKsefNumber, "ksef-number", "", "KSeF number printed under the code (default OFFLINE)")

	qrCertificateCmd.Flags().StringVar(&qrKeyFile, "key", "", "PKCS#8 private key of the issuer certificate")
	qrCertificateCmd.Flags().StringVar(&qrCertFile, "cert", "", "Issuer certificate (PEM or DER)")
	qrCertificateCmd.Flags().StringVar(&qrCtxType, "context-type", string(qr.CtxNip), "Context identifier type: Nip, InternalId, NipVatUe")
	qrCertificateCmd.Flags().StringVar(&qrCtxValue, "context", "", "Context identifier value (default seller NIP)")
	_ = qrCertificateCmd.MarkFlagRequired("key")
	_ = qrCertificateCmd.MarkFlagRequired("cert")
}

func readInvoice(path string) (model.ParsedInvoice, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ParsedInvoice{}, nil, errors.Wrapf(err, "read %s", path)
	}
	parsed, err := unpack.ParseInvoice(filepath.Base(path), data)
	if err != nil {
		return model.ParsedInvoice{}, nil, err
	}
	return parsed, data, nil
}

func runQRInvoice(cmd *cobra.Command, args []string) error {
	parsed, data, err := readInvoice(args[0])
	if err != nil {
		return err
	}
	cfg, err := ksef.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	code, err := qr.InvoiceCode(cfg, model.RetrievedInvoice{
		Metadata: model.InvoiceMetadata{
			GatewayNumber: qrKsefNumber,
			SellerTaxID:   parsed.SellerTaxID,
			IssueDate:     parsed.IssueDate,
		},
		XML: data,
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", code.Link, code.Label)
	return writePNG(code.Link)
}

func runQRCertificate(cmd *cobra.Command, args []string) error {
	parsed, data, err := readInvoice(args[0])
	if err != nil {
		return err
	}
	cfg, err := ksef.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	cert, err := qr.LoadCertificateFromFile(qrCertFile)
	if err != nil {
		return err
	}
	serial, err := qr.ExtractCertSerial(cert)
	if err != nil {
		return err
	}
	signer, err := keys.LoadSignerFromFile(qrKeyFile, []byte(util.GetEnv("KSEF_CERT_PASS", "")))
	if err != nil {
		return err
	}

	ctxValue := qrCtxValue
	if ctxValue == "" {
		ctxValue = parsed.SellerTaxID
	}

	link, err := qr.GenerateCertificateVerificationLink(cfg, qr.ContextIdentifierType(qrCtxType),
		ctxValue, parsed.SellerTaxID, serial, signer, data)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", link)
	return writePNG(link)
}

func writePNG(link string) error {
	if qrPNG == "" {
		return nil
	}
	img, err := png.Qr(link)
	if err != nil {
		return err
	}
	if err := os.WriteFile(qrPNG, img, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", qrPNG)
	}
	return nil
}
