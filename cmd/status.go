package cmd

import (
	"fmt"
	"os"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
)

var upoOutput string

var statusCmd = &cobra.Command{
	Use:   "status <reference-number>",
	Short: "Show processing status of a submitted invoice",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var upoCmd = &cobra.Command{
	Use:   "upo <reference-number>",
	Short: "Download the official receipt (UPO) of a submitted invoice",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpo,
}

func init() {
	rootCmd.AddCommand(statusCmd, upoCmd)
	upoCmd.Flags().StringVarP(&upoOutput, "output", "o", "", "Write UPO to file instead of stdout")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, _, err := newClient(true)
	if err != nil {
		return err
	}
	defer closeSession(client)

	st, err := client.CheckInvoiceStatus(commandContext(cmd), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "reference:   %s\n", st.ReferenceNumber)
	_, _ = fmt.Fprintf(out, "code:        %d %s\n", st.ProcessingCode, st.ProcessingDescription)
	_, _ = fmt.Fprintf(out, "timestamp:   %s\n", st.Timestamp.Format("2006-01-02 15:04:05 MST"))
	_, _ = fmt.Fprintf(out, "invoices:    %d\n", st.InvoiceCount)
	_, _ = fmt.Fprintf(out, "upo pages:   %d\n", len(st.UpoPages))
	return nil
}

func runUpo(cmd *cobra.Command, args []string) error {
	client, _, err := newClient(true)
	if err != nil {
		return err
	}
	defer closeSession(client)

	upo, err := client.GetUpo(commandContext(cmd), args[0])
	if err != nil {
		return err
	}

	if upoOutput == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), upo)
		return err
	}
	if err := os.WriteFile(upoOutput, []byte(upo), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", upoOutput)
	}
	return nil
}
