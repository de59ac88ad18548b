package cmd

import (
	"context"
	"fmt"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/fa"
	"github.com/alapierre/ksef-gateway/ksef/submission"
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
)

var submitPending bool

var submitCmd = &cobra.Command{
	Use:   "submit [invoice-id...]",
	Short: "Send invoices from the store to KSeF",
	Long: `Send invoices one by one: encode FA(3) XML, open an interactive session,
upload and close it. The outcome of every invoice is written back to the store.

Examples:
  ksef-gateway submit inv-1 inv-2
  ksef-gateway submit --pending`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().BoolVar(&submitPending, "pending", false, "Submit every invoice without a final status")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	store, err := openStore(storePath)
	if err != nil {
		return err
	}

	ids := args
	if submitPending {
		ids = append(ids, store.Pending()...)
	}
	if len(ids) == 0 {
		return errors.New("no invoices to submit")
	}

	client, _, err := newClient(true)
	if err != nil {
		return err
	}
	defer closeSession(client)

	svc := submission.NewService(store, store, client, fa.NewEncoder())
	results := svc.SubmitAll(commandContext(cmd), ids)

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			retry := ""
			switch {
			case ksef.IsOutcomeUnknown(r.Err):
				retry = " (outcome unknown, check session status before resending)"
			case ksef.IsRetryable(r.Err):
				retry = " (retryable)"
			}
			_, _ = fmt.Fprintf(out, "%s\tERROR\t%v%s\n", r.InvoiceID, r.Err, retry)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s\tSENT\t%s\n", r.InvoiceID, r.Result.ElementReferenceNumber)
	}

	if failed > 0 {
		return errors.Errorf("%d of %d invoices failed", failed, len(results))
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
