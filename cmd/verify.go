package cmd

import (
	"fmt"

	"github.com/alapierre/ksef-gateway/ksef/number"
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
)

var verifyNumberCmd = &cobra.Command{
	Use:   "verify-number <ksef-number...>",
	Short: "Check format and checksum of KSeF numbers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runVerifyNumber,
}

func init() {
	rootCmd.AddCommand(verifyNumberCmd)
}

func runVerifyNumber(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	invalid := 0
	for _, s := range args {
		n, err := number.Parse(s)
		if err != nil {
			invalid++
			_, _ = fmt.Fprintf(out, "%s\tINVALID\t%v\n", s, err)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s\tOK\tnip=%s date=%s\n", n, n.Nip(), n.Date().Format("2006-01-02"))
	}
	if invalid > 0 {
		return errors.Errorf("%d invalid KSeF numbers", invalid)
	}
	return nil
}
