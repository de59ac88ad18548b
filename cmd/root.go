package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/api"
	"github.com/alapierre/ksef-gateway/ksef/util"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logger = logrus.WithField("component", "ksef.cmd")

var (
	version = "0.1.0"

	verbose     bool
	storePath   string
	token       string
	httpTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ksef-gateway",
	Short: "Submit and retrieve invoices through the KSeF gateway",
	Long: `ksef-gateway sends invoices from a local store to KSeF and downloads
invoices issued to the company.

Configuration is read from the environment:
  KSEF_ENV              test, demo or prod (default test)
  KSEF_BASE_URL         overrides the environment base URL
  KSEF_PUBLIC_KEY_FILE  gateway RSA public key used to wrap export keys
  KSEF_TOKEN            session access token
  KSEF_DEBUG            debug logging
  KSEF_HTTP_TRACE       log every gateway request

Examples:
  ksef-gateway submit inv-1 inv-2 --store invoices.json
  ksef-gateway fetch --since 2025-08-01T00:00:00Z --out ./inbox
  ksef-gateway verify-number 5265877635-20250826-0100001AF629-AF`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		util.ConfigureLogging()
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", util.GetEnv("KSEF_STORE", "invoices.json"), "Invoice store file (env: KSEF_STORE)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Session access token (env: KSEF_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&httpTimeout, "timeout", 30*time.Second, "HTTP timeout of a single gateway call")
}

// newClient tworzy klienta bramki. Gdy withSession, inicjuje sesję tokenem z flagi albo KSEF_TOKEN.
func newClient(withSession bool) (*api.Client, ksef.GatewayConfig, error) {
	cfg, err := ksef.LoadConfigFromEnv()
	if err != nil {
		return nil, cfg, err
	}

	c, err := api.NewClient(cfg, &http.Client{Timeout: httpTimeout})
	if err != nil {
		return nil, cfg, err
	}

	if withSession {
		t := token
		if t == "" {
			t = util.GetEnv("KSEF_TOKEN", "")
		}
		if err := c.InitSession(t); err != nil {
			return nil, cfg, errors.Wrap(err, "set --token or KSEF_TOKEN")
		}
	}
	return c, cfg, nil
}

func closeSession(c *api.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.Close(ctx)
}
