package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "roofiq",
	Short: "Dual-estimator roof measurement",
	Long: `Estimates roof area, facets, pitch and linear measurements for an address.

A vision model and a structural model each produce an estimate; roofiq
reconciles them into one result with a confidence label and queues
low-confidence results for a professional measurement.

Configuration is read from ./config.yaml when present. Any key can be
overridden with a ROOFIQ_ environment variable, nested keys joined by an
underscore (ROOFIQ_STORE_DATABASE_URL sets store.database_url).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
