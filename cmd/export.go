package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ftdcad/roofiq-learn-loop/internal/report"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
)

// exportLimit caps rows per sheet when no limit is given.
const exportLimit = 10000

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export analyses and learning flags to a spreadsheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("out")
		limit, _ := cmd.Flags().GetInt("limit")
		if out == "" {
			return eris.New("--out is required")
		}
		if limit <= 0 {
			limit = exportLimit
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		analyses, err := st.ListAnalyses(ctx, store.AnalysisFilter{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "export analyses")
		}
		flags, err := st.ListLearningFlags(ctx, store.FlagFilter{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "export flags")
		}

		if err := report.Export(out, analyses, flags); err != nil {
			return err
		}
		fmt.Printf("Wrote %d analyses and %d flags to %s\n", len(analyses), len(flags), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "roofiq-analyses.xlsx", "output .xlsx path")
	exportCmd.Flags().Int("limit", 0, "max rows per sheet (default 10000)")
	rootCmd.AddCommand(exportCmd)
}
