package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ftdcad/roofiq-learn-loop/internal/analyzer"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
)

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "Inspect stored analyses",
	Long:  "Commands for listing, viewing and summarizing stored roof analyses.",
}

// -- analyses list --

var analysesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored analyses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		address, _ := cmd.Flags().GetString("address")
		confidence, _ := cmd.Flags().GetString("confidence")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := store.AnalysisFilter{
			Confidence: model.ConfidenceLevel(confidence),
			Limit:      limit,
		}
		if address != "" {
			filter.NormalizedAddress = analyzer.NormalizeAddress(address)
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		analyses, err := st.ListAnalyses(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "analyses list")
		}
		if asJSON {
			if analyses == nil {
				analyses = []model.Analysis{}
			}
			return writeJSONTo(os.Stdout, analyses)
		}

		if len(analyses) == 0 {
			fmt.Fprintln(os.Stderr, "No analyses found.")
			return nil
		}
		formatAnalysesList(os.Stdout, analyses)
		return nil
	},
}

// -- analyses show --

var analysesShowCmd = &cobra.Command{
	Use:   "show <analysis-id>",
	Short: "Show a stored analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a, err := st.GetAnalysis(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "analyses show")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSONTo(os.Stdout, a)
		}
		fmt.Println(renderAnalysis(a))
		return nil
	},
}

// -- analyses stats --

var analysesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate analysis and accuracy statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := st.Summary(ctx)
		if err != nil {
			return eris.Wrap(err, "analyses stats")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSONTo(os.Stdout, sum)
		}
		formatSummary(os.Stdout, sum)
		return nil
	},
}

func init() {
	analysesListCmd.Flags().String("address", "", "filter by address (normalized before matching)")
	analysesListCmd.Flags().String("confidence", "", "filter by confidence (high, medium, low)")
	analysesListCmd.Flags().Duration("since", 0, "only analyses newer than this (e.g. 24h)")
	analysesListCmd.Flags().Int("limit", 20, "max analyses to show")
	analysesListCmd.Flags().Bool("json", false, "print JSON")
	analysesShowCmd.Flags().Bool("json", false, "print JSON instead of a summary")
	analysesStatsCmd.Flags().Bool("json", false, "print JSON")

	analysesCmd.AddCommand(analysesListCmd, analysesShowCmd, analysesStatsCmd)
	rootCmd.AddCommand(analysesCmd)
}
