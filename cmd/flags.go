package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/report"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Work the learning flag queue",
	Long:  "Commands for listing learning flags and recording professional measurements against them.",
}

// -- flags list --

var flagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learning flags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		priority, _ := cmd.Flags().GetString("priority")
		open, _ := cmd.Flags().GetBool("open")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		flags, err := st.ListLearningFlags(ctx, store.FlagFilter{
			Priority:       model.FlagPriority(priority),
			UnresolvedOnly: open,
			Limit:          limit,
		})
		if err != nil {
			return eris.Wrap(err, "flags list")
		}
		if asJSON {
			if flags == nil {
				flags = []model.FlagRecord{}
			}
			return writeJSONTo(os.Stdout, flags)
		}

		if len(flags) == 0 {
			fmt.Fprintln(os.Stderr, "No learning flags found.")
			return nil
		}
		formatFlagsList(os.Stdout, flags)
		return nil
	},
}

// -- flags resolve --

var flagsResolveCmd = &cobra.Command{
	Use:   "resolve <flag-id>",
	Short: "Record a professional measurement for a flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		area, _ := cmd.Flags().GetFloat64("area")
		if !(area > 0) {
			return eris.New("--area must be a positive square footage")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ResolveLearningFlag(ctx, args[0], area); err != nil {
			return eris.Wrap(err, "flags resolve")
		}
		fmt.Printf("Resolved %s with %s\n", args[0], model.FormatArea(area))
		return nil
	},
}

// -- flags import --

var flagsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Resolve flags from a measurement file",
	Long:  "Reads flag ID and measured area pairs from a .csv, .txt or .xlsx file and resolves each flag. Rows that fail are logged and skipped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			return eris.New("--file is required")
		}
		measurements, err := report.ReadMeasurements(path)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		resolved, failed := importMeasurements(ctx, st, measurements)
		fmt.Printf("Resolved %d flags, %d failed\n", resolved, failed)
		if failed > 0 {
			return eris.Errorf("flags import: %d of %d measurements failed", failed, len(measurements))
		}
		return nil
	},
}

func importMeasurements(ctx context.Context, st store.Store, measurements []report.Measurement) (resolved, failed int) {
	for _, m := range measurements {
		if err := st.ResolveLearningFlag(ctx, m.FlagID, m.AreaSqFt); err != nil {
			zap.L().Warn("flags import: resolve failed",
				zap.String("flag_id", m.FlagID),
				zap.Float64("area", m.AreaSqFt),
				zap.Error(err),
			)
			failed++
			continue
		}
		resolved++
	}
	return resolved, failed
}

func init() {
	flagsListCmd.Flags().String("priority", "", "filter by priority (high, medium)")
	flagsListCmd.Flags().Bool("open", false, "only unresolved flags")
	flagsListCmd.Flags().Int("limit", 50, "max flags to show")
	flagsListCmd.Flags().Bool("json", false, "print JSON")
	flagsResolveCmd.Flags().Float64("area", 0, "professionally measured roof area in square feet")
	flagsImportCmd.Flags().String("file", "", "measurement file (.csv, .txt or .xlsx)")

	flagsCmd.AddCommand(flagsListCmd, flagsResolveCmd, flagsImportCmd)
	rootCmd.AddCommand(flagsCmd)
}
