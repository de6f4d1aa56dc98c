package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ftdcad/roofiq-learn-loop/internal/report"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict roof measurements for an address",
	Long:  "Runs both estimators for --address (optionally with an aerial --image) and prints the consensus. With --batch, reads addresses from a .txt, .csv or .xlsx file and analyzes them concurrently.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		address, _ := cmd.Flags().GetString("address")
		imagePath, _ := cmd.Flags().GetString("image")
		batchPath, _ := cmd.Flags().GetString("batch")
		asJSON, _ := cmd.Flags().GetBool("json")

		if (address == "") == (batchPath == "") {
			return eris.New("exactly one of --address or --batch is required")
		}
		if batchPath != "" && imagePath != "" {
			return eris.New("--image cannot be combined with --batch")
		}

		var image []byte
		if imagePath != "" {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return eris.Wrap(err, "read image")
			}
			image = data
		}

		env, err := initEnv(ctx, "predict")
		if err != nil {
			return err
		}
		defer env.Close()

		if batchPath != "" {
			addresses, err := report.ReadAddresses(batchPath)
			if err != nil {
				return err
			}
			results, err := env.Analyzer.AnalyzeBatch(ctx, addresses)
			if asJSON {
				if encErr := writeJSONTo(os.Stdout, results); encErr != nil {
					return encErr
				}
			} else {
				formatBatchResults(os.Stdout, results)
			}
			return err
		}

		a, err := env.Analyzer.Analyze(ctx, address, image)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSONTo(os.Stdout, a)
		}
		fmt.Println(renderAnalysis(a))
		return nil
	},
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	predictCmd.Flags().String("address", "", "street address to analyze")
	predictCmd.Flags().String("image", "", "aerial image file (JPEG, PNG, GIF or WebP)")
	predictCmd.Flags().String("batch", "", "file of addresses, one per row")
	predictCmd.Flags().Bool("json", false, "print JSON instead of a summary")
	rootCmd.AddCommand(predictCmd)
}
