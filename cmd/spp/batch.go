package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/predict"
)

var batchCmd = &cobra.Command{
	Use:   "batch <dump|-> <students.csv>",
	Short: "Predict and explain every student of a CSV file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dump, err := readDump(cmd, args[0])
		if err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		parsed, err := features.ReadCSV(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[1], err)
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		workers, _ := cmd.Flags().GetInt("workers")
		return runBatch(cmd, dump, parsed, asJSON, workers)
	},
}

func init() {
	batchCmd.Flags().Bool("json", false, "Print results as a JSON array")
	batchCmd.Flags().Int("workers", runtime.NumCPU(), "Students scored concurrently")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, dump string, parsed *features.CSVResult, asJSON bool, workers int) error {
	if parsed.Skipped > 0 {
		logrus.WithField("skipped", parsed.Skipped).Warn("rows with missing or invalid values were skipped")
	}
	predictor, err := newPredictor(cmd, dump)
	if err != nil {
		return err
	}

	if workers < 1 {
		workers = 1
	}
	// Results keep the CSV row order regardless of completion order.
	results := make([]predict.Result, len(parsed.Inputs))
	g, ctx := errgroup.WithContext(commandContext(cmd))
	g.SetLimit(workers)
	for i, in := range parsed.Inputs {
		g.Go(func() error {
			res, err := predictor.Predict(ctx, in)
			if err != nil {
				return fmt.Errorf("student %d: %w", in.StudentID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logrus.WithField("students", len(results)).Debug("batch scored")

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, res := range results {
		if _, err := fmt.Fprint(out, res.HumanString()); err != nil {
			return err
		}
	}
	return nil
}
