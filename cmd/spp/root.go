package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/classifier"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/config"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/explain"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/predict"
)

var rootCmd = &cobra.Command{
	Use:   "spp",
	Short: "Explain student pass/fail predictions from a J48 decision tree",
	Long: `spp reads the text dump of a J48 tree and explains, rule by rule, why a
student was predicted to PASS or FAIL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	logrus.SetOutput(os.Stderr)
	rootCmd.PersistentFlags().String("config", "", "Settings file (default .spp/settings.yaml)")
	rootCmd.PersistentFlags().String("classifier-url", os.Getenv("SPP_CLASSIFIER_URL"), "Model server used for scoring, falling back to the local tree")
	rootCmd.PersistentFlags().Bool("verbose", false, "Debug logging")
}

// readDump reads a dump file, or stdin when path is "-".
func readDump(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read dump: %w", err)
	}
	return string(data), nil
}

func attributes(cmd *cobra.Command) (*explain.AttributeTable, error) {
	path, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return settings.AttributeTable(), nil
}

// newPredictor scores with the local tree, or with the model server when one
// is configured.
func newPredictor(cmd *cobra.Command, dump string) (*predict.Predictor, error) {
	attrs, err := attributes(cmd)
	if err != nil {
		return nil, err
	}
	replay, err := classifier.NewReplay(dump)
	if err != nil {
		return nil, err
	}
	var model classifier.Classifier = replay

	url, _ := cmd.Flags().GetString("classifier-url")
	if strings.TrimSpace(url) != "" {
		client, err := classifier.NewClient(classifier.Config{
			BaseURL: url,
			Token:   os.Getenv("SPP_CLASSIFIER_TOKEN"),
			Timeout: 10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		model = classifier.WithFallback(client, replay)
	}
	return predict.New(commandContext(cmd), model, attrs)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
