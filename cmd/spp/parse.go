package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/tree"
)

var parseCmd = &cobra.Command{
	Use:   "parse <dump|->",
	Short: "Parse a tree dump and print its structure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dump, err := readDump(cmd, args[0])
		if err != nil {
			return err
		}
		text, _ := cmd.Flags().GetBool("text")
		return runParse(cmd, dump, text)
	},
}

func init() {
	parseCmd.Flags().Bool("text", false, "Print the tree in dump layout instead of JSON")
	rootCmd.AddCommand(parseCmd)
}

type parseOutput struct {
	Tree   *tree.Branch `json:"tree"`
	Leaves int          `json:"leaves"`
	Size   int          `json:"size"`
	Labels []string     `json:"labels"`
}

func runParse(cmd *cobra.Command, dump string, text bool) error {
	root := tree.Parse(dump)
	out := cmd.OutOrStdout()
	if text {
		_, err := fmt.Fprint(out, tree.Format(root))
		return err
	}
	leaves, size := tree.Stats(root)
	labels := tree.Labels(root)
	if labels == nil {
		labels = []string{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(parseOutput{Tree: root, Leaves: leaves, Size: size, Labels: labels})
}
