package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/explain"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
)

var explainCmd = &cobra.Command{
	Use:   "explain <dump|->",
	Short: "Predict one student and explain the rule path",
	Long: `Scores one student with the tree and prints the explanation. With --label
the scoring step is skipped and the given label is explained as is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dump, err := readDump(cmd, args[0])
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		in := features.Input{}
		in.StudentID, _ = flags.GetInt("id")
		in.WeeklySelfStudyHours, _ = flags.GetFloat64("study")
		in.AttendancePercentage, _ = flags.GetFloat64("attendance")
		in.ClassParticipation, _ = flags.GetFloat64("participation")
		label, _ := flags.GetString("label")
		return runExplain(cmd, dump, in, label)
	},
}

func init() {
	explainCmd.Flags().Int("id", 1, "Student id shown in the report")
	explainCmd.Flags().Float64("study", 0, "Weekly self-study hours")
	explainCmd.Flags().Float64("attendance", 0, "Attendance percentage")
	explainCmd.Flags().Float64("participation", 0, "Class participation (0-10)")
	explainCmd.Flags().String("label", "", "Explain this label instead of scoring")
	_ = explainCmd.MarkFlagRequired("study")
	_ = explainCmd.MarkFlagRequired("attendance")
	_ = explainCmd.MarkFlagRequired("participation")
	rootCmd.AddCommand(explainCmd)
}

func runExplain(cmd *cobra.Command, dump string, in features.Input, label string) error {
	out := cmd.OutOrStdout()
	if label = strings.TrimSpace(label); label != "" {
		attrs, err := attributes(cmd)
		if err != nil {
			return err
		}
		exp := explain.New(dump, attrs).Explain(in.Record(), label)
		_, err = fmt.Fprint(out, exp.Text)
		return err
	}

	predictor, err := newPredictor(cmd, dump)
	if err != nil {
		return err
	}
	res, err := predictor.Predict(commandContext(cmd), in)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, res.HumanString())
	return err
}
