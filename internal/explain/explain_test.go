package explain

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/tree"
)

const header = "J48 pruned tree\n------------------\n\n"

const sampleDump = header + `weekly_self_study_hours <= 9.5
|   attendance_percentage <= 70: FAIL (120.0/4.0)
|   attendance_percentage > 70
|   |   class_participation <= 3: FAIL (10.0/2.0)
|   |   class_participation > 3: PASS (23.0)
weekly_self_study_hours > 9.5: PASS (300.0/21.0)

Number of Leaves  : 	4

Size of the tree : 	7
`

func shortTable() *AttributeTable {
	return NewAttributeTable(
		Attribute{Name: "study", Label: "study", Dimension: StudyHours},
		Attribute{Name: "attendance", Label: "attendance", Dimension: Attendance},
		Attribute{Name: "participation", Label: "participation", Dimension: Participation},
	)
}

func TestExplainFullNarrative(t *testing.T) {
	in := features.Input{StudentID: 1, WeeklySelfStudyHours: 6, AttendancePercentage: 75, ClassParticipation: 4}
	got := New(sampleDump, nil).Explain(in.Record(), "PASS")

	want := "The student is predicted to PASS based on the decision tree rules.\n\n" +
		"Decision path (tree conditions that matched this student):\n" +
		"1) weekly self-study hours is 6.00 and it satisfies: weekly self-study hours <= 9.50 hours\n" +
		"2) attendance percentage is 75.00 and it satisfies: attendance percentage > 70.00%\n" +
		"3) class participation is 4.00 and it satisfies: class participation > 3.00 (0–10)\n" +
		"\nInput values:\n" +
		"- Weekly self-study hours: 6.0\n" +
		"- Attendance percentage: 75.0%\n" +
		"- Class participation: 4.0/10\n" +
		"\nSimple recommendations:\n" +
		"- Increase study hours (target: 15–20 hours/week).\n" +
		"- Improve attendance to strengthen understanding.\n" +
		"- Participate more in discussions to reinforce learning.\n"
	if diff := cmp.Diff(want, got.Text); diff != "" {
		t.Fatalf("narrative mismatch (-want +got):\n%s", diff)
	}
	if len(got.Path) != 3 || got.Reached != "PASS" {
		t.Fatalf("expected 3 conditions ending at PASS got %d ending at %q", len(got.Path), got.Reached)
	}
}

func TestExplainScenarioNestedUnderLeaf(t *testing.T) {
	rec := features.Record{"study": 12, "attendance": 90, "participation": 8}
	got := New(header+"study <= 9: FAIL\n| study > 9: PASS", shortTable()).Explain(rec, "PASS")

	want := []tree.Condition{{Attribute: "study", Operator: tree.GT, Threshold: 9}}
	if diff := cmp.Diff(want, got.Path); diff != "" {
		t.Fatalf("path mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(got.Text, "1) study is 12.00 and it satisfies: study > 9.00\n") {
		t.Fatalf("expected path line in:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, "- Consider adding 2–5 more study hours per week.\n") {
		t.Fatalf("expected the 10–15 study band in:\n%s", got.Text)
	}
	if strings.Contains(got.Text, "Keep the current study routine.") {
		t.Fatalf("did not expect the 15+ study band in:\n%s", got.Text)
	}
}

func TestExplainLowAttendance(t *testing.T) {
	for name, rec := range map[string]features.Record{
		"alone":       {features.Attendance: 65},
		"with others": {features.Attendance: 65, features.StudyHours: 30, features.Participation: 9},
	} {
		t.Run(name, func(t *testing.T) {
			got := Explain(tree.Parse(sampleDump), nil, rec, "FAIL")
			if !strings.Contains(got.Text, "- Attendance is low; try to attend at least 80% of classes.\n") {
				t.Fatalf("expected low attendance advice in:\n%s", got.Text)
			}
		})
	}
}

func TestTraceFirstMatchWins(t *testing.T) {
	root := tree.Parse(header + "a > 1: FIRST\na > 0: SECOND")
	path, leaf := Trace(root, features.Record{"a": 5})
	if len(path) != 1 || path[0].Threshold != 1 {
		t.Fatalf("expected the first sibling got %v", path)
	}
	if leaf == nil || leaf.Label != "FIRST" {
		t.Fatalf("expected FIRST got %v", leaf)
	}
}

func TestTraceStopsWithoutMatch(t *testing.T) {
	tests := []struct {
		name    string
		dump    string
		rec     features.Record
		pathLen int
	}{
		{"no sibling matches", "a > 10: X\na <= 5: Y", features.Record{"a": 7}, 0},
		{"dead end below root", "a > 1\n|   b > 1: X", features.Record{"a": 2, "b": 0}, 1},
		{"missing attribute", "a <= 1: X\na > 1: Y", features.Record{}, 0},
		{"NaN value", "a <= 1: X\na > 1: Y", features.Record{"a": math.NaN()}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path, leaf := Trace(tree.Parse(header+tc.dump), tc.rec)
			if len(path) != tc.pathLen {
				t.Fatalf("expected %d conditions got %d", tc.pathLen, len(path))
			}
			if leaf != nil {
				t.Fatalf("expected no leaf got %s", leaf.Label)
			}
		})
	}
}

func TestExplainDegradesGracefully(t *testing.T) {
	got := Explain(tree.Parse(""), nil, features.Record{}, "FAIL")
	if got.Text == "" || got.Path == nil || len(got.Path) != 0 || got.Reached != "" {
		t.Fatalf("unexpected explanation %+v", got)
	}
	if !strings.Contains(got.Text, "No rule path could be extracted from the tree text, so a simplified summary is shown.\n") {
		t.Fatalf("expected fallback sentence in:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, "- Weekly self-study hours: NaN\n") {
		t.Fatalf("expected NaN echo in:\n%s", got.Text)
	}

	if got := Explain(nil, nil, features.Record{}, "PASS"); len(got.Path) != 0 {
		t.Fatalf("expected empty path for a nil tree")
	}
}

func TestExplainUnknownAttribute(t *testing.T) {
	got := New(header+"mystery <= 3: FAIL", nil).Explain(features.Record{"mystery": 1}, "FAIL")
	if !strings.Contains(got.Text, "1) mystery is NaN and it satisfies: mystery <= 3.00\n") {
		t.Fatalf("expected verbatim attribute line in:\n%s", got.Text)
	}
}

func TestExplainDeterministic(t *testing.T) {
	e := New(sampleDump, nil)
	rec := features.Record{features.StudyHours: 11.25, features.Attendance: 81, features.Participation: 2.5}
	first, second := e.Explain(rec, "FAIL"), e.Explain(rec, "FAIL")
	if first.Text != second.Text {
		t.Fatalf("expected identical narratives")
	}
	if diff := cmp.Diff(first.Path, second.Path); diff != "" {
		t.Fatalf("path mismatch (-first +second):\n%s", diff)
	}
}

func TestExplainKeepsPredictedLabel(t *testing.T) {
	rec := features.Record{features.StudyHours: 20, features.Attendance: 95, features.Participation: 9}
	got := New(sampleDump, nil).Explain(rec, "FAIL")
	if got.Reached != "PASS" {
		t.Fatalf("expected replay to reach PASS got %q", got.Reached)
	}
	if !strings.HasPrefix(got.Text, "The student is predicted to FAIL ") {
		t.Fatalf("expected the classifier's label in the header got:\n%s", got.Text)
	}
}
