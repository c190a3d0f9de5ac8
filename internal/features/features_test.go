package features

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Weekly Self-Study Hours": "weekly_self_study_hours",
		"  attendance (%) ":       "attendance",
		"\ufeffstudent_id":        "student_id",
		"Class__Participation":    "class_participation",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			if got := NormalizeName(in); got != want {
				t.Fatalf("expected %s got %s", want, got)
			}
		})
	}
}

func TestRecordValueMissing(t *testing.T) {
	rec := Record{StudyHours: 12}
	if rec.Value(StudyHours) != 12 {
		t.Fatalf("expected 12 got %v", rec.Value(StudyHours))
	}
	if !math.IsNaN(rec.Value(Attendance)) {
		t.Fatalf("expected NaN for a missing attribute")
	}
	in := InputFromRecord(7, rec)
	if in.StudentID != 7 || in.WeeklySelfStudyHours != 12 || !math.IsNaN(in.ClassParticipation) {
		t.Fatalf("unexpected input %+v", in)
	}
}

func TestReadCSV(t *testing.T) {
	data := strings.Join([]string{
		"Student ID,Attendance,Weekly Self Study Hours,Class Participation,grade",
		"101,90,12,8,B",
		"102,65,4.5,2,F",
		"oops,80,not-a-number,5,C",
		",,,,",
		",75,15,,A",
		"x,70,10,3,C",
	}, "\n")
	res, err := ReadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Inputs) != 3 || res.Skipped != 2 {
		t.Fatalf("expected 3 inputs and 2 skipped got %d and %d", len(res.Inputs), res.Skipped)
	}
	first := res.Inputs[0]
	if first.StudentID != 101 || first.AttendancePercentage != 90 || first.WeeklySelfStudyHours != 12 || first.ClassParticipation != 8 {
		t.Fatalf("unexpected first row %+v", first)
	}
	// a row without a usable id falls back to its row number
	if last := res.Inputs[2]; last.StudentID != 5 {
		t.Fatalf("expected row number 5 got %d", last.StudentID)
	}
}

func TestReadCSVMissingColumns(t *testing.T) {
	for name, data := range map[string]string{
		"empty":           "",
		"partial header":  "student_id,attendance\n1,90\n",
		"headerless rows": "12,90,8\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(data)); !errors.Is(err, ErrMissingColumns) {
				t.Fatalf("expected ErrMissingColumns got %v", err)
			}
		})
	}
}
