// Package features describes the student record scored by the pass/fail model.
package features

import "math"

// Attribute names as they appear in the model's tree dump.
const (
	StudyHours    = "weekly_self_study_hours"
	Attendance    = "attendance_percentage"
	Participation = "class_participation"

	// Target is the class attribute the model predicts.
	Target = "pass_fail"
)

// Class labels of the target attribute, in model order.
const (
	LabelFail = "FAIL"
	LabelPass = "PASS"
)

var featureOrder = []string{StudyHours, Attendance, Participation}

// Labels returns the class labels in the order the model reports them.
func Labels() []string { return []string{LabelFail, LabelPass} }

// Record maps attribute names to numeric values.
type Record map[string]float64

// Value returns the named value, or NaN when the record does not carry it.
func (r Record) Value(name string) float64 {
	if v, ok := r[name]; ok {
		return v
	}
	return math.NaN()
}

// Input is one student submitted for prediction.
type Input struct {
	StudentID            int     `json:"student_id"`
	WeeklySelfStudyHours float64 `json:"weekly_self_study_hours"`
	AttendancePercentage float64 `json:"attendance_percentage"`
	ClassParticipation   float64 `json:"class_participation"`
}

// Record converts the input to the attribute record the tree is replayed on.
func (in Input) Record() Record {
	return Record{
		StudyHours:    in.WeeklySelfStudyHours,
		Attendance:    in.AttendancePercentage,
		Participation: in.ClassParticipation,
	}
}

// InputFromRecord fills an Input from a record; missing values stay NaN.
func InputFromRecord(id int, rec Record) Input {
	return Input{
		StudentID:            id,
		WeeklySelfStudyHours: rec.Value(StudyHours),
		AttendancePercentage: rec.Value(Attendance),
		ClassParticipation:   rec.Value(Participation),
	}
}
