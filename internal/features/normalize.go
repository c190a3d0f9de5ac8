package features

import (
	"regexp"
	"strings"
)

var (
	nonAlphaNum = regexp.MustCompile(`[^a-z0-9]+`)

	// aliases maps normalized header spellings to attribute names.
	aliases = map[string]string{
		"weekly_self_study_hours": StudyHours,
		"self_study_hours":        StudyHours,
		"study_hours":             StudyHours,
		"study":                   StudyHours,
		"attendance_percentage":   Attendance,
		"attendance":              Attendance,
		"attendance_pct":          Attendance,
		"class_participation":     Participation,
		"participation":           Participation,
		"student_id":              "student_id",
		"id":                      "student_id",
	}
)

// NormalizeName lower-cases s and folds every run of non-alphanumeric
// characters into a single underscore.
func NormalizeName(s string) string {
	lower := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
	lower = nonAlphaNum.ReplaceAllString(lower, "_")
	return strings.Trim(lower, "_")
}

// CanonicalColumn resolves a CSV header cell to an attribute name. The second
// result is false for columns the model does not use.
func CanonicalColumn(header string) (string, bool) {
	name, ok := aliases[NormalizeName(header)]
	return name, ok
}
