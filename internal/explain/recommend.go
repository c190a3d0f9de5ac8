package explain

type band struct {
	below float64
	text  string
}

type guidance struct {
	bands     []band
	otherwise string
}

// Fixed advice bands. Each band covers values from the previous bound
// (inclusive) up to below (exclusive).
var advice = map[Dimension]guidance{
	StudyHours: {
		bands: []band{
			{10, "Increase study hours (target: 15–20 hours/week)."},
			{15, "Consider adding 2–5 more study hours per week."},
		},
		otherwise: "Keep the current study routine.",
	},
	Attendance: {
		bands: []band{
			{70, "Attendance is low; try to attend at least 80% of classes."},
			{80, "Improve attendance to strengthen understanding."},
		},
		otherwise: "Maintain good attendance.",
	},
	Participation: {
		bands: []band{
			{3, "Participation is low; ask/answer at least 1 question per class."},
			{5, "Participate more in discussions to reinforce learning."},
		},
		otherwise: "Keep engaging in class.",
	},
}

var dimensions = []Dimension{StudyHours, Attendance, Participation}

// Recommend returns the advice for value on dimension d. A NaN value falls
// through to the last band.
func Recommend(d Dimension, value float64) string {
	g, ok := advice[d]
	if !ok {
		return ""
	}
	for _, b := range g.bands {
		if value < b.below {
			return b.text
		}
	}
	return g.otherwise
}

// Recommendations returns the advice for each dimension in narrative order.
func Recommendations(study, attendance, participation float64) []string {
	return []string{
		Recommend(StudyHours, study),
		Recommend(Attendance, attendance),
		Recommend(Participation, participation),
	}
}
