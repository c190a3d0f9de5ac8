package explain

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
)

func TestAttributeTableLookup(t *testing.T) {
	table := DefaultAttributes()
	a, ok := table.Lookup(features.Attendance)
	if !ok || a.Unit != "%" || a.Dimension != Attendance {
		t.Fatalf("unexpected attendance attribute %+v", a)
	}
	if _, ok := table.Lookup("study"); ok {
		t.Fatalf("did not expect a short name in the default table")
	}

	override := table.With(Attribute{Name: features.StudyHours, Label: "study time", Unit: " h", Dimension: StudyHours})
	if a, _ := override.Lookup(features.StudyHours); a.Label != "study time" {
		t.Fatalf("expected override got %+v", a)
	}
	if a, _ := table.Lookup(features.StudyHours); a.Label != "weekly self-study hours" {
		t.Fatalf("expected the original table untouched got %+v", a)
	}
	if len(override.Attributes()) != 3 {
		t.Fatalf("expected 3 attributes got %d", len(override.Attributes()))
	}
	if a, ok := override.ByDimension(Participation); !ok || a.Name != features.Participation {
		t.Fatalf("unexpected participation attribute %+v", a)
	}
}

func TestAttributeYAML(t *testing.T) {
	var attrs []Attribute
	doc := "- name: hours\n  label: hours studied\n  unit: \" h\"\n  dimension: study_hours\n"
	if err := yaml.Unmarshal([]byte(doc), &attrs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(attrs) != 1 || attrs[0].Dimension != StudyHours || attrs[0].Unit != " h" {
		t.Fatalf("unexpected attributes %+v", attrs)
	}
	if err := yaml.Unmarshal([]byte("- name: x\n  dimension: sleep\n"), &attrs); err == nil {
		t.Fatalf("expected an unknown dimension to fail")
	}
}
