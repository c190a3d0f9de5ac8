package explain

import (
	"fmt"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
)

// Dimension is one of the three student measures the narrative echoes and
// gives guidance on.
type Dimension int

const (
	NoDimension Dimension = iota
	StudyHours
	Attendance
	Participation
)

var dimensionNames = map[Dimension]string{
	NoDimension:   "",
	StudyHours:    "study_hours",
	Attendance:    "attendance",
	Participation: "participation",
}

func (d Dimension) String() string { return dimensionNames[d] }

// MarshalText encodes the dimension by name.
func (d Dimension) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a dimension name; unknown names are an error.
func (d *Dimension) UnmarshalText(text []byte) error {
	for dim, name := range dimensionNames {
		if name == string(text) {
			*d = dim
			return nil
		}
	}
	return fmt.Errorf("unknown dimension %q", string(text))
}

// Attribute describes how a tree attribute is rendered in a narrative.
type Attribute struct {
	Name      string    `json:"name" yaml:"name"`
	Label     string    `json:"label" yaml:"label"`
	Unit      string    `json:"unit" yaml:"unit"`
	Dimension Dimension `json:"dimension" yaml:"dimension"`
}

// AttributeTable is the lookup of known attributes. It is read-only once
// built and safe to share.
type AttributeTable struct {
	byName map[string]Attribute
	order  []string
}

// NewAttributeTable builds a table; a later attribute with the same name
// replaces an earlier one.
func NewAttributeTable(attrs ...Attribute) *AttributeTable {
	t := &AttributeTable{byName: make(map[string]Attribute, len(attrs))}
	for _, a := range attrs {
		if _, ok := t.byName[a.Name]; !ok {
			t.order = append(t.order, a.Name)
		}
		t.byName[a.Name] = a
	}
	return t
}

// DefaultAttributes returns the table for the pass/fail model's features.
func DefaultAttributes() *AttributeTable {
	return NewAttributeTable(
		Attribute{Name: features.StudyHours, Label: "weekly self-study hours", Unit: " hours", Dimension: StudyHours},
		Attribute{Name: features.Attendance, Label: "attendance percentage", Unit: "%", Dimension: Attendance},
		Attribute{Name: features.Participation, Label: "class participation", Unit: " (0–10)", Dimension: Participation},
	)
}

// With returns a copy of t with attrs added or replaced.
func (t *AttributeTable) With(attrs ...Attribute) *AttributeTable {
	return NewAttributeTable(append(t.Attributes(), attrs...)...)
}

// Lookup finds an attribute by its tree name.
func (t *AttributeTable) Lookup(name string) (Attribute, bool) {
	if t == nil {
		return Attribute{}, false
	}
	a, ok := t.byName[name]
	return a, ok
}

// ByDimension returns the first attribute bound to d.
func (t *AttributeTable) ByDimension(d Dimension) (Attribute, bool) {
	if t == nil {
		return Attribute{}, false
	}
	for _, name := range t.order {
		if a := t.byName[name]; a.Dimension == d {
			return a, true
		}
	}
	return Attribute{}, false
}

// Attributes lists the table in insertion order.
func (t *AttributeTable) Attributes() []Attribute {
	if t == nil {
		return nil
	}
	out := make([]Attribute, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.byName[name])
	}
	return out
}
