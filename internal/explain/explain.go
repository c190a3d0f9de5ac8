// Package explain replays a parsed decision tree against a student record and
// turns the matched rules into a plain-language explanation.
package explain

import (
	"fmt"
	"math"
	"strings"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/tree"
)

// Explanation is the narrative and the rule path behind one prediction.
// Reached is the label of the leaf the replay ended on, empty when no rule
// matched at some level. It is not compared with the predicted label: the
// classifier may legitimately disagree with the bare tree.
type Explanation struct {
	Text    string           `json:"text"`
	Path    []tree.Condition `json:"path"`
	Reached string           `json:"reached,omitempty"`
}

// Explainer holds one parsed tree for the lifetime of a loaded model.
type Explainer struct {
	root  *tree.Branch
	attrs *AttributeTable
}

// New parses dump once. A nil table selects DefaultAttributes.
func New(dump string, attrs *AttributeTable) *Explainer {
	return FromTree(tree.Parse(dump), attrs)
}

// FromTree wraps an already parsed tree.
func FromTree(root *tree.Branch, attrs *AttributeTable) *Explainer {
	if root == nil {
		root = &tree.Branch{}
	}
	if attrs == nil {
		attrs = DefaultAttributes()
	}
	return &Explainer{root: root, attrs: attrs}
}

// Tree returns the parsed tree. Callers must not modify it.
func (e *Explainer) Tree() *tree.Branch { return e.root }

// Explain describes why rec was given predicted.
func (e *Explainer) Explain(rec features.Record, predicted string) Explanation {
	return Explain(e.root, e.attrs, rec, predicted)
}

// Trace descends from root taking, at every branch, the first child whose
// condition holds for rec. It stops at a leaf, which it returns, or at the
// first branch where no child matches, returning a nil leaf.
func Trace(root *tree.Branch, rec features.Record) ([]tree.Condition, *tree.Leaf) {
	path := []tree.Condition{}
	if root == nil {
		return path, nil
	}
	var node tree.Node = root
	for {
		branch, ok := node.(*tree.Branch)
		if !ok {
			return path, node.(*tree.Leaf)
		}
		next := firstMatch(branch, rec)
		if next == nil {
			return path, nil
		}
		path = append(path, *next.Incoming())
		node = next
	}
}

func firstMatch(b *tree.Branch, rec features.Record) tree.Node {
	for _, child := range b.Children {
		c := child.Incoming()
		if c != nil && c.Holds(rec.Value(c.Attribute)) {
			return child
		}
	}
	return nil
}

// Explain replays root for rec and renders the narrative for predicted.
func Explain(root *tree.Branch, attrs *AttributeTable, rec features.Record, predicted string) Explanation {
	if attrs == nil {
		attrs = DefaultAttributes()
	}
	path, leaf := Trace(root, rec)

	var sb strings.Builder
	fmt.Fprintf(&sb, "The student is predicted to %s based on the decision tree rules.\n\n", predicted)

	if len(path) == 0 {
		sb.WriteString("No rule path could be extracted from the tree text, so a simplified summary is shown.\n")
	} else {
		sb.WriteString("Decision path (tree conditions that matched this student):\n")
		for i, c := range path {
			fmt.Fprintf(&sb, "%d) %s\n", i+1, describe(c, attrs, rec))
		}
	}

	values := dimensionValues(attrs, rec)
	sb.WriteString("\nInput values:\n")
	fmt.Fprintf(&sb, "- Weekly self-study hours: %.1f\n", values[StudyHours])
	fmt.Fprintf(&sb, "- Attendance percentage: %.1f%%\n", values[Attendance])
	fmt.Fprintf(&sb, "- Class participation: %.1f/10\n", values[Participation])

	sb.WriteString("\nSimple recommendations:\n")
	for _, d := range dimensions {
		sb.WriteString("- ")
		sb.WriteString(Recommend(d, values[d]))
		sb.WriteByte('\n')
	}

	exp := Explanation{Text: sb.String(), Path: path}
	if leaf != nil {
		exp.Reached = leaf.Label
	}
	return exp
}

// describe renders one matched condition. Attributes missing from the table
// are printed by name with no unit and a NaN value.
func describe(c tree.Condition, attrs *AttributeTable, rec features.Record) string {
	label, unit, actual := c.Attribute, "", math.NaN()
	if a, ok := attrs.Lookup(c.Attribute); ok {
		label, unit, actual = a.Label, a.Unit, rec.Value(a.Name)
	}
	return fmt.Sprintf("%s is %.2f and it satisfies: %s %s %.2f%s",
		label, actual, label, c.Operator, c.Threshold, unit)
}

func dimensionValues(attrs *AttributeTable, rec features.Record) map[Dimension]float64 {
	out := make(map[Dimension]float64, len(dimensions))
	for _, d := range dimensions {
		out[d] = math.NaN()
		if a, ok := attrs.ByDimension(d); ok {
			out[d] = rec.Value(a.Name)
		}
	}
	return out
}
