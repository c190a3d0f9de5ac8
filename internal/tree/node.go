// Package tree rebuilds the decision tree a J48 classifier prints through its
// text dump, so the same rules can be replayed outside the classifier.
package tree

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Operator is the comparison of a branch test.
type Operator int

const (
	// LE is "attribute <= threshold".
	LE Operator = iota + 1
	// GT is "attribute > threshold".
	GT
)

func (o Operator) String() string {
	switch o {
	case LE:
		return "<="
	case GT:
		return ">"
	default:
		return "?"
	}
}

// Eval compares value against threshold. NaN never satisfies either operator.
func (o Operator) Eval(value, threshold float64) bool {
	switch o {
	case LE:
		return value <= threshold
	case GT:
		return value > threshold
	default:
		return false
	}
}

// MarshalText renders the operator as "<=" or ">".
func (o Operator) MarshalText() ([]byte, error) {
	switch o {
	case LE, GT:
		return []byte(o.String()), nil
	default:
		return nil, fmt.Errorf("unknown operator %d", int(o))
	}
}

// UnmarshalText accepts "<=" and ">".
func (o *Operator) UnmarshalText(text []byte) error {
	switch string(text) {
	case "<=":
		*o = LE
	case ">":
		*o = GT
	default:
		return fmt.Errorf("unknown operator %q", string(text))
	}
	return nil
}

// Condition is a single branch test.
type Condition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
}

// Holds reports whether value passes the test.
func (c Condition) Holds(value float64) bool {
	return c.Operator.Eval(value, c.Threshold)
}

func (c Condition) String() string {
	return c.Attribute + " " + c.Operator.String() + " " + formatNumber(c.Threshold)
}

// Node is either a *Leaf or a *Branch.
type Node interface {
	// Incoming returns the condition guarding the node, nil for the root.
	Incoming() *Condition
	node()
}

// Leaf terminates classification with a class label. Weight and Errors hold
// the optional "(weight/errors)" annotation printed after the label.
type Leaf struct {
	Condition Condition `json:"condition"`
	Label     string    `json:"label"`
	Weight    float64   `json:"weight,omitempty"`
	Errors    float64   `json:"errors,omitempty"`
}

func (l *Leaf) Incoming() *Condition { return &l.Condition }
func (*Leaf) node()                  {}

// Branch is an internal node. The synthetic root is a Branch with a nil
// Condition. Children keep the order they were printed in, which decides
// which rule wins when more than one sibling matches.
type Branch struct {
	Condition *Condition `json:"condition,omitempty"`
	Children  []Node     `json:"children"`
}

func (b *Branch) Incoming() *Condition { return b.Condition }
func (*Branch) node()                  {}

func (b *Branch) MarshalJSON() ([]byte, error) {
	type plain Branch
	out := plain(*b)
	if out.Children == nil {
		out.Children = []Node{}
	}
	return json.Marshal(out)
}

// IsRoot reports whether b is the synthetic root.
func (b *Branch) IsRoot() bool { return b.Condition == nil }

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
