package tree

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const depthMarker = '|'

var (
	startMarkers = []string{"J48 pruned tree", "J48 unpruned tree"}
	endPrefixes  = []string{"Number of Leaves", "Size of the tree", "=== "}

	lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	annotation = regexp.MustCompile(`\(\s*([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*(?:/\s*([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*)?\)`)
)

// Parse rebuilds the tree printed in dump. It never fails: a dump without a
// start marker, or whose lines cannot be read, yields a root with no children,
// and individual malformed lines are skipped.
func Parse(dump string) *Branch {
	root := &Branch{}
	stack := []Node{root}

	for _, raw := range body(dump) {
		depth, content := splitDepth(raw)
		n, ok := parseLine(content)
		if !ok {
			continue
		}
		if len(stack) > depth+1 {
			stack = stack[:depth+1]
		}
		// A leaf cannot own children: lines printed under one attach to the
		// nearest enclosing branch instead.
		for {
			if _, isLeaf := stack[len(stack)-1].(*Leaf); !isLeaf {
				break
			}
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].(*Branch)
		parent.Children = append(parent.Children, n)
		stack = append(stack, n)
	}
	return root
}

// body returns the lines between the start marker (plus its separator line)
// and the first trailer line.
func body(dump string) []string {
	lines := strings.Split(lineBreaks.Replace(dump), "\n")
	start := -1
	for i, line := range lines {
		if isStartMarker(strings.TrimSpace(line)) {
			start = i + 2
			break
		}
	}
	if start < 0 || start >= len(lines) {
		return nil
	}
	end := len(lines)
	for i := start; i < len(lines); i++ {
		if isTrailer(strings.TrimSpace(lines[i])) {
			end = i
			break
		}
	}
	return lines[start:end]
}

func isStartMarker(s string) bool {
	for _, marker := range startMarkers {
		if strings.EqualFold(s, marker) {
			return true
		}
	}
	return false
}

func isTrailer(s string) bool {
	for _, prefix := range endPrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// splitDepth counts the depth markers at the start of line and returns the
// remaining content, trimmed.
func splitDepth(line string) (int, string) {
	depth := 0
	i := 0
	for i < len(line) {
		switch line[i] {
		case depthMarker:
			depth++
			i++
		case ' ', '\t':
			i++
		default:
			return depth, strings.TrimSpace(line[i:])
		}
	}
	return depth, ""
}

func parseLine(content string) (Node, bool) {
	clause, leafClause, hasLeaf := strings.Cut(content, ":")
	cond, ok := parseCondition(strings.TrimSpace(clause))
	if !ok {
		return nil, false
	}
	fields := strings.Fields(leafClause)
	if !hasLeaf || len(fields) == 0 {
		return &Branch{Condition: &cond}, true
	}
	leaf := &Leaf{Condition: cond, Label: fields[0]}
	if m := annotation.FindStringSubmatch(leafClause); m != nil {
		leaf.Weight, _ = strconv.ParseFloat(m[1], 64)
		if m[2] != "" {
			leaf.Errors, _ = strconv.ParseFloat(m[2], 64)
		}
	}
	return leaf, true
}

// parseCondition reads "attribute <= threshold" or "attribute > threshold".
// "<=" is looked for first so it is never read as ">".
func parseCondition(clause string) (Condition, bool) {
	op := LE
	idx := strings.Index(clause, "<=")
	width := 2
	if idx < 0 {
		op = GT
		idx = strings.Index(clause, ">")
		width = 1
	}
	if idx < 0 {
		return Condition{}, false
	}
	attr := strings.TrimSpace(clause[:idx])
	rhs := strings.Fields(clause[idx+width:])
	if attr == "" || len(rhs) == 0 {
		return Condition{}, false
	}
	threshold, err := strconv.ParseFloat(rhs[0], 64)
	if err != nil || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return Condition{}, false
	}
	return Condition{Attribute: attr, Operator: op, Threshold: threshold}, true
}
