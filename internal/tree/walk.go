package tree

import (
	"fmt"
	"strings"
)

// Walk visits root and its descendants in pre-order. The root is at depth 0.
// Returning false from fn skips the node's children.
func Walk(root Node, fn func(n Node, depth int) bool) {
	walk(root, 0, fn)
}

func walk(n Node, depth int, fn func(Node, int) bool) {
	if n == nil || !fn(n, depth) {
		return
	}
	if b, ok := n.(*Branch); ok {
		for _, child := range b.Children {
			walk(child, depth+1, fn)
		}
	}
}

// Stats returns the number of leaves and the tree size (every node, root
// included), the figures printed after a J48 dump.
func Stats(root *Branch) (leaves, size int) {
	Walk(root, func(n Node, _ int) bool {
		size++
		if _, ok := n.(*Leaf); ok {
			leaves++
		}
		return true
	})
	return leaves, size
}

// Labels lists the distinct leaf labels in the order they first appear.
func Labels(root *Branch) []string {
	seen := map[string]bool{}
	var out []string
	Walk(root, func(n Node, _ int) bool {
		if l, ok := n.(*Leaf); ok && !seen[l.Label] {
			seen[l.Label] = true
			out = append(out, l.Label)
		}
		return true
	})
	return out
}

// Format prints root in the J48 dump layout so the result parses back into
// the same tree.
func Format(root *Branch) string {
	var sb strings.Builder
	sb.WriteString("J48 pruned tree\n------------------\n\n")
	Walk(root, func(n Node, depth int) bool {
		if depth == 0 {
			return true
		}
		sb.WriteString(strings.Repeat("|   ", depth-1))
		sb.WriteString(n.Incoming().String())
		if l, ok := n.(*Leaf); ok {
			sb.WriteString(": ")
			sb.WriteString(l.Label)
			if l.Weight != 0 || l.Errors != 0 {
				if l.Errors != 0 {
					fmt.Fprintf(&sb, " (%s/%s)", formatNumber(l.Weight), formatNumber(l.Errors))
				} else {
					fmt.Fprintf(&sb, " (%s)", formatNumber(l.Weight))
				}
			}
		}
		sb.WriteByte('\n')
		return true
	})
	leaves, size := Stats(root)
	fmt.Fprintf(&sb, "\nNumber of Leaves  : \t%d\n\nSize of the tree : \t%d\n", leaves, size)
	return sb.String()
}
