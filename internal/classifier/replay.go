package classifier

import (
	"context"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/explain"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/tree"
)

// Replay scores records locally by walking the printed tree. A leaf's
// "(weight/errors)" annotation becomes Laplace-smoothed class probabilities;
// a record that stops before a leaf gets a uniform distribution.
type Replay struct {
	dump   string
	root   *tree.Branch
	labels []string
}

// NewReplay parses dump. With no labels given, the leaf labels of the tree
// are used in the order they first appear.
func NewReplay(dump string, labels ...string) (*Replay, error) {
	root := tree.Parse(dump)
	if len(labels) == 0 {
		labels = tree.Labels(root)
	}
	if len(labels) == 0 {
		return nil, ErrEmptyModel
	}
	return &Replay{dump: dump, root: root, labels: append([]string(nil), labels...)}, nil
}

// Dump returns the dump the replay was built from.
func (r *Replay) Dump(context.Context) (string, error) { return r.dump, nil }

func (r *Replay) Distribution(ctx context.Context, rec features.Record) (Distribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, leaf := explain.Trace(r.root, rec)

	labels := r.labels
	if leaf != nil && !contains(labels, leaf.Label) {
		labels = append(append([]string(nil), labels...), leaf.Label)
	}
	k := float64(len(labels))

	dist := make(Distribution, len(labels))
	if leaf == nil {
		for i, label := range labels {
			dist[i] = Probability{Label: label, P: 1 / k}
		}
		return dist, nil
	}

	// An unannotated leaf counts as a single correctly classified instance.
	weight, errs := leaf.Weight, leaf.Errors
	if weight <= 0 {
		weight, errs = 1, 0
	}
	if errs > weight {
		errs = weight
	}
	var share float64
	if k > 1 {
		share = errs / (k - 1)
	}
	for i, label := range labels {
		count := share
		if label == leaf.Label {
			count = weight - errs
		}
		dist[i] = Probability{Label: label, P: (count + 1) / (weight + k)}
	}
	return dist, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
