// Package predict combines the classifier's verdict with the rule-path
// explanation of the tree it printed.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/classifier"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/explain"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/tree"
)

// ErrNoModel is returned when no model is loaded or it reports no labels.
var ErrNoModel = errors.New("no model loaded")

// Result is one scored student.
type Result struct {
	Input        features.Input          `json:"input"`
	Label        string                  `json:"label"`
	Confidence   float64                 `json:"confidence"`
	Explanation  string                  `json:"explanation"`
	Path         []tree.Condition        `json:"path"`
	Reached      string                  `json:"reached,omitempty"`
	Distribution classifier.Distribution `json:"distribution"`
}

// HumanString renders the result as a report block.
func (r Result) HumanString() string {
	return fmt.Sprintf("Student %d prediction: %s (confidence %s%%)\n\n%s\n------------------------------------------------------------\n",
		r.Input.StudentID, r.Label, Percent(r.Confidence), r.Explanation)
}

// Percent formats a probability as a whole percentage, rounding halves up.
func Percent(p float64) string {
	return strconv.FormatFloat(math.Floor(p*100+0.5), 'f', 0, 64)
}

// Predictor scores students with one classifier. The tree behind the
// explanations is parsed once, when the predictor is built.
type Predictor struct {
	model     classifier.Classifier
	explainer *explain.Explainer
}

// New loads the classifier's dump and parses it. attrs may be nil.
func New(ctx context.Context, model classifier.Classifier, attrs *explain.AttributeTable) (*Predictor, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	dump, err := model.Dump(ctx)
	if err != nil {
		return nil, fmt.Errorf("load model dump: %w", err)
	}
	return &Predictor{model: model, explainer: explain.New(dump, attrs)}, nil
}

// Predict asks the classifier for a label and explains it.
func (p *Predictor) Predict(ctx context.Context, in features.Input) (Result, error) {
	rec := in.Record()
	dist, err := p.model.Distribution(ctx, rec)
	if err != nil {
		return Result{}, fmt.Errorf("classify student %d: %w", in.StudentID, err)
	}
	best, ok := dist.ArgMax()
	if !ok {
		return Result{}, ErrNoModel
	}

	exp := p.explainer.Explain(rec, best.Label)
	return Result{
		Input:        in,
		Label:        best.Label,
		Confidence:   best.P,
		Explanation:  exp.Text + "\n\nModel confidence: " + Percent(best.P) + "%",
		Path:         exp.Path,
		Reached:      exp.Reached,
		Distribution: dist,
	}, nil
}
