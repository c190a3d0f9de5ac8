// Package classifier talks to the opaque pass/fail model: it fetches the
// model's tree dump and asks it for class probabilities.
package classifier

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
)

// Classifier is the narrow view of a trained model the rest of the service
// relies on.
type Classifier interface {
	// Dump returns the model's printed tree.
	Dump(ctx context.Context) (string, error)
	// Distribution returns the probability of every class label for rec.
	Distribution(ctx context.Context, rec features.Record) (Distribution, error)
}

var (
	// ErrDisabled is returned when no remote model is configured.
	ErrDisabled = errors.New("classifier disabled")
	// ErrEmptyModel is returned when a model has no class labels.
	ErrEmptyModel = errors.New("classifier has no class labels")
)

// Probability is the model's belief in one label.
type Probability struct {
	Label string  `json:"label"`
	P     float64 `json:"p"`
}

// Distribution lists probabilities in the model's label order.
type Distribution []Probability

// ArgMax returns the most probable label. On a tie the earlier label wins.
// ok is false for an empty distribution.
func (d Distribution) ArgMax() (best Probability, ok bool) {
	if len(d) == 0 {
		return Probability{}, false
	}
	best = d[0]
	for _, p := range d[1:] {
		if p.P > best.P {
			best = p
		}
	}
	return best, true
}

type chain struct {
	primary  Classifier
	fallback Classifier
}

// WithFallback returns a classifier that asks primary first and falls back
// when it fails or returns nothing usable.
func WithFallback(primary, fallback Classifier) Classifier {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return &chain{primary: primary, fallback: fallback}
}

func (c *chain) Dump(ctx context.Context) (string, error) {
	dump, err := c.primary.Dump(ctx)
	if err == nil && dump != "" {
		return dump, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	logrus.WithError(err).Warn("primary classifier dump unavailable, using fallback")
	return c.fallback.Dump(ctx)
}

func (c *chain) Distribution(ctx context.Context, rec features.Record) (Distribution, error) {
	dist, err := c.primary.Distribution(ctx, rec)
	if err == nil && len(dist) > 0 {
		return dist, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logrus.WithError(err).Warn("primary classifier distribution unavailable, using fallback")
	return c.fallback.Distribution(ctx, rec)
}
