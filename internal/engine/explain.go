package engine

import (
	"context"
	"math"
	"sort"
	"time"
)

// Explainer decomposes a prediction into per-feature contributions
// measured against the schema baseline. Linear-family models get the
// exact analytic decomposition; anything else is explained by
// perturbation, which costs one extra inference per feature and is
// bounded by Timeout. A zero Timeout disables perturbation entirely.
type Explainer struct {
	Timeout time.Duration
}

// Explain computes signed contributions for the vector that produced the
// current prediction. The same model and vector must be used for both
// calls; mixing snapshots silently corrupts the explanation.
func (e *Explainer) Explain(ctx context.Context, m Model, vec []float64, schema *FeatureSchema) ([]Contribution, error) {
	if len(vec) != m.NumFeatures() {
		return nil, &DimensionMismatchError{Got: len(vec), Want: m.NumFeatures()}
	}

	if wm, ok := m.(WeightedModel); ok {
		return sortContributions(analyticContributions(wm, vec, schema)), nil
	}

	if e.Timeout <= 0 {
		return nil, &ExplanationUnsupportedError{Family: m.Family()}
	}

	contribs, err := e.perturbationContributions(ctx, m, vec, schema)
	if err != nil {
		return nil, err
	}
	return sortContributions(contribs), nil
}

// analyticContributions computes weight * (value - baseline) per feature.
// The scores live in logit space and sum exactly to the difference
// between the prediction logit and the baseline logit.
func analyticContributions(m WeightedModel, vec []float64, schema *FeatureSchema) []Contribution {
	weights := m.Weights()
	baseline := schema.BaselineVector()

	contribs := make([]Contribution, len(vec))
	for i := range vec {
		c := Contribution{Feature: schema.Features[i].Name, Index: i}
		if schema.Features[i].ZeroVariance() {
			c.ZeroVariance = true
		} else {
			c.Score = weights[i] * (vec[i] - baseline[i])
		}
		contribs[i] = c
	}
	return contribs
}

// perturbationContributions replaces one feature at a time with its
// baseline value and measures the drop in model output. Model-agnostic
// but linear in feature count, so the context deadline is checked before
// every extra inference.
func (e *Explainer) perturbationContributions(ctx context.Context, m Model, vec []float64, schema *FeatureSchema) ([]Contribution, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	base := m.Score(vec)
	baseline := schema.BaselineVector()

	// One scratch vector reused across perturbations; the input vector
	// itself is never mutated.
	perturbed := append([]float64(nil), vec...)

	contribs := make([]Contribution, len(vec))
	for i := range vec {
		select {
		case <-ctx.Done():
			return nil, &ExplanationTimeoutError{Timeout: e.Timeout, Completed: i}
		default:
		}

		c := Contribution{Feature: schema.Features[i].Name, Index: i}
		if schema.Features[i].ZeroVariance() {
			c.ZeroVariance = true
			contribs[i] = c
			continue
		}

		perturbed[i] = baseline[i]
		c.Score = base - m.Score(perturbed)
		perturbed[i] = vec[i]
		contribs[i] = c
	}

	return contribs, nil
}

// sortContributions orders by descending absolute score. The input is in
// schema order, so the stable sort breaks ties by ascending feature
// index, keeping the ranking reproducible.
func sortContributions(contribs []Contribution) []Contribution {
	sort.SliceStable(contribs, func(i, j int) bool {
		return math.Abs(contribs[i].Score) > math.Abs(contribs[j].Score)
	})
	return contribs
}
