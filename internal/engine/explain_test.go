package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func explainSchema(n int) *FeatureSchema {
	features := make([]FeatureSpec, n)
	names := []string{"income", "age", "credit_amount", "guarantee_value", "liquidity_score"}
	for i := range features {
		features[i] = FeatureSpec{Name: names[i], Scale: 1}
	}
	return &FeatureSchema{Version: "v1", Features: features}
}

func TestExplainAnalyticContributionsSumToLogitDiff(t *testing.T) {
	m := NewLinearModel([]float64{0.3, -0.4, 0.5, 0.1}, 0)
	schema := explainSchema(4)
	vec := []float64{1.2, -0.7, 0.4, 2.1}

	e := &Explainer{}
	contribs, err := e.Explain(context.Background(), m, vec, schema)
	require.NoError(t, err)
	require.Len(t, contribs, 4)

	sum := 0.0
	for _, c := range contribs {
		sum += c.Score
	}

	baselineLogit := m.Logit(schema.BaselineVector())
	assert.InDelta(t, m.Logit(vec)-baselineLogit, sum, 1e-6)
}

func TestExplainAnalyticValues(t *testing.T) {
	m := NewLinearModel([]float64{0.5, -1}, 0)
	schema := &FeatureSchema{Version: "v1", Features: []FeatureSpec{
		{Name: "income", Scale: 1, Baseline: 1},
		{Name: "age", Scale: 1, Baseline: 0},
	}}

	e := &Explainer{}
	contribs, err := e.Explain(context.Background(), m, []float64{3, 2}, schema)
	require.NoError(t, err)

	// weight * (value - baseline): 0.5*(3-1)=1 and -1*(2-0)=-2,
	// sorted by descending magnitude.
	assert.Equal(t, "age", contribs[0].Feature)
	assert.InDelta(t, -2.0, contribs[0].Score, 1e-12)
	assert.Equal(t, "income", contribs[1].Feature)
	assert.InDelta(t, 1.0, contribs[1].Score, 1e-12)
}

func TestExplainSortAndTieBreak(t *testing.T) {
	// Equal-magnitude contributions keep schema order.
	m := NewLinearModel([]float64{1, -1, 1}, 0)
	schema := explainSchema(3)
	vec := []float64{2, 2, 2}

	e := &Explainer{}
	contribs, err := e.Explain(context.Background(), m, vec, schema)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, []int{contribs[0].Index, contribs[1].Index, contribs[2].Index})
}

func TestExplainZeroVarianceFlag(t *testing.T) {
	m := NewLinearModel([]float64{5, 1}, 0)
	schema := &FeatureSchema{Version: "v1", Features: []FeatureSpec{
		{Name: "constant", Scale: 0},
		{Name: "income", Scale: 1},
	}}

	e := &Explainer{}
	contribs, err := e.Explain(context.Background(), m, []float64{4, 1}, schema)
	require.NoError(t, err)

	var constant Contribution
	for _, c := range contribs {
		if c.Feature == "constant" {
			constant = c
		}
	}

	// Zero-variance features carry no signal regardless of their weight.
	assert.True(t, constant.ZeroVariance)
	assert.Zero(t, constant.Score)
}

func TestExplainDimensionMismatch(t *testing.T) {
	m := NewLinearModel([]float64{1, 2}, 0)

	e := &Explainer{}
	_, err := e.Explain(context.Background(), m, []float64{1}, explainSchema(2))

	var dimErr *DimensionMismatchError
	require.True(t, errors.As(err, &dimErr))
}

func TestExplainPerturbationForForest(t *testing.T) {
	// Single tree splitting on feature 0: baseline (0) lands left.
	forest := NewForestModel([]Tree{{Nodes: []TreeNode{
		{Feature: 0, Threshold: 0.5, Left: 1, Right: 2},
		{Leaf: true, Value: 0.2},
		{Leaf: true, Value: 0.8},
	}}}, 2)

	schema := explainSchema(2)
	vec := []float64{1, 0}

	e := &Explainer{Timeout: time.Second}
	contribs, err := e.Explain(context.Background(), forest, vec, schema)
	require.NoError(t, err)
	require.Len(t, contribs, 2)

	// Flipping feature 0 to its baseline moves the score 0.8 -> 0.2.
	assert.Equal(t, "income", contribs[0].Feature)
	assert.InDelta(t, 0.6, contribs[0].Score, 1e-12)
	assert.InDelta(t, 0.0, contribs[1].Score, 1e-12)
}

func TestExplainUnsupportedWithoutTimeout(t *testing.T) {
	forest := NewForestModel([]Tree{{Nodes: []TreeNode{{Leaf: true, Value: 0.5}}}}, 1)

	e := &Explainer{}
	_, err := e.Explain(context.Background(), forest, []float64{0}, explainSchema(1))

	var unsupportedErr *ExplanationUnsupportedError
	require.True(t, errors.As(err, &unsupportedErr))
	assert.Equal(t, "forest", unsupportedErr.Family)
}

func TestExplainPerturbationTimeout(t *testing.T) {
	forest := NewForestModel([]Tree{{Nodes: []TreeNode{{Leaf: true, Value: 0.5}}}}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &Explainer{Timeout: time.Second}
	_, err := e.Explain(ctx, forest, []float64{0, 0}, explainSchema(2))

	var timeoutErr *ExplanationTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 0, timeoutErr.Completed)
}

func TestExplainDoesNotMutateVector(t *testing.T) {
	forest := NewForestModel([]Tree{{Nodes: []TreeNode{
		{Feature: 0, Threshold: 0, Left: 1, Right: 2},
		{Leaf: true, Value: 0.1},
		{Leaf: true, Value: 0.9},
	}}}, 2)

	vec := []float64{1, -1}
	e := &Explainer{Timeout: time.Second}
	_, err := e.Explain(context.Background(), forest, vec, explainSchema(2))
	require.NoError(t, err)

	assert.Equal(t, []float64{1, -1}, vec)
}

func TestExplainDeterministic(t *testing.T) {
	m := NewLinearModel([]float64{0.3, -0.4, 0.5, 0.1}, 0)
	schema := explainSchema(4)
	vec := []float64{0.9, 0.3, -1.1, 0.2}

	e := &Explainer{}
	first, err := e.Explain(context.Background(), m, vec, schema)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := e.Explain(context.Background(), m, vec, schema)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	for _, c := range first {
		assert.False(t, math.IsNaN(c.Score))
	}
}
