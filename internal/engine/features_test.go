package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiquidityScore(t *testing.T) {
	tests := []struct {
		name      string
		liquidity string
		expected  float64
		ok        bool
	}{
		{name: "low maps to 1", liquidity: "low", expected: 1, ok: true},
		{name: "medium maps to 2", liquidity: "medium", expected: 2, ok: true},
		{name: "high maps to 3", liquidity: "high", expected: 3, ok: true},
		{name: "unknown category rejected", liquidity: "illiquid", ok: false},
		{name: "empty string rejected", liquidity: "", ok: false},
		{name: "case sensitive", liquidity: "High", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, ok := LiquidityScore(tt.liquidity)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, score)
			}
		})
	}
}

func TestExpandFeatures(t *testing.T) {
	in := ApplicationInput{
		FeatureIncome:         5000,
		FeatureAge:            39,
		FeatureCreditAmount:   9999,
		FeatureGuaranteeValue: 20000,
		FeatureLiquidityScore: 3,
	}

	features := ExpandFeatures(in)

	assert.Equal(t, 5000.0, features[FeatureIncome])
	assert.Equal(t, 2.0, features[FeatureGuaranteeCreditRatio])
	assert.Equal(t, 125.0, features[FeatureIncomePerAge])
	assert.Equal(t, 6.0, features[FeatureWeightedGuarantee])
}

func TestExpandFeaturesPartialInput(t *testing.T) {
	tests := []struct {
		name    string
		input   ApplicationInput
		present []string
		absent  []string
	}{
		{
			name:    "no guarantee inputs means no ratio",
			input:   ApplicationInput{FeatureIncome: 5000, FeatureAge: 39},
			present: []string{FeatureIncomePerAge},
			absent:  []string{FeatureGuaranteeCreditRatio, FeatureWeightedGuarantee},
		},
		{
			name:    "ratio without liquidity means no weighted guarantee",
			input:   ApplicationInput{FeatureGuaranteeValue: 100, FeatureCreditAmount: 99},
			present: []string{FeatureGuaranteeCreditRatio},
			absent:  []string{FeatureWeightedGuarantee, FeatureIncomePerAge},
		},
		{
			name:   "empty input derives nothing",
			input:  ApplicationInput{},
			absent: []string{FeatureGuaranteeCreditRatio, FeatureIncomePerAge, FeatureWeightedGuarantee},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			features := ExpandFeatures(tt.input)
			for _, name := range tt.present {
				assert.Contains(t, features, name)
			}
			for _, name := range tt.absent {
				assert.NotContains(t, features, name)
			}
		})
	}
}

func TestExpandFeaturesDoesNotMutateInput(t *testing.T) {
	in := ApplicationInput{
		FeatureGuaranteeValue: 100,
		FeatureCreditAmount:   99,
	}

	_ = ExpandFeatures(in)

	assert.Len(t, in, 2)
	assert.NotContains(t, in, FeatureGuaranteeCreditRatio)
}
