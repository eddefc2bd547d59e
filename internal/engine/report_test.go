package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPrediction() Prediction {
	return Prediction{Label: LabelApproved, Probability: 0.7, Threshold: 0.5}
}

func TestAssembleReport(t *testing.T) {
	input := ApplicationInput{FeatureIncome: 5000}
	contribs := []Contribution{{Feature: FeatureIncome, Score: 0.4}}

	report, err := AssembleReport(input, validPrediction(), contribs)
	require.NoError(t, err)

	assert.Equal(t, validPrediction(), report.Prediction)
	assert.Equal(t, contribs, report.Contributions)
	assert.False(t, report.EvaluatedAt.IsZero())
}

func TestAssembleReportRejectsIncompleteParts(t *testing.T) {
	input := ApplicationInput{FeatureIncome: 5000}
	contribs := []Contribution{{Feature: FeatureIncome}}

	tests := []struct {
		name     string
		input    ApplicationInput
		pred     Prediction
		contribs []Contribution
		wantErr  string
	}{
		{
			name:     "empty input",
			input:    ApplicationInput{},
			pred:     validPrediction(),
			contribs: contribs,
			wantErr:  "empty application input",
		},
		{
			name:     "unlabeled prediction",
			input:    input,
			pred:     Prediction{Probability: 0.7, Threshold: 0.5},
			contribs: contribs,
			wantErr:  "no label",
		},
		{
			name:     "probability above one",
			input:    input,
			pred:     Prediction{Label: LabelApproved, Probability: 1.2, Threshold: 0.5},
			contribs: contribs,
			wantErr:  "outside [0,1]",
		},
		{
			name:     "negative probability",
			input:    input,
			pred:     Prediction{Label: LabelDenied, Probability: -0.1, Threshold: 0.5},
			contribs: contribs,
			wantErr:  "outside [0,1]",
		},
		{
			name:    "nil contributions",
			input:   input,
			pred:    validPrediction(),
			wantErr: "no contributions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AssembleReport(tt.input, tt.pred, tt.contribs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssembleReportClonesInput(t *testing.T) {
	input := ApplicationInput{FeatureIncome: 5000}

	report, err := AssembleReport(input, validPrediction(), []Contribution{{Feature: FeatureIncome}})
	require.NoError(t, err)

	input[FeatureIncome] = 1
	assert.Equal(t, 5000.0, report.Input[FeatureIncome])
}

func TestAssembleReportAcceptsEmptyContributionSlice(t *testing.T) {
	// An explicitly empty slice is a valid explanation of zero features;
	// only nil signals a missing part.
	report, err := AssembleReport(ApplicationInput{FeatureIncome: 1}, validPrediction(), []Contribution{})
	require.NoError(t, err)
	assert.Empty(t, report.Contributions)
}
