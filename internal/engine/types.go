package engine

import "time"

// Canonical feature names shared by the schema artifact, the feature
// expansion step, and the serving layer. The order the model was trained
// on is carried by the schema, not by these constants.
const (
	FeatureIncome               = "income"
	FeatureAge                  = "age"
	FeatureCreditAmount         = "credit_amount"
	FeatureGuaranteeValue       = "guarantee_value"
	FeatureGuaranteeCreditRatio = "guarantee_credit_ratio"
	FeatureLiquidityScore       = "liquidity_score"
	FeatureIncomePerAge         = "income_per_age"
	FeatureWeightedGuarantee    = "weighted_guarantee"
)

// ApplicationInput maps feature names to raw values as submitted by the
// caller. Categorical fields arrive already encoded as numerics (the
// serving layer maps liquidity low/medium/high to 1/2/3). Treated as
// read-only once handed to the engine.
type ApplicationInput map[string]float64

// Clone returns a copy of the input so the engine never aliases
// caller-owned state.
func (in ApplicationInput) Clone() ApplicationInput {
	out := make(ApplicationInput, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Label is the decision class.
type Label string

const (
	LabelApproved Label = "approved"
	LabelDenied   Label = "denied"
)

// Prediction is the model output for a single application.
type Prediction struct {
	Label       Label   `json:"label"`
	Probability float64 `json:"probability"`
	Threshold   float64 `json:"threshold"`
}

// Contribution is the signed amount a single feature moved the model
// output away from the baseline. Index is the feature's position in the
// schema order and doubles as the tie-break key when sorting.
type Contribution struct {
	Feature      string  `json:"feature"`
	Score        float64 `json:"score"`
	Index        int     `json:"index"`
	ZeroVariance bool    `json:"zero_variance,omitempty"`
}

// DecisionReport is the complete result of one evaluation: the decision,
// the ranked explanation, and an echo of the raw input for display.
// Contributions are sorted by descending absolute score.
type DecisionReport struct {
	Prediction    Prediction       `json:"prediction"`
	Contributions []Contribution   `json:"contributions"`
	Input         ApplicationInput `json:"input"`
	EvaluatedAt   time.Time        `json:"evaluated_at"`
}
