// Package types defines the HTTP request and response shapes shared by
// the handlers and the validation middleware.
package types

import (
	"time"

	"github.com/ventture/credit-engine/internal/engine"
)

// EvaluateRequest is one credit application as submitted over HTTP.
// Liquidity arrives as a categorical string and is converted to its
// ordinal score before the engine sees the application.
type EvaluateRequest struct {
	Income             float64 `json:"income" binding:"required"`
	Age                float64 `json:"age" binding:"required"`
	CreditAmount       float64 `json:"credit_amount" binding:"required"`
	GuaranteeValue     float64 `json:"guarantee_value"`
	GuaranteeLiquidity string  `json:"guarantee_liquidity" binding:"required"`
}

// ToApplicationInput converts the request into the engine's numeric
// feature mapping.
func (r *EvaluateRequest) ToApplicationInput() (engine.ApplicationInput, error) {
	score, ok := engine.LiquidityScore(r.GuaranteeLiquidity)
	if !ok {
		return nil, &engine.InvalidValueError{
			Field:  "guarantee_liquidity",
			Reason: "must be one of: low, medium, high",
		}
	}

	return engine.ApplicationInput{
		engine.FeatureIncome:         r.Income,
		engine.FeatureAge:            r.Age,
		engine.FeatureCreditAmount:   r.CreditAmount,
		engine.FeatureGuaranteeValue: r.GuaranteeValue,
		engine.FeatureLiquidityScore: score,
	}, nil
}

// OfferRequest extends an application with the relationship data the
// offer engine uses for rate discounts.
type OfferRequest struct {
	EvaluateRequest
	LoyaltyYears      float64 `json:"loyalty_years"`
	InvestmentBalance float64 `json:"investment_balance"`
}

// ContributionView is one ranked feature contribution in a response.
type ContributionView struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
	Rank         int     `json:"rank"`
	ZeroVariance bool    `json:"zero_variance,omitempty"`
}

// EvaluateResponse is the full decision report returned to the caller.
type EvaluateResponse struct {
	ID            string             `json:"id,omitempty"`
	Decision      string             `json:"decision"`
	Probability   float64            `json:"probability"`
	Threshold     float64            `json:"threshold"`
	Contributions []ContributionView `json:"contributions"`
	Message       string             `json:"message,omitempty"`
	SchemaVersion string             `json:"schema_version"`
	EvaluatedAt   time.Time          `json:"evaluated_at"`
}

// OfferResponse is the product offer built for an approved application.
type OfferResponse struct {
	Decision      string    `json:"decision"`
	Probability   float64   `json:"probability"`
	Eligible      bool      `json:"eligible"`
	ProductID     string    `json:"product_id,omitempty"`
	ProductName   string    `json:"product_name,omitempty"`
	ApprovedLimit float64   `json:"approved_limit,omitempty"`
	AnnualRate    float64   `json:"annual_rate,omitempty"`
	TermMonths    int       `json:"term_months,omitempty"`
	Message       string    `json:"message,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// NewEvaluateResponse maps a decision report onto the wire shape.
func NewEvaluateResponse(report engine.DecisionReport, schemaVersion string) EvaluateResponse {
	contribs := make([]ContributionView, len(report.Contributions))
	for i, c := range report.Contributions {
		contribs[i] = ContributionView{
			Feature:      c.Feature,
			Contribution: c.Score,
			Rank:         i + 1,
			ZeroVariance: c.ZeroVariance,
		}
	}

	return EvaluateResponse{
		Decision:      string(report.Prediction.Label),
		Probability:   report.Prediction.Probability,
		Threshold:     report.Prediction.Threshold,
		Contributions: contribs,
		SchemaVersion: schemaVersion,
		EvaluatedAt:   report.EvaluatedAt,
	}
}
