package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/ventture/credit-engine/internal/engine"
)

// EvaluationRecord is one persisted decision report.
type EvaluationRecord struct {
	ID              string    `json:"id" db:"id"`
	SchemaVersion   string    `json:"schema_version" db:"schema_version"`
	ModelFamily     string    `json:"model_family" db:"model_family"`
	Inputs          string    `json:"inputs" db:"inputs"` // JSON of raw application inputs
	Probability     float64   `json:"probability" db:"probability"`
	Threshold       float64   `json:"threshold" db:"threshold"`
	Label           string    `json:"label" db:"label"`
	TopFeature      string    `json:"top_feature" db:"top_feature"`
	TopContribution float64   `json:"top_contribution" db:"top_contribution"`
	Contributions   string    `json:"contributions" db:"contributions"` // JSON ranked list
	IPAddress       string    `json:"-" db:"ip_address"`
	UserAgent       string    `json:"-" db:"user_agent"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// OfferRecord is one persisted product offer, tied to the evaluation
// that approved it.
type OfferRecord struct {
	ID            string    `json:"id" db:"id"`
	EvaluationID  string    `json:"evaluation_id" db:"evaluation_id"`
	ProductID     string    `json:"product_id" db:"product_id"`
	ProductName   string    `json:"product_name" db:"product_name"`
	ApprovedLimit float64   `json:"approved_limit" db:"approved_limit"`
	AnnualRate    float64   `json:"annual_rate" db:"annual_rate"`
	TermMonths    int       `json:"term_months" db:"term_months"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// NewEvaluationRecord builds a record from a finished report. Marshaling
// of inputs and contributions happens in the store so a failed insert
// never leaves a half-built record.
func NewEvaluationRecord(report engine.DecisionReport, modelFamily, schemaVersion, ipAddress, userAgent string) *EvaluationRecord {
	rec := &EvaluationRecord{
		ID:            uuid.New().String(),
		SchemaVersion: schemaVersion,
		ModelFamily:   modelFamily,
		Probability:   report.Prediction.Probability,
		Threshold:     report.Prediction.Threshold,
		Label:         string(report.Prediction.Label),
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		CreatedAt:     report.EvaluatedAt,
	}

	if len(report.Contributions) > 0 {
		rec.TopFeature = report.Contributions[0].Feature
		rec.TopContribution = report.Contributions[0].Score
	}

	return rec
}

// NewOfferRecord builds an offer record with a generated ID.
func NewOfferRecord(evaluationID, productID, productName string, approvedLimit, annualRate float64, termMonths int) *OfferRecord {
	return &OfferRecord{
		ID:            uuid.New().String(),
		EvaluationID:  evaluationID,
		ProductID:     productID,
		ProductName:   productName,
		ApprovedLimit: approvedLimit,
		AnnualRate:    annualRate,
		TermMonths:    termMonths,
		CreatedAt:     time.Now(),
	}
}
