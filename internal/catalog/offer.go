package catalog

import "math"

// Applicant carries the figures the offer engine prices against.
type Applicant struct {
	Score             float64 // 0..1000, scaled from the approval probability
	RequestedAmount   float64
	GuaranteeValue    float64
	LoyaltyYears      float64
	InvestmentBalance float64
}

// Offer is one priced credit offer.
type Offer struct {
	Product       Product
	ApprovedLimit float64
	AnnualRate    float64
	TermMonths    int
}

const (
	// Requested amounts get a small headroom so fees do not push the
	// customer over their own limit.
	limitHeadroom = 1.05

	loyaltyYearsFloor     = 10
	loyaltyDiscount       = 0.5 // percentage points
	investmentFloor       = 200_000
	investmentDiscount    = 0.25 // percentage points
	minTermMonths         = 24
	amountPerTermYearUnit = 10_000
)

// ScoreFromProbability scales an approval probability onto the 0..1000
// score axis the catalog is priced in.
func ScoreFromProbability(p float64) float64 {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p * 1000
}

// BestOffer prices the cheapest eligible product for the applicant.
// Returns nil when no product fits.
func (c *Catalog) BestOffer(app Applicant) *Offer {
	eligible := c.Eligible(app.Score, app.GuaranteeValue > 0)
	if len(eligible) == 0 {
		return nil
	}

	product := eligible[0]

	limit := app.RequestedAmount * limitHeadroom
	if limit > product.MaxLimit {
		limit = product.MaxLimit
	}
	scoreCap := product.MaxLimit * app.Score / 1000
	if limit > scoreCap {
		limit = scoreCap
	}

	rate := product.BaseAnnualRate
	if app.LoyaltyYears >= loyaltyYearsFloor {
		rate -= loyaltyDiscount
	}
	if app.InvestmentBalance >= investmentFloor {
		rate -= investmentDiscount
	}

	term := int(math.Round(app.RequestedAmount / amountPerTermYearUnit * 12))
	if term < minTermMonths {
		term = minTermMonths
	}
	if term > product.MaxTermMonths {
		term = product.MaxTermMonths
	}

	return &Offer{
		Product:       product,
		ApprovedLimit: limit,
		AnnualRate:    rate,
		TermMonths:    term,
	}
}
