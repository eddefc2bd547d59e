package engine

// LiquidityScore encodes the categorical guarantee liquidity exactly as
// the training pipeline did.
func LiquidityScore(liquidity string) (float64, bool) {
	switch liquidity {
	case "low":
		return 1, true
	case "medium":
		return 2, true
	case "high":
		return 3, true
	default:
		return 0, false
	}
}

// ExpandFeatures derives the engineered features from the raw input using
// the same formulas the model was trained with. Raw fields pass through
// untouched; a derived feature is only emitted when all of its inputs are
// present, so the normalizer can still report the true missing fields.
func ExpandFeatures(in ApplicationInput) map[string]float64 {
	features := make(map[string]float64, len(in)+4)
	for name, value := range in {
		features[name] = value
	}

	guarantee, hasGuarantee := features[FeatureGuaranteeValue]
	credit, hasCredit := features[FeatureCreditAmount]
	if hasGuarantee && hasCredit {
		// +1 guards against a zero credit amount, same as training.
		features[FeatureGuaranteeCreditRatio] = guarantee / (credit + 1)
	}

	income, hasIncome := features[FeatureIncome]
	age, hasAge := features[FeatureAge]
	if hasIncome && hasAge {
		features[FeatureIncomePerAge] = income / (age + 1)
	}

	ratio, hasRatio := features[FeatureGuaranteeCreditRatio]
	liquidity, hasLiquidity := features[FeatureLiquidityScore]
	if hasRatio && hasLiquidity {
		features[FeatureWeightedGuarantee] = ratio * liquidity
	}

	return features
}
