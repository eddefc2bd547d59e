package engine

import (
	"math"
	"sort"
)

// Normalize maps a named feature set onto the schema's fixed order and
// rescales each value with the statistics fitted at training time. The
// result is a fresh vector whose length always equals the schema length.
func Normalize(features map[string]float64, schema *FeatureSchema) ([]float64, error) {
	var missing []string
	for _, spec := range schema.Features {
		if _, ok := features[spec.Name]; !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingFeatureError{Fields: missing}
	}

	vec := make([]float64, len(schema.Features))
	for i, spec := range schema.Features {
		raw := features[spec.Name]

		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			return nil, &InvalidValueError{Field: spec.Name, Value: raw, Reason: "not a finite number"}
		}
		if spec.Min != nil && raw < *spec.Min {
			return nil, &InvalidValueError{Field: spec.Name, Value: raw, Reason: "below declared minimum"}
		}
		if spec.Max != nil && raw > *spec.Max {
			return nil, &InvalidValueError{Field: spec.Name, Value: raw, Reason: "above declared maximum"}
		}

		scale := spec.Scale
		if spec.ZeroVariance() {
			// Constant feature in training: center it but leave it
			// unscaled, mirroring how the scaler was fitted.
			scale = 1
		}
		vec[i] = (raw - spec.Center) / scale
	}

	return vec, nil
}
