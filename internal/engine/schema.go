package engine

import (
	"encoding/json"
	"fmt"
	"math"
)

// FeatureSpec describes one feature: its name, the normalization
// statistics fitted at training time, optional raw-value bounds, and the
// baseline value (in normalized space) explanations are measured against.
type FeatureSpec struct {
	Name     string   `json:"name"`
	Center   float64  `json:"center"`
	Scale    float64  `json:"scale"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Baseline float64  `json:"baseline"`
}

// ZeroVariance reports whether the feature had no variance in the
// training data. Such features carry no signal; normalization passes the
// centered value through unscaled and explanations pin their
// contribution to zero.
func (fs FeatureSpec) ZeroVariance() bool {
	return fs.Scale == 0
}

// FeatureSchema is the ordered feature list the model was trained on.
// The order is load-bearing: it must match the model artifact exactly,
// which Load in the artifact package enforces via the version pairing.
type FeatureSchema struct {
	Version  string        `json:"version"`
	Features []FeatureSpec `json:"features"`
}

// Len returns the number of features in the schema.
func (s *FeatureSchema) Len() int { return len(s.Features) }

// Names returns the feature names in schema order.
func (s *FeatureSchema) Names() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// BaselineVector returns the explanation baseline in schema order.
func (s *FeatureSchema) BaselineVector() []float64 {
	base := make([]float64, len(s.Features))
	for i, f := range s.Features {
		base[i] = f.Baseline
	}
	return base
}

// LoadSchema deserializes a fitted-statistics artifact. The byte format
// is fixed by the training pipeline; only structural validity is checked
// here, model pairing is checked at artifact load time.
func LoadSchema(data []byte) (*FeatureSchema, error) {
	var schema FeatureSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to decode schema artifact: %w", err)
	}

	if schema.Version == "" {
		return nil, fmt.Errorf("schema artifact has no version")
	}
	if len(schema.Features) == 0 {
		return nil, fmt.Errorf("schema artifact declares no features")
	}

	seen := make(map[string]bool, len(schema.Features))
	for i, f := range schema.Features {
		if f.Name == "" {
			return nil, fmt.Errorf("schema feature %d has no name", i)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("schema feature %q declared twice", f.Name)
		}
		seen[f.Name] = true

		if math.IsNaN(f.Center) || math.IsInf(f.Center, 0) || math.IsNaN(f.Scale) || math.IsInf(f.Scale, 0) {
			return nil, fmt.Errorf("schema feature %q has non-finite statistics", f.Name)
		}
		if f.Scale < 0 {
			return nil, fmt.Errorf("schema feature %q has negative scale", f.Name)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return nil, fmt.Errorf("schema feature %q has min > max", f.Name)
		}
	}

	return &schema, nil
}
