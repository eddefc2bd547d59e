package engine

import (
	"encoding/json"
	"fmt"
)

// Model is the fixed capability contract every trained variant satisfies:
// a deterministic mapping from a normalized vector to a positive-class
// probability. Implementations are read-only after load and safe for
// concurrent use.
type Model interface {
	Family() string
	NumFeatures() int
	Score(vec []float64) float64
}

// WeightedModel is the optional capability of linear-family models. When
// present the explainer uses the exact analytic decomposition instead of
// perturbation.
type WeightedModel interface {
	Model
	Weights() []float64
	Bias() float64
}

// DefaultThreshold is the positive-class probability above which an
// application is approved, matching the training pipeline.
const DefaultThreshold = 0.5

// Predict scores a normalized vector and thresholds the probability into
// a label. A vector of the wrong length means the schema and model
// artifacts are out of step, which would silently corrupt predictions,
// so it is rejected outright.
func Predict(m Model, vec []float64, threshold float64) (Prediction, error) {
	if len(vec) != m.NumFeatures() {
		return Prediction{}, &DimensionMismatchError{Got: len(vec), Want: m.NumFeatures()}
	}
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}

	p := clip(m.Score(vec), 0, 1)

	label := LabelDenied
	if p >= threshold {
		label = LabelApproved
	}

	return Prediction{Label: label, Probability: p, Threshold: threshold}, nil
}

// LinearModel is a logistic-regression scorer: sigmoid(w·x + b).
type LinearModel struct {
	weights []float64
	bias    float64
}

// NewLinearModel builds a linear model from explicit parameters.
func NewLinearModel(weights []float64, bias float64) *LinearModel {
	w := append([]float64(nil), weights...)
	return &LinearModel{weights: w, bias: bias}
}

func (m *LinearModel) Family() string   { return "linear" }
func (m *LinearModel) NumFeatures() int { return len(m.weights) }

// Logit returns the raw decision-function value w·x + b.
func (m *LinearModel) Logit(vec []float64) float64 {
	sum := m.bias
	for i, w := range m.weights {
		sum += w * vec[i]
	}
	return sum
}

func (m *LinearModel) Score(vec []float64) float64 {
	return sigmoid(m.Logit(vec))
}

func (m *LinearModel) Weights() []float64 {
	return append([]float64(nil), m.weights...)
}

func (m *LinearModel) Bias() float64 { return m.bias }

// TreeNode is one node of a decision tree in array form. Leaves carry the
// positive-class fraction observed at training time.
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
}

// Tree is a single decision tree rooted at node 0.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Score walks the tree for one vector.
func (t *Tree) Score(vec []float64) float64 {
	idx := 0
	for !t.Nodes[idx].Leaf {
		node := t.Nodes[idx]
		if vec[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
	return t.Nodes[idx].Value
}

// ForestModel averages a fixed ensemble of decision trees. It exposes no
// weights, so explanations fall back to the perturbation method.
type ForestModel struct {
	trees       []Tree
	numFeatures int
}

// NewForestModel builds a forest model from explicit trees.
func NewForestModel(trees []Tree, numFeatures int) *ForestModel {
	return &ForestModel{trees: trees, numFeatures: numFeatures}
}

func (m *ForestModel) Family() string   { return "forest" }
func (m *ForestModel) NumFeatures() int { return m.numFeatures }

func (m *ForestModel) Score(vec []float64) float64 {
	if len(m.trees) == 0 {
		return 0
	}
	sum := 0.0
	for i := range m.trees {
		sum += m.trees[i].Score(vec)
	}
	return sum / float64(len(m.trees))
}

// modelArtifact is the on-disk shape shared by every model family.
type modelArtifact struct {
	Family        string    `json:"family"`
	SchemaVersion string    `json:"schema_version"`
	Weights       []float64 `json:"weights,omitempty"`
	Bias          float64   `json:"bias,omitempty"`
	NumFeatures   int       `json:"num_features,omitempty"`
	Trees         []Tree    `json:"trees,omitempty"`
}

// LoadModel deserializes a trained-parameter artifact, dispatching on the
// declared model family. It returns the schema version the model was
// trained against so the caller can enforce the pairing.
func LoadModel(data []byte) (Model, string, error) {
	var artifact modelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, "", fmt.Errorf("failed to decode model artifact: %w", err)
	}

	if artifact.SchemaVersion == "" {
		return nil, "", fmt.Errorf("model artifact declares no schema version")
	}

	switch artifact.Family {
	case "linear":
		if len(artifact.Weights) == 0 {
			return nil, "", fmt.Errorf("linear model artifact has no weights")
		}
		return NewLinearModel(artifact.Weights, artifact.Bias), artifact.SchemaVersion, nil

	case "forest":
		if len(artifact.Trees) == 0 {
			return nil, "", fmt.Errorf("forest model artifact has no trees")
		}
		if artifact.NumFeatures <= 0 {
			return nil, "", fmt.Errorf("forest model artifact declares no feature count")
		}
		for ti, tree := range artifact.Trees {
			if len(tree.Nodes) == 0 {
				return nil, "", fmt.Errorf("forest model tree %d is empty", ti)
			}
			for ni, node := range tree.Nodes {
				if node.Leaf {
					continue
				}
				if node.Feature < 0 || node.Feature >= artifact.NumFeatures {
					return nil, "", fmt.Errorf("forest model tree %d node %d splits on unknown feature %d", ti, ni, node.Feature)
				}
				if node.Left <= ni || node.Left >= len(tree.Nodes) || node.Right <= ni || node.Right >= len(tree.Nodes) {
					return nil, "", fmt.Errorf("forest model tree %d node %d has invalid children", ti, ni)
				}
			}
		}
		return NewForestModel(artifact.Trees, artifact.NumFeatures), artifact.SchemaVersion, nil

	default:
		return nil, "", fmt.Errorf("unknown model family %q", artifact.Family)
	}
}
