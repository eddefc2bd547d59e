package engine

import (
	"context"
	"time"
)

// Snapshot is one immutable model+schema pair. Every stage of a single
// evaluation runs against the same snapshot so a concurrent artifact
// reload can never mix generations within one request.
type Snapshot struct {
	Model  Model
	Schema *FeatureSchema
}

// SnapshotSource supplies the active snapshot. The artifact store
// implements this with an atomic pointer swap.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// Config tunes the per-request behavior of the engine.
type Config struct {
	// Threshold is the approval cutoff on the positive-class
	// probability. Zero means DefaultThreshold.
	Threshold float64

	// ExplainTimeout bounds perturbation-based explanation. Zero
	// disables perturbation, so black-box models become unexplainable.
	ExplainTimeout time.Duration
}

// DefaultConfig returns the engine defaults used by the server.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		ExplainTimeout: 2 * time.Second,
	}
}

// Engine is the synchronous evaluation pipeline: feature expansion,
// normalization, prediction, explanation, report assembly. It holds no
// per-request state and is safe for arbitrarily many concurrent calls.
type Engine struct {
	source    SnapshotSource
	cfg       Config
	explainer *Explainer
}

// New creates an engine over the given artifact source.
func New(source SnapshotSource, cfg Config) *Engine {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Engine{
		source:    source,
		cfg:       cfg,
		explainer: &Explainer{Timeout: cfg.ExplainTimeout},
	}
}

// Evaluate runs one application through the full pipeline and returns a
// complete decision report or a typed error, never a partial result.
func (e *Engine) Evaluate(ctx context.Context, input ApplicationInput) (DecisionReport, error) {
	snap := e.source.Snapshot()

	features := ExpandFeatures(input)

	vec, err := Normalize(features, snap.Schema)
	if err != nil {
		return DecisionReport{}, err
	}

	pred, err := Predict(snap.Model, vec, e.cfg.Threshold)
	if err != nil {
		return DecisionReport{}, err
	}

	contribs, err := e.explainer.Explain(ctx, snap.Model, vec, snap.Schema)
	if err != nil {
		return DecisionReport{}, err
	}

	return AssembleReport(input, pred, contribs)
}
