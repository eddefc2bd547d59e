package engine

import (
	"fmt"
	"strings"
	"time"
)

// MissingFeatureError reports schema features absent from the submitted
// input. There is no silent defaulting: a defaulted credit feature can
// flip a decision.
type MissingFeatureError struct {
	Fields []string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing required features: %s", strings.Join(e.Fields, ", "))
}

// InvalidValueError reports a feature value outside its declared bounds
// or not representable as a finite number.
type InvalidValueError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for feature %q: %v (%s)", e.Field, e.Value, e.Reason)
}

// DimensionMismatchError reports a vector whose length does not match the
// model's expected feature count, which indicates a stale schema/model pair.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("feature vector has %d entries, model expects %d", e.Got, e.Want)
}

// ExplanationUnsupportedError reports that no explanation method applies
// to the loaded model: it exposes no weights and perturbation is disabled.
type ExplanationUnsupportedError struct {
	Family string
}

func (e *ExplanationUnsupportedError) Error() string {
	return fmt.Sprintf("model family %q supports no explanation method", e.Family)
}

// ExplanationTimeoutError reports that perturbation analysis exceeded its
// budget before covering every feature.
type ExplanationTimeoutError struct {
	Timeout   time.Duration
	Completed int
}

func (e *ExplanationTimeoutError) Error() string {
	return fmt.Sprintf("explanation timed out after %s (%d features completed)", e.Timeout, e.Completed)
}
