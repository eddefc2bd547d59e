package engine

import (
	"fmt"
	"time"
)

// AssembleReport packages a finished evaluation for the caller. A report
// is all-or-nothing: if any part is absent or inconsistent the assembly
// fails and nothing is returned.
func AssembleReport(input ApplicationInput, pred Prediction, contribs []Contribution) (DecisionReport, error) {
	if len(input) == 0 {
		return DecisionReport{}, fmt.Errorf("cannot assemble report: empty application input")
	}
	if pred.Label != LabelApproved && pred.Label != LabelDenied {
		return DecisionReport{}, fmt.Errorf("cannot assemble report: prediction has no label")
	}
	if pred.Probability < 0 || pred.Probability > 1 {
		return DecisionReport{}, fmt.Errorf("cannot assemble report: probability %v outside [0,1]", pred.Probability)
	}
	if contribs == nil {
		return DecisionReport{}, fmt.Errorf("cannot assemble report: no contributions")
	}

	return DecisionReport{
		Prediction:    pred,
		Contributions: contribs,
		Input:         input.Clone(),
		EvaluatedAt:   time.Now().UTC(),
	}, nil
}
