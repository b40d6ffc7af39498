// Package quality decides whether an upload's artist linkage is good enough
// to finalize.
package quality

import (
	"smr/internal/errs"
)

// ThresholdPercent is the minimum linkage rate for finalization. It is not configurable.
const ThresholdPercent = 95

// Result is the outcome of one gate evaluation
type Result struct {
	Total     int     `json:"total_rows"`
	Matched   int     `json:"matched_rows"`
	Rate      float64 `json:"linkage_rate"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}

// Gate evaluates linkage rates
type Gate struct{}

// NewGate returns the linkage quality gate
func NewGate() *Gate {
	return &Gate{}
}

// Evaluate computes matched/total as a percentage. The pass check compares
// integers so that exactly 95% passes. A report with no rows returns an
// EmptyReport error and a zero result.
func (g *Gate) Evaluate(total, matched int) (Result, error) {
	res := Result{Total: total, Matched: matched, Threshold: ThresholdPercent}
	if total <= 0 {
		return res, errs.EmptyReport("quality.Evaluate")
	}
	if matched < 0 {
		matched = 0
	}
	if matched > total {
		matched = total
	}
	res.Matched = matched
	res.Rate = float64(matched*100) / float64(total)
	res.Passed = int64(matched)*100 >= int64(ThresholdPercent)*int64(total)
	return res, nil
}

// Require evaluates and returns ThresholdNotMet when the gate does not pass
func (g *Gate) Require(total, matched int) (Result, error) {
	res, err := g.Evaluate(total, matched)
	if err != nil {
		return res, err
	}
	if !res.Passed {
		return res, errs.ThresholdNotMet("quality.Require", res.Rate, res.Threshold)
	}
	return res, nil
}
