package probe

import "github.com/NordCoder/Zepatrol/internal/domain/target"

// Verdict applies the category policy on top of a raw outcome. Score-bearing
// targets need a strictly higher score than prior; without a prior any
// online answer passes.
func Verdict(cat target.Category, out Outcome, prior *float64) Outcome {
	if !cat.ScoreBearing() || !out.OK || prior == nil {
		return out
	}
	if out.Score != nil && *out.Score > *prior {
		return out
	}
	out.OK = false
	out.Stagnant = true
	out.Error = ErrScoreNotIncreasing
	return out
}
