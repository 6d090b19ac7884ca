// Package contextbudget keeps every decision request inside a token ceiling.
// It estimates sizes, ranks page elements, trims action history and renders
// the bounded situational summary handed to the decision oracle.
package contextbudget

import (
	jsoniter "github.com/json-iterator/go"
)

// canonicalJSON serializes with sorted map keys so equal values always cost the same.
var canonicalJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Estimator measures the cost of text in the oracle's accounting unit.
type Estimator interface {
	Count(text string) int
	CountJSON(v interface{}) int
}

// HeuristicEstimator approximates BPE token counts without a vocabulary:
// four ASCII runes per token, two runes per token for everything else.
type HeuristicEstimator struct{}

var _ Estimator = HeuristicEstimator{}

// Count returns the estimated token cost of text.
func (HeuristicEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	units := 0
	for _, r := range text {
		if r < 0x80 {
			units++
		} else {
			units += 2
		}
	}
	return (units + 3) / 4
}

// CountJSON returns the estimated cost of v once serialized. Values that
// cannot be serialized cost nothing.
func (e HeuristicEstimator) CountJSON(v interface{}) int {
	if v == nil {
		return 0
	}
	b, err := canonicalJSON.Marshal(v)
	if err != nil {
		return 0
	}
	return e.Count(string(b))
}

// EstimateRequest sums the cost of a whole decision request: system prompt,
// user message and the serialized tool catalog.
func EstimateRequest(est Estimator, system, user string, tools interface{}) int {
	return est.Count(system) + est.Count(user) + est.CountJSON(tools)
}
