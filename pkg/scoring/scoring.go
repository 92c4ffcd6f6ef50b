// Package scoring computes the composite quality_score (0-100) attached to
// every enrichment result, combining completeness, supplier match
// confidence, and freshness decay over a staleness window. No file in the
// example corpus computes a composite quality score of this shape, so this
// package is intentionally stdlib-only (math only); see DESIGN.md for the
// justification.
package scoring

import (
	"time"
)

// Weights controls the relative contribution of each signal. They should
// sum to 1.0; Score does not normalize them for callers who want skewed
// weighting.
type Weights struct {
	Completeness    float64
	MatchConfidence float64
	Freshness       float64
}

// DefaultWeights favors match confidence slightly over completeness, with
// freshness as a tie-breaking signal.
var DefaultWeights = Weights{Completeness: 0.4, MatchConfidence: 0.45, Freshness: 0.15}

// Input bundles the signals needed to compute a quality score.
type Input struct {
	// FieldsPresent / FieldsExpected drive the completeness ratio.
	FieldsPresent  int
	FieldsExpected int
	// MatchConfidence is the supplier adapter's own 0..1 confidence.
	MatchConfidence float64
	// RetrievedAt is when the underlying data was fetched.
	RetrievedAt time.Time
	// StalenessWindow is the duration after which freshness decays to 0.
	StalenessWindow time.Duration
}

// Score computes the 0-100 composite quality score.
func Score(in Input, w Weights) int {
	completeness := 0.0
	if in.FieldsExpected > 0 {
		completeness = float64(in.FieldsPresent) / float64(in.FieldsExpected)
		if completeness > 1 {
			completeness = 1
		}
	}

	matchConfidence := in.MatchConfidence
	if matchConfidence < 0 {
		matchConfidence = 0
	}
	if matchConfidence > 1 {
		matchConfidence = 1
	}

	freshness := freshnessScore(in.RetrievedAt, in.StalenessWindow)

	composite := w.Completeness*completeness + w.MatchConfidence*matchConfidence + w.Freshness*freshness
	score := int(composite*100 + 0.5)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// freshnessScore decays linearly from 1.0 at retrieval time to 0.0 at the
// end of the staleness window.
func freshnessScore(retrievedAt time.Time, stalenessWindow time.Duration) float64 {
	if retrievedAt.IsZero() || stalenessWindow <= 0 {
		return 0
	}
	age := time.Since(retrievedAt)
	if age <= 0 {
		return 1
	}
	remaining := 1 - float64(age)/float64(stalenessWindow)
	if remaining < 0 {
		return 0
	}
	return remaining
}
