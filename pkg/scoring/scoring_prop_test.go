package scoring

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func propParams(t *testing.T) *gopter.TestParameters {
	t.Helper()
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	return params
}

func TestScore_AlwaysWithinBounds(t *testing.T) {
	properties := gopter.NewProperties(propParams(t))

	properties.Property("score stays in [0,100] for arbitrary input", prop.ForAll(
		func(present, expected int, confidence float64, ageHours int) bool {
			s := Score(Input{
				FieldsPresent:   present,
				FieldsExpected:  expected,
				MatchConfidence: confidence,
				RetrievedAt:     time.Now().Add(-time.Duration(ageHours) * time.Hour),
				StalenessWindow: 90 * 24 * time.Hour,
			}, DefaultWeights)
			return s >= 0 && s <= 100
		},
		gen.IntRange(-5, 50),
		gen.IntRange(-5, 50),
		gen.Float64Range(-2, 2),
		gen.IntRange(-100, 100_000),
	))

	properties.TestingRun(t)
}

func TestScore_MonotoneInMatchConfidence(t *testing.T) {
	properties := gopter.NewProperties(propParams(t))

	properties.Property("raising confidence never lowers the score", prop.ForAll(
		func(present int, lo, delta float64) bool {
			hi := lo + delta
			base := Input{
				FieldsPresent:   present,
				FieldsExpected:  6,
				RetrievedAt:     time.Now(),
				StalenessWindow: 90 * 24 * time.Hour,
			}
			loIn, hiIn := base, base
			loIn.MatchConfidence = lo
			hiIn.MatchConfidence = hi
			return Score(hiIn, DefaultWeights) >= Score(loIn, DefaultWeights)
		},
		gen.IntRange(0, 6),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestScore_MonotoneInCompleteness(t *testing.T) {
	properties := gopter.NewProperties(propParams(t))

	properties.Property("an extra populated field never lowers the score", prop.ForAll(
		func(present int, confidence float64) bool {
			base := Input{
				FieldsExpected:  6,
				MatchConfidence: confidence,
				RetrievedAt:     time.Now(),
				StalenessWindow: 90 * 24 * time.Hour,
			}
			fewer, more := base, base
			fewer.FieldsPresent = present
			more.FieldsPresent = present + 1
			return Score(more, DefaultWeights) >= Score(fewer, DefaultWeights)
		},
		gen.IntRange(0, 5),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
