// Package stats scores variant pairs with a two-proportion z-test.
package stats

import "math"

// Operational sample floors. Below MinSampleSize the test is not computed
// at all; below MinDecisionSize a strong z-statistic still may not flip
// isSignificant. The second floor is stricter than the raw statistical
// test and is a deliberate product threshold.
const (
	MinSampleSize   = 30
	MinDecisionSize = 100
)

// DefaultConfidence is the confidence level used when callers pass 0.
const DefaultConfidence = 0.95

// Sample is one variant's observed counts.
type Sample struct {
	Conversions int64
	Impressions int64
}

// Rate returns conversions per impression, 0 when no impressions.
func (s Sample) Rate() float64 {
	if s.Impressions == 0 {
		return 0
	}
	return float64(s.Conversions) / float64(s.Impressions)
}

// Verdict is the outcome of comparing two samples.
type Verdict struct {
	Significance  float64 `json:"significance"`   // two-tailed confidence in [0,1]
	IsSignificant bool    `json:"is_significant"` // significance >= confidence, both samples >= MinDecisionSize
	ZScore        float64 `json:"z_score"`
}

// Compare runs a two-proportion z-test on the conversion rates of a and b.
//
// Pure function: no I/O, safe for concurrent callers. Never returns an
// error for valid inputs; undersized samples are handled by the floors
// above rather than surfaced as failures.
func Compare(a, b Sample, confidence float64) Verdict {
	if confidence <= 0 {
		confidence = DefaultConfidence
	}

	if a.Impressions < MinSampleSize || b.Impressions < MinSampleSize {
		return Verdict{}
	}

	pA := a.Rate()
	pB := b.Rate()

	// Pooled standard error
	pooled := float64(a.Conversions+b.Conversions) / float64(a.Impressions+b.Impressions)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(a.Impressions) + 1/float64(b.Impressions)))
	if se == 0 {
		// Identical all-or-nothing rates; no evidence either way.
		return Verdict{}
	}

	z := (pA - pB) / se

	// Two-tailed: P(|Z| <= |z|) for a standard normal.
	significance := math.Erf(math.Abs(z) / math.Sqrt2)

	v := Verdict{
		Significance: significance,
		ZScore:       z,
	}
	if a.Impressions >= MinDecisionSize && b.Impressions >= MinDecisionSize {
		v.IsSignificant = significance >= confidence
	}
	return v
}
