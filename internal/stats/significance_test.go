package stats

import (
	"math"
	"testing"
)

func TestCompare_TinySamplesScoreZero(t *testing.T) {
	tests := []struct {
		name string
		a, b Sample
	}{
		{"both tiny", Sample{5, 20}, Sample{1, 25}},
		{"a tiny", Sample{5, 29}, Sample{50, 500}},
		{"b tiny", Sample{50, 500}, Sample{0, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Compare(tt.a, tt.b, 0.95)
			if v.Significance != 0 {
				t.Errorf("Significance = %.4f, want 0 below %d impressions", v.Significance, MinSampleSize)
			}
			if v.IsSignificant {
				t.Error("IsSignificant = true for undersized samples")
			}
		})
	}
}

func TestCompare_DecisionFloorOverridesStrongZ(t *testing.T) {
	// 33% vs 11% on 90 impressions each: z is well past any reasonable
	// threshold, but both samples sit under the decision floor.
	v := Compare(Sample{30, 90}, Sample{10, 90}, 0.95)

	if v.Significance < 0.95 {
		t.Errorf("Significance = %.4f, expected the raw statistic to be strong", v.Significance)
	}
	if v.IsSignificant {
		t.Errorf("IsSignificant = true with %d impressions, decision floor is %d", 90, MinDecisionSize)
	}
}

func TestCompare_WellSampledStrongEffect(t *testing.T) {
	v := Compare(Sample{120, 1000}, Sample{80, 1000}, 0.95)

	if !v.IsSignificant {
		t.Errorf("IsSignificant = false for 12%% vs 8%% at n=1000 (significance %.4f)", v.Significance)
	}
	if v.ZScore <= 0 {
		t.Errorf("ZScore = %.4f, want positive when A outperforms B", v.ZScore)
	}
}

func TestCompare_NoEffect(t *testing.T) {
	v := Compare(Sample{100, 1000}, Sample{100, 1000}, 0.95)

	if v.IsSignificant {
		t.Error("IsSignificant = true for identical rates")
	}
	if v.Significance > 0.1 {
		t.Errorf("Significance = %.4f for identical rates, want near 0", v.Significance)
	}
}

func TestCompare_ZeroConversionsBothSides(t *testing.T) {
	// Pooled rate 0 -> zero standard error; must not divide by zero.
	v := Compare(Sample{0, 500}, Sample{0, 500}, 0.95)
	if v.Significance != 0 || v.IsSignificant {
		t.Errorf("got %+v, want zero verdict for degenerate samples", v)
	}
}

func TestCompare_DefaultConfidence(t *testing.T) {
	explicit := Compare(Sample{120, 1000}, Sample{80, 1000}, DefaultConfidence)
	defaulted := Compare(Sample{120, 1000}, Sample{80, 1000}, 0)
	if explicit != defaulted {
		t.Errorf("confidence 0 should default to %.2f: %+v vs %+v", DefaultConfidence, explicit, defaulted)
	}
}

func TestCompare_Symmetry(t *testing.T) {
	ab := Compare(Sample{120, 1000}, Sample{80, 1000}, 0.95)
	ba := Compare(Sample{80, 1000}, Sample{120, 1000}, 0.95)

	if math.Abs(ab.Significance-ba.Significance) > 1e-12 {
		t.Errorf("significance not symmetric: %.6f vs %.6f", ab.Significance, ba.Significance)
	}
	if math.Abs(ab.ZScore+ba.ZScore) > 1e-12 {
		t.Errorf("z-scores should negate under swap: %.6f vs %.6f", ab.ZScore, ba.ZScore)
	}
}
