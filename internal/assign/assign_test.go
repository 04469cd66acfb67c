package assign

import (
	"fmt"
	"testing"
)

func TestAssign_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		subject := fmt.Sprintf("lead-%d", i)
		first := Assign(subject, "exp-1", 4)
		for j := 0; j < 10; j++ {
			if got := Assign(subject, "exp-1", 4); got != first {
				t.Fatalf("Assign(%q) changed between calls: %d then %d", subject, first, got)
			}
		}
		if first < 0 || first >= 4 {
			t.Fatalf("Assign(%q) = %d, out of range [0,4)", subject, first)
		}
	}
}

func TestAssign_SeparatorPreventsCollision(t *testing.T) {
	// Without an explicit separator both pairs would hash "abcdef". The
	// hash must also keep the separated keys apart after mod 5.
	a := Assign("ab", "cdef", 5)
	b := Assign("abc", "def", 5)
	if a == b {
		t.Fatalf("Assign(\"ab\",\"cdef\") = Assign(\"abc\",\"def\") = %d; identifier boundary lost", a)
	}
}

func TestAssign_Distribution(t *testing.T) {
	const (
		population   = 100000
		variantCount = 5
	)

	counts := make([]int, variantCount)
	for i := 0; i < population; i++ {
		counts[Assign(fmt.Sprintf("subject-%d", i), "exp-dist", variantCount)]++
	}

	// Each index should get a statistically plausible share. Expected
	// 20000 each; allow 10% deviation.
	expected := population / variantCount
	for idx, c := range counts {
		if c < expected*9/10 || c > expected*11/10 {
			t.Errorf("variant %d received %d assignments, want %d ±10%%", idx, c, expected)
		}
	}
}

func TestAssign_DifferentExperimentsDiffer(t *testing.T) {
	// A subject's index is not correlated across experiments: over many
	// subjects, at least some must land on different indices.
	same := 0
	const n = 1000
	for i := 0; i < n; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		if Assign(subject, "exp-a", 4) == Assign(subject, "exp-b", 4) {
			same++
		}
	}
	if same == n {
		t.Error("all subjects mapped identically across experiments; experimentID ignored")
	}
}

func TestAssign_InvalidCountPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Assign with variantCount=0 should panic")
		}
	}()
	Assign("subject", "exp", 0)
}
