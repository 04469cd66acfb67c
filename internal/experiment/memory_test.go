package experiment

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

func createTest(t *testing.T, repo Repository, variants int, autoOptimize bool) *Experiment {
	t.Helper()
	specs := make([]VariantSpec, variants)
	for i := range specs {
		specs[i] = VariantSpec{Name: string(rune('A' + i))}
	}
	exp, err := repo.Create(context.Background(), "brand-1", Spec{
		Name:         "subject line test",
		Variants:     specs,
		AutoOptimize: autoOptimize,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return exp
}

func TestCreate_InitialState(t *testing.T) {
	repo := NewMemoryRepository()
	exp := createTest(t, repo, 3, true)

	if exp.Status != StatusDraft {
		t.Errorf("Status = %s, want draft", exp.Status)
	}

	var weightSum float64
	for i, v := range exp.Variants {
		if want := "variant_" + string(rune('0'+i)); v.ID != want {
			t.Errorf("Variants[%d].ID = %s, want %s", i, v.ID, want)
		}
		if v.Impressions != 0 || v.Clicks != 0 || v.Conversions != 0 || v.Revenue != 0 {
			t.Errorf("Variants[%d] has nonzero counters: %+v", i, v)
		}
		weightSum += v.Weight
	}
	if math.Abs(weightSum-1.0) > 1e-9 {
		t.Errorf("weights sum to %.6f, want 1.0", weightSum)
	}
}

func TestCreate_Validation(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	tests := []struct {
		name string
		spec Spec
	}{
		{"missing name", Spec{Variants: []VariantSpec{{Name: "A"}, {Name: "B"}}}},
		{"one variant", Spec{Name: "x", Variants: []VariantSpec{{Name: "A"}}}},
		{"unnamed variant", Spec{Name: "x", Variants: []VariantSpec{{Name: "A"}, {}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := repo.Create(ctx, "brand-1", tt.spec); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	exp := createTest(t, repo, 2, false)

	// Pause before start: precondition failure.
	if err := repo.Pause(ctx, "brand-1", exp.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("Pause on draft: err = %v, want ErrPreconditionFailed", err)
	}

	if err := repo.Start(ctx, "brand-1", exp.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	got, _ := repo.Get(ctx, "brand-1", exp.ID)
	if got.Status != StatusRunning || got.StartDate == nil {
		t.Errorf("after Start: status=%s startDate=%v", got.Status, got.StartDate)
	}

	// Start again: only draft -> running is allowed.
	if err := repo.Start(ctx, "brand-1", exp.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("second Start: err = %v, want ErrPreconditionFailed", err)
	}

	if err := repo.Pause(ctx, "brand-1", exp.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// Complete from paused (any non-terminal status).
	if err := repo.Complete(ctx, "brand-1", exp.ID, "variant_1", 0.97); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	got, _ = repo.Get(ctx, "brand-1", exp.ID)
	if got.Status != StatusCompleted || got.WinnerVariantID != "variant_1" || got.SignificanceLevel != 0.97 {
		t.Errorf("after Complete: %+v", got)
	}

	// Completing again is a safe no-op and must not clobber the winner.
	if err := repo.Complete(ctx, "brand-1", exp.ID, "variant_0", 0.5); err != nil {
		t.Fatalf("repeat Complete: %v", err)
	}
	got, _ = repo.Get(ctx, "brand-1", exp.ID)
	if got.WinnerVariantID != "variant_1" {
		t.Errorf("repeat Complete overwrote winner: %s", got.WinnerVariantID)
	}
}

func TestDelete_DraftOnly(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	draft := createTest(t, repo, 2, false)
	if err := repo.Delete(ctx, "brand-1", draft.ID); err != nil {
		t.Fatalf("Delete draft failed: %v", err)
	}
	if _, err := repo.Get(ctx, "brand-1", draft.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}

	running := createTest(t, repo, 2, false)
	if err := repo.Start(ctx, "brand-1", running.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, "brand-1", running.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("Delete running: err = %v, want ErrPreconditionFailed", err)
	}
}

func TestList_StatusFilter(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	a := createTest(t, repo, 2, false)
	createTest(t, repo, 2, false)
	if err := repo.Start(ctx, "brand-1", a.ID); err != nil {
		t.Fatal(err)
	}

	all, err := repo.List(ctx, "brand-1", "")
	if err != nil || len(all) != 2 {
		t.Fatalf("List all = %d experiments (err %v), want 2", len(all), err)
	}
	running, err := repo.List(ctx, "brand-1", StatusRunning)
	if err != nil || len(running) != 1 {
		t.Fatalf("List running = %d (err %v), want 1", len(running), err)
	}
	// Other brands see nothing.
	other, err := repo.List(ctx, "brand-2", "")
	if err != nil || len(other) != 0 {
		t.Fatalf("List for other brand = %d (err %v), want 0", len(other), err)
	}
}

func TestUpdate_PatchAndMetadata(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	exp := createTest(t, repo, 2, false)

	name := "renamed"
	auto := true
	updated, err := repo.Update(ctx, "brand-1", exp.ID, Patch{
		Name:         &name,
		AutoOptimize: &auto,
		Metadata:     map[string]string{"paused_variant_variant_1": "2026-01-01T00:00:00Z"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Name != "renamed" || !updated.AutoOptimize {
		t.Errorf("patch not applied: %+v", updated)
	}
	if updated.Metadata["paused_variant_variant_1"] == "" {
		t.Error("metadata not merged")
	}
	if !updated.UpdatedAt.After(exp.UpdatedAt) && !updated.UpdatedAt.Equal(exp.UpdatedAt) {
		t.Error("UpdatedAt not refreshed")
	}

	// Second patch merges rather than replaces metadata.
	updated, err = repo.Update(ctx, "brand-1", exp.ID, Patch{
		Metadata: map[string]string{"note": "ok"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Metadata["paused_variant_variant_1"] == "" || updated.Metadata["note"] != "ok" {
		t.Errorf("metadata merge lost keys: %v", updated.Metadata)
	}
}

func TestRecordEvent_CountersAndAggregate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	exp := createTest(t, repo, 2, false)

	events := []struct {
		variant string
		event   EventType
		revenue float64
	}{
		{"variant_0", EventImpression, 0},
		{"variant_0", EventImpression, 0},
		{"variant_0", EventClick, 0},
		{"variant_0", EventConversion, 49.90},
		{"variant_1", EventImpression, 0},
	}
	for _, e := range events {
		if err := repo.RecordEvent(ctx, "brand-1", exp.ID, e.variant, e.event, e.revenue); err != nil {
			t.Fatalf("RecordEvent(%s, %s) failed: %v", e.variant, e.event, err)
		}
	}

	got, _ := repo.Get(ctx, "brand-1", exp.ID)
	v0, _ := got.Variant("variant_0")
	if v0.Impressions != 2 || v0.Clicks != 1 || v0.Conversions != 1 || v0.Revenue != 49.90 {
		t.Errorf("variant_0 counters: %+v", v0)
	}
	if got.Metrics.TotalImpressions != 3 || got.Metrics.TotalConversions != 1 || got.Metrics.TotalRevenue != 49.90 {
		t.Errorf("aggregate out of sync with variants: %+v", got.Metrics)
	}

	if err := repo.RecordEvent(ctx, "brand-1", exp.ID, "variant_9", EventImpression, 0); !errors.Is(err, ErrVariantNotFound) {
		t.Errorf("unknown variant: err = %v, want ErrVariantNotFound", err)
	}
}

func TestRecordEvent_ConcurrentNoLostUpdates(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	exp := createTest(t, repo, 2, false)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.RecordEvent(ctx, "brand-1", exp.ID, "variant_0", EventImpression, 0); err != nil {
				t.Errorf("RecordEvent failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := repo.Get(ctx, "brand-1", exp.ID)
	v0, _ := got.Variant("variant_0")
	if v0.Impressions != n {
		t.Errorf("variant impressions = %d, want %d (lost updates)", v0.Impressions, n)
	}
	if got.Metrics.TotalImpressions != n {
		t.Errorf("aggregate impressions = %d, want %d", got.Metrics.TotalImpressions, n)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	exp := createTest(t, repo, 2, false)

	first, _ := repo.Get(ctx, "brand-1", exp.ID)
	first.Variants[0].Impressions = 9999
	first.Status = StatusCompleted

	second, _ := repo.Get(ctx, "brand-1", exp.ID)
	if second.Variants[0].Impressions != 0 || second.Status != StatusDraft {
		t.Error("mutating a returned experiment leaked into the repository")
	}
}
