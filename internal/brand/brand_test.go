package brand

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManager_RegisterAndGet(t *testing.T) {
	m := NewManager()

	if err := m.Register(&Brand{}); !errors.Is(err, ErrInvalidBrand) {
		t.Errorf("Register without ID: err = %v, want ErrInvalidBrand", err)
	}

	b := &Brand{ID: "acme", DisplayName: "Acme", EventRate: 10, BurstRate: 10, Active: true, CreatedAt: time.Now()}
	if err := m.Register(b); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := m.Get("acme")
	if err != nil || got.DisplayName != "Acme" {
		t.Errorf("Get = %+v, %v", got, err)
	}

	if _, err := m.Get("missing"); !errors.Is(err, ErrBrandNotFound) {
		t.Errorf("Get missing: err = %v, want ErrBrandNotFound", err)
	}
}

func TestManager_InactiveBrandRejected(t *testing.T) {
	m := NewManager()
	m.Register(&Brand{ID: "dormant", EventRate: 10, BurstRate: 10, Active: false})

	if _, err := m.Get("dormant"); err == nil {
		t.Error("Get on inactive brand should fail")
	}
	if err := m.Allow(context.Background(), "dormant"); err == nil {
		t.Error("Allow on inactive brand should fail")
	}
}

func TestManager_RateLimit(t *testing.T) {
	m := NewManager()
	m.Register(&Brand{ID: "acme", EventRate: 1, BurstRate: 2, Active: true})
	ctx := context.Background()

	// Burst of 2 passes, third is limited.
	if err := m.Allow(ctx, "acme"); err != nil {
		t.Fatalf("first Allow: %v", err)
	}
	if err := m.Allow(ctx, "acme"); err != nil {
		t.Fatalf("second Allow: %v", err)
	}
	if err := m.Allow(ctx, "acme"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("third Allow: err = %v, want ErrQuotaExceeded", err)
	}
}

func TestManager_DailyQuota(t *testing.T) {
	m := NewManager()
	m.Register(&Brand{ID: "acme", EventRate: 1000, BurstRate: 1000, DailyQuota: 3, Active: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.Allow(ctx, "acme"); err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
	}
	if err := m.Allow(ctx, "acme"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Allow over quota: err = %v, want ErrQuotaExceeded", err)
	}

	used, err := m.Usage("acme")
	if err != nil || used != 3 {
		t.Errorf("Usage = %d, %v; want 3", used, err)
	}
}
