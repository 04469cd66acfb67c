// Package brand isolates tenants: every experiment belongs to a brand and
// every ingest request is metered against the brand's quotas.
package brand

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrBrandNotFound = errors.New("brand not found")
	ErrQuotaExceeded = errors.New("brand quota exceeded")
	ErrInvalidBrand  = errors.New("invalid brand ID")
)

// Brand is a multi-tenant isolation unit.
type Brand struct {
	ID          string
	DisplayName string

	// Quotas on the event-ingest path
	EventRate  int   // events/second
	BurstRate  int   // burst capacity
	DailyQuota int64 // max events per day (0 = unlimited)

	CreatedAt time.Time
	Active    bool
	Metadata  map[string]string
}

// Manager handles brand lifecycle and ingest quota enforcement.
type Manager struct {
	mu       sync.RWMutex
	brands   map[string]*Brand
	limiters map[string]*rate.Limiter
	usage    map[string]*usageCounter
}

type usageCounter struct {
	mu      sync.Mutex
	count   int64
	resetAt time.Time
}

// NewManager creates an empty brand manager.
func NewManager() *Manager {
	return &Manager{
		brands:   make(map[string]*Brand),
		limiters: make(map[string]*rate.Limiter),
		usage:    make(map[string]*usageCounter),
	}
}

// Register adds a brand to the system.
func (m *Manager) Register(b *Brand) error {
	if b.ID == "" {
		return ErrInvalidBrand
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.brands[b.ID] = b
	m.limiters[b.ID] = rate.NewLimiter(rate.Limit(b.EventRate), b.BurstRate)
	m.usage[b.ID] = &usageCounter{resetAt: time.Now().Add(24 * time.Hour)}
	return nil
}

// Get retrieves an active brand by ID.
func (m *Manager) Get(brandID string) (*Brand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.brands[brandID]
	if !ok {
		return nil, ErrBrandNotFound
	}
	if !b.Active {
		return nil, fmt.Errorf("brand %s is not active", brandID)
	}
	return b, nil
}

// Allow checks whether an ingest request fits the brand's rate limit and
// daily quota.
func (m *Manager) Allow(ctx context.Context, brandID string) error {
	m.mu.RLock()
	b, ok := m.brands[brandID]
	limiter, limiterOK := m.limiters[brandID]
	usage, usageOK := m.usage[brandID]
	m.mu.RUnlock()

	if !ok || !limiterOK || !usageOK {
		return ErrBrandNotFound
	}
	if !b.Active {
		return fmt.Errorf("brand %s is not active", brandID)
	}
	if !limiter.Allow() {
		return ErrQuotaExceeded
	}

	if b.DailyQuota > 0 {
		usage.mu.Lock()
		defer usage.mu.Unlock()

		if time.Now().After(usage.resetAt) {
			usage.count = 0
			usage.resetAt = time.Now().Add(24 * time.Hour)
		}
		if usage.count >= b.DailyQuota {
			return ErrQuotaExceeded
		}
		usage.count++
	}
	return nil
}

// Usage returns the brand's event count for the current day.
func (m *Manager) Usage(brandID string) (int64, error) {
	m.mu.RLock()
	usage, ok := m.usage[brandID]
	m.mu.RUnlock()

	if !ok {
		return 0, ErrBrandNotFound
	}

	usage.mu.Lock()
	defer usage.mu.Unlock()
	if time.Now().After(usage.resetAt) {
		usage.count = 0
		usage.resetAt = time.Now().Add(24 * time.Hour)
	}
	return usage.count, nil
}

// List returns all registered brands.
func (m *Manager) List() []*Brand {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Brand, 0, len(m.brands))
	for _, b := range m.brands {
		out = append(out, b)
	}
	return out
}

// DefaultBrand returns a permissive brand for single-tenant deployments.
func DefaultBrand() *Brand {
	return &Brand{
		ID:          "default",
		DisplayName: "Default Brand",
		EventRate:   100,
		BurstRate:   200,
		DailyQuota:  0,
		CreatedAt:   time.Now(),
		Active:      true,
		Metadata:    make(map[string]string),
	}
}
