package experiment

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-memory repository. The single mutex serializes
// every read-modify-write, which is what makes RecordEvent atomic here;
// the Postgres repository gets the same guarantee from row locking.
type MemoryRepository struct {
	mu    sync.RWMutex
	store map[string]map[string]*Experiment // brandID -> experimentID -> experiment
	now   func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		store: make(map[string]map[string]*Experiment),
		now:   time.Now,
	}
}

func (m *MemoryRepository) Create(ctx context.Context, brandID string, spec Spec) (*Experiment, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := newExperiment(newID(), brandID, spec, m.now())
	if m.store[brandID] == nil {
		m.store[brandID] = make(map[string]*Experiment)
	}
	m.store[brandID][e.ID] = e
	return cloneExperiment(e), nil
}

func (m *MemoryRepository) Get(ctx context.Context, brandID, experimentID string) (*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.store[brandID][experimentID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneExperiment(e), nil
}

func (m *MemoryRepository) List(ctx context.Context, brandID string, status Status) ([]*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Experiment, 0, len(m.store[brandID]))
	for _, e := range m.store[brandID] {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, cloneExperiment(e))
	}
	return out, nil
}

func (m *MemoryRepository) Update(ctx context.Context, brandID, experimentID string, patch Patch) (*Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store[brandID][experimentID]
	if !ok {
		return nil, ErrNotFound
	}
	applyPatch(e, patch, m.now())
	return cloneExperiment(e), nil
}

func (m *MemoryRepository) Start(ctx context.Context, brandID, experimentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store[brandID][experimentID]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusDraft {
		return preconditionf("cannot start experiment in status %s", e.Status)
	}
	now := m.now()
	e.Status = StatusRunning
	e.StartDate = &now
	e.UpdatedAt = now
	return nil
}

func (m *MemoryRepository) Pause(ctx context.Context, brandID, experimentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store[brandID][experimentID]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusRunning {
		return preconditionf("cannot pause experiment in status %s", e.Status)
	}
	e.Status = StatusPaused
	e.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) Complete(ctx context.Context, brandID, experimentID, winnerVariantID string, significance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store[brandID][experimentID]
	if !ok {
		return ErrNotFound
	}
	if e.Status == StatusCompleted {
		return nil // idempotent: concurrent evaluators may both declare
	}
	return completeLocked(e, winnerVariantID, significance, m.now())
}

func (m *MemoryRepository) Delete(ctx context.Context, brandID, experimentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store[brandID][experimentID]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusDraft {
		return preconditionf("cannot delete experiment in status %s", e.Status)
	}
	delete(m.store[brandID], experimentID)
	return nil
}

func (m *MemoryRepository) RecordEvent(ctx context.Context, brandID, experimentID, variantID string, event EventType, revenueDelta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store[brandID][experimentID]
	if !ok {
		return ErrNotFound
	}
	if err := applyEvent(e, variantID, event, revenueDelta); err != nil {
		return err
	}
	e.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) Close() error { return nil }

// completeLocked applies the completion transition. Caller holds the write
// side of whatever lock protects e.
func completeLocked(e *Experiment, winnerVariantID string, significance float64, now time.Time) error {
	if winnerVariantID != "" {
		if _, err := e.Variant(winnerVariantID); err != nil {
			return err
		}
		e.WinnerVariantID = winnerVariantID
	}
	if significance > 0 {
		e.SignificanceLevel = significance
	}
	e.Status = StatusCompleted
	e.EndDate = &now
	e.UpdatedAt = now
	return nil
}

// cloneExperiment deep-copies an experiment so callers can't mutate stored
// state behind the repository's back.
func cloneExperiment(e *Experiment) *Experiment {
	out := *e
	out.Variants = make([]Variant, len(e.Variants))
	copy(out.Variants, e.Variants)
	for i := range out.Variants {
		if cv := e.Variants[i].ContentVariations; cv != nil {
			m := make(map[string]string, len(cv))
			for k, v := range cv {
				m[k] = v
			}
			out.Variants[i].ContentVariations = m
		}
	}
	if e.Metadata != nil {
		md := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		out.Metadata = md
	}
	if e.StartDate != nil {
		t := *e.StartDate
		out.StartDate = &t
	}
	if e.EndDate != nil {
		t := *e.EndDate
		out.EndDate = &t
	}
	return &out
}
