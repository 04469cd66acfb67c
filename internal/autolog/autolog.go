// Package autolog records every automation decision so operators can audit
// what the optimizer did (or, under the kill switch, would have done) and
// compare before/after performance.
package autolog

import (
	"context"
	"sync"
	"time"

	"github.com/liftlab/adpilot/internal/experiment"
)

// Entry is one automation log record. The metrics snapshot is the
// experiment aggregate at decision time, which is what the impact
// measurement feature diffs against later aggregates.
type Entry struct {
	Timestamp    time.Time          `json:"timestamp"`
	BrandID      string             `json:"brand_id"`
	ExperimentID string             `json:"experiment_id"`
	Action       string             `json:"action"`
	VariantID    string             `json:"variant_id,omitempty"`
	Reasoning    string             `json:"reasoning"`
	Executed     bool               `json:"executed"`
	Metrics      experiment.Metrics `json:"metrics"`
}

// Sink accepts automation log entries. Appends are fire-and-forget from
// the decision pipeline's point of view: a sink failure must never abort
// an evaluation.
type Sink interface {
	Append(ctx context.Context, brandID string, e Entry) error
	Close() error
}

// MemoryLog is an in-memory sink used in tests and for serving the
// impact-measurement queries in single-process deployments.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(ctx context.Context, brandID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.BrandID = brandID
	m.entries = append(m.entries, e)
	return nil
}

// ListByExperiment returns entries for one experiment in append order.
func (m *MemoryLog) ListByExperiment(brandID, experimentID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if e.BrandID == brandID && e.ExperimentID == experimentID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the total number of entries.
func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryLog) Close() error { return nil }
