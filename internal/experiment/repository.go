package experiment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// Repository manages experiment aggregates for a brand. All mutation goes
// through these methods so the variant/aggregate consistency invariant
// holds; callers never write fields directly.
type Repository interface {
	// Create builds a draft experiment: equal variant weights summing to
	// 1.0, zeroed counters.
	Create(ctx context.Context, brandID string, spec Spec) (*Experiment, error)

	// Get retrieves an experiment. Returns ErrNotFound if absent.
	Get(ctx context.Context, brandID, experimentID string) (*Experiment, error)

	// List returns the brand's experiments, optionally filtered by status
	// (empty string = all).
	List(ctx context.Context, brandID string, status Status) ([]*Experiment, error)

	// Update applies a partial field patch and refreshes UpdatedAt.
	Update(ctx context.Context, brandID, experimentID string, patch Patch) (*Experiment, error)

	// Start moves draft -> running and stamps StartDate. Any other
	// current status is ErrPreconditionFailed.
	Start(ctx context.Context, brandID, experimentID string) error

	// Pause moves running -> paused.
	Pause(ctx context.Context, brandID, experimentID string) error

	// Complete moves any non-terminal status -> completed, recording the
	// winner and significance when supplied. Completing an already
	// completed experiment is a safe no-op.
	Complete(ctx context.Context, brandID, experimentID, winnerVariantID string, significance float64) error

	// Delete removes an experiment. Allowed only while status == draft.
	Delete(ctx context.Context, brandID, experimentID string) error

	// RecordEvent is the only way variant counters change. The read,
	// counter increment, and aggregate update happen in one transaction;
	// concurrent calls on the same experiment never lose updates.
	RecordEvent(ctx context.Context, brandID, experimentID, variantID string, event EventType, revenueDelta float64) error

	// Close releases store resources.
	Close() error
}

// newID generates an experiment identifier.
func newID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return "exp_" + hex.EncodeToString(buf)
}
