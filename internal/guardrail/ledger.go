package guardrail

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Ledger records when an action last ran against an entity. Reserve is an
// atomic check-and-set: under concurrent calls for the same key within one
// window, exactly one caller wins. A plain read followed by a later write
// does not satisfy this contract.
type Ledger interface {
	// Reserve claims the (entityID, action) slot for the given window.
	// Returns true if the claim won, false if an action of the same type
	// ran for the entity within the window.
	Reserve(ctx context.Context, entityID string, action ActionType, window time.Duration) (bool, error)

	// Close releases resources.
	Close() error
}

func ledgerKey(entityID string, action ActionType) string {
	return fmt.Sprintf("guardrail:%s:%s", entityID, action)
}

// MemoryLedger is an in-process ledger. The mutex makes check-and-set
// atomic with respect to concurrent callers.
type MemoryLedger struct {
	mu           sync.Mutex
	lastActionAt map[string]time.Time
	now          func() time.Time
}

// NewMemoryLedger creates an empty in-memory rate ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		lastActionAt: make(map[string]time.Time),
		now:          time.Now,
	}
}

func (l *MemoryLedger) Reserve(ctx context.Context, entityID string, action ActionType, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(entityID, action)
	now := l.now()
	if last, ok := l.lastActionAt[key]; ok && now.Sub(last) < window {
		return false, nil
	}
	l.lastActionAt[key] = now
	return true, nil
}

func (l *MemoryLedger) Close() error { return nil }
