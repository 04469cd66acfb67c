// Package guardrail is the safety layer in front of every automated
// external action: a circuit breaker shared by all guarded calls plus a
// per-(entity, action) rate ledger.
package guardrail

import (
	"fmt"
	"sync"
	"time"
)

// Guardrail rejection codes. Callers inspect these on the normalized
// actuator Result rather than on a wrapped error chain.
const (
	CodeBlocked = "GUARDRAIL_BLOCKED"

	ReasonCircuitOpen = "CIRCUIT_BREAKER_OPEN"
	ReasonRateLimited = "RATE_LIMIT_EXCEEDED"
)

// ActionType keys the rate ledger. Pause and budget adjustments carry
// independent quotas.
type ActionType string

const (
	ActionPause        ActionType = "pause"
	ActionAdjustBudget ActionType = "budget_adjust"
)

// BlockedError reports a guardrail rejection with its reason code.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s/%s", CodeBlocked, e.Reason)
}

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	StateClosed BreakerState = "closed" // normal operation
	StateOpen   BreakerState = "open"   // maintenance mode, all calls rejected
)

// Config holds guardrail tuning.
type Config struct {
	// FailureThreshold is the number of consecutive action failures that
	// trips the breaker. Defaults to 3.
	FailureThreshold int

	// Windows maps action types to their minimum spacing per entity.
	// Defaults: 6h for budget adjustments, 1h for pauses.
	Windows map[ActionType]time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Windows: map[ActionType]time.Duration{
			ActionAdjustBudget: 6 * time.Hour,
			ActionPause:        1 * time.Hour,
		},
	}
}

// Manager holds process-wide guardrail state. It is explicitly constructed
// and injected (never a package-level singleton) so tests can reset it
// between cases and multiple instances can be reasoned about separately.
// For cross-process sharing back it with a RedisLedger.
type Manager struct {
	mu sync.Mutex

	failureThreshold    int
	consecutiveFailures int
	state               BreakerState
	lastStateChange     time.Time

	ledger  Ledger
	windows map[ActionType]time.Duration

	// Statistics
	rejectedCircuit int64
	rejectedRate    int64

	now func() time.Time
}

// NewManager creates a guardrail manager backed by the given ledger.
func NewManager(ledger Ledger, config Config) *Manager {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.Windows == nil {
		config.Windows = DefaultConfig().Windows
	}
	return &Manager{
		failureThreshold: config.FailureThreshold,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		ledger:           ledger,
		windows:          config.Windows,
		now:              time.Now,
	}
}

// Allow reports whether the breaker admits a guarded call right now.
func (m *Manager) Allow() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateOpen {
		m.rejectedCircuit++
		return &BlockedError{Reason: ReasonCircuitOpen}
	}
	return nil
}

// RecordSuccess resets the consecutive failure counter.
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveFailures = 0
}

// RecordFailure counts a failed guarded action and trips the breaker at
// the threshold. While open, nothing reaches the wrapped executor until a
// manual Reset.
func (m *Manager) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++
	if m.state == StateClosed && m.consecutiveFailures >= m.failureThreshold {
		m.state = StateOpen
		m.lastStateChange = m.now()
	}
}

// Reset closes the breaker and zeroes the failure counter. Manual
// operation; there is no half-open auto-recovery.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateClosed
	m.consecutiveFailures = 0
	m.lastStateChange = m.now()
}

// Window returns the configured spacing for an action type (0 = unlimited).
func (m *Manager) Window(action ActionType) time.Duration {
	return m.windows[action]
}

// RecordRateRejection counts a ledger rejection for the status snapshot.
func (m *Manager) RecordRateRejection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectedRate++
}

// Snapshot is a point-in-time view of guardrail state.
type Snapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	FailureThreshold    int          `json:"failure_threshold"`
	LastStateChange     time.Time    `json:"last_state_change"`
	RejectedByCircuit   int64        `json:"rejected_by_circuit"`
	RejectedByRate      int64        `json:"rejected_by_rate"`
}

// Status returns a copy of the current guardrail state.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:               m.state,
		ConsecutiveFailures: m.consecutiveFailures,
		FailureThreshold:    m.failureThreshold,
		LastStateChange:     m.lastStateChange,
		RejectedByCircuit:   m.rejectedCircuit,
		RejectedByRate:      m.rejectedRate,
	}
}
