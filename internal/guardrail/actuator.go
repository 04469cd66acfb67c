package guardrail

import (
	"context"

	"github.com/liftlab/adpilot/internal/actuator"
)

// GuardedActuator decorates an actuator.Executor with the guardrail:
// breaker check first, then an atomic ledger reservation, then the
// delegate. Rejections come back as normal Results carrying the reason
// code; the wrapped executor is never touched while the breaker is open.
type GuardedActuator struct {
	inner actuator.Executor
	guard *Manager
}

// NewGuardedActuator wraps an executor with guardrail checks.
func NewGuardedActuator(inner actuator.Executor, guard *Manager) *GuardedActuator {
	return &GuardedActuator{inner: inner, guard: guard}
}

func (g *GuardedActuator) PauseEntity(ctx context.Context, entityID string, entityType actuator.EntityType) (*actuator.Result, error) {
	return g.execute(ctx, ActionPause, entityID, func() (*actuator.Result, error) {
		return g.inner.PauseEntity(ctx, entityID, entityType)
	})
}

func (g *GuardedActuator) AdjustBudget(ctx context.Context, entityID string, entityType actuator.EntityType, newBudget float64) (*actuator.Result, error) {
	return g.execute(ctx, ActionAdjustBudget, entityID, func() (*actuator.Result, error) {
		return g.inner.AdjustBudget(ctx, entityID, entityType, newBudget)
	})
}

// GetEntityStatus is read-only and passes through unguarded.
func (g *GuardedActuator) GetEntityStatus(ctx context.Context, entityID string) (*actuator.EntityStatus, error) {
	return g.inner.GetEntityStatus(ctx, entityID)
}

// Status exposes the underlying guardrail snapshot.
func (g *GuardedActuator) Status() Snapshot {
	return g.guard.Status()
}

func (g *GuardedActuator) execute(ctx context.Context, action ActionType, entityID string, fn func() (*actuator.Result, error)) (*actuator.Result, error) {
	if err := g.guard.Allow(); err != nil {
		return blockedResult(entityID, action, ReasonCircuitOpen), nil
	}

	// Claim the ledger slot before delegating so concurrent racing calls
	// for the same entity see the entry and only one wins.
	ok, err := g.guard.ledger.Reserve(ctx, entityID, action, g.guard.Window(action))
	if err != nil {
		// Ledger unavailable counts as an action failure: automation must
		// not proceed unmetered.
		g.guard.RecordFailure()
		return &actuator.Result{
			ExternalID:  entityID,
			ActionTaken: string(action),
			Error:       err.Error(),
		}, err
	}
	if !ok {
		g.guard.RecordRateRejection()
		return blockedResult(entityID, action, ReasonRateLimited), nil
	}

	result, err := fn()
	if err != nil || (result != nil && !result.Success) {
		g.guard.RecordFailure()
		if result == nil {
			result = &actuator.Result{
				ExternalID:  entityID,
				ActionTaken: string(action),
			}
			if err != nil {
				result.Error = err.Error()
			}
		}
		return result, err
	}

	g.guard.RecordSuccess()
	return result, nil
}

func blockedResult(entityID string, action ActionType, reason string) *actuator.Result {
	return &actuator.Result{
		Success:     false,
		ExternalID:  entityID,
		ActionTaken: string(action),
		Error:       (&BlockedError{Reason: reason}).Error(),
		ErrorCode:   reason,
	}
}
