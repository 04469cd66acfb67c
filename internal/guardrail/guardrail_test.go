package guardrail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liftlab/adpilot/internal/actuator"
)

// fakeExecutor counts invocations and fails on demand.
type fakeExecutor struct {
	calls int64
	fail  bool
}

func (f *fakeExecutor) PauseEntity(ctx context.Context, entityID string, entityType actuator.EntityType) (*actuator.Result, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.fail {
		return nil, errors.New("platform unavailable")
	}
	return &actuator.Result{Success: true, ExternalID: entityID, Platform: "fake", ActionTaken: "pause"}, nil
}

func (f *fakeExecutor) AdjustBudget(ctx context.Context, entityID string, entityType actuator.EntityType, newBudget float64) (*actuator.Result, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.fail {
		return nil, errors.New("platform unavailable")
	}
	return &actuator.Result{Success: true, ExternalID: entityID, Platform: "fake", ActionTaken: "budget_adjust", NewValue: &newBudget}, nil
}

func (f *fakeExecutor) GetEntityStatus(ctx context.Context, entityID string) (*actuator.EntityStatus, error) {
	return &actuator.EntityStatus{Status: "active"}, nil
}

func newTestActuator(exec *fakeExecutor) (*GuardedActuator, *Manager) {
	guard := NewManager(NewMemoryLedger(), DefaultConfig())
	return NewGuardedActuator(exec, guard), guard
}

func TestCircuitBreaker_TripsAfterThreeFailures(t *testing.T) {
	exec := &fakeExecutor{fail: true}
	guarded, guard := newTestActuator(exec)
	ctx := context.Background()

	// Distinct entities so the rate ledger stays out of the way.
	entities := []string{"camp-1", "camp-2", "camp-3"}
	for _, id := range entities {
		if _, err := guarded.PauseEntity(ctx, id, actuator.EntityCampaign); err == nil {
			t.Fatal("expected executor failure to surface")
		}
	}

	if got := guard.Status().State; got != StateOpen {
		t.Fatalf("breaker state = %s after 3 failures, want open", got)
	}

	before := atomic.LoadInt64(&exec.calls)
	result, err := guarded.PauseEntity(ctx, "camp-4", actuator.EntityCampaign)
	if err != nil {
		t.Fatalf("guardrail rejection should be a normal result, got error: %v", err)
	}
	if result.Success {
		t.Error("call succeeded while breaker open")
	}
	if result.ErrorCode != ReasonCircuitOpen {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, ReasonCircuitOpen)
	}
	if after := atomic.LoadInt64(&exec.calls); after != before {
		t.Errorf("wrapped executor invoked %d times while breaker open", after-before)
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	exec := &fakeExecutor{fail: true}
	guarded, guard := newTestActuator(exec)
	ctx := context.Background()

	guarded.PauseEntity(ctx, "camp-1", actuator.EntityCampaign)
	guarded.PauseEntity(ctx, "camp-2", actuator.EntityCampaign)

	exec.fail = false
	if result, err := guarded.PauseEntity(ctx, "camp-3", actuator.EntityCampaign); err != nil || !result.Success {
		t.Fatalf("expected success, got result=%+v err=%v", result, err)
	}

	s := guard.Status()
	if s.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d after success, want 0", s.ConsecutiveFailures)
	}

	// Two more failures must not trip: the streak was broken.
	exec.fail = true
	guarded.PauseEntity(ctx, "camp-4", actuator.EntityCampaign)
	guarded.PauseEntity(ctx, "camp-5", actuator.EntityCampaign)
	if got := guard.Status().State; got != StateClosed {
		t.Errorf("breaker state = %s, want closed after broken streak", got)
	}
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	exec := &fakeExecutor{fail: true}
	guarded, guard := newTestActuator(exec)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if _, err := guarded.PauseEntity(ctx, id, actuator.EntityCampaign); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	if guard.Status().State != StateOpen {
		t.Fatal("breaker should be open")
	}

	guard.Reset()
	if guard.Status().State != StateClosed {
		t.Fatal("breaker should be closed after Reset")
	}

	exec.fail = false
	if result, _ := guarded.PauseEntity(ctx, "d", actuator.EntityCampaign); !result.Success {
		t.Errorf("call after reset failed: %+v", result)
	}
}

func TestRateLimit_SecondBudgetCallRejected(t *testing.T) {
	exec := &fakeExecutor{}
	guarded, _ := newTestActuator(exec)
	ctx := context.Background()

	first, err := guarded.AdjustBudget(ctx, "camp-1", actuator.EntityCampaign, 100)
	if err != nil || !first.Success {
		t.Fatalf("first adjust failed: result=%+v err=%v", first, err)
	}

	second, err := guarded.AdjustBudget(ctx, "camp-1", actuator.EntityCampaign, 200)
	if err != nil {
		t.Fatalf("rate rejection should be a normal result, got error: %v", err)
	}
	if second.Success {
		t.Error("second adjust within window succeeded")
	}
	if second.ErrorCode != ReasonRateLimited {
		t.Errorf("ErrorCode = %q, want %q", second.ErrorCode, ReasonRateLimited)
	}

	// Different entity, same window: allowed.
	other, err := guarded.AdjustBudget(ctx, "camp-2", actuator.EntityCampaign, 100)
	if err != nil || !other.Success {
		t.Errorf("adjust on different entity blocked: result=%+v err=%v", other, err)
	}
}

func TestRateLimit_PauseAndBudgetIndependent(t *testing.T) {
	exec := &fakeExecutor{}
	guarded, _ := newTestActuator(exec)
	ctx := context.Background()

	if r, _ := guarded.AdjustBudget(ctx, "camp-1", actuator.EntityCampaign, 100); !r.Success {
		t.Fatalf("budget adjust blocked: %+v", r)
	}
	// A pause on the same entity does not consume the budget quota.
	if r, _ := guarded.PauseEntity(ctx, "camp-1", actuator.EntityCampaign); !r.Success {
		t.Errorf("pause blocked by budget quota: %+v", r)
	}
}

func TestRateLimit_ConcurrentBurstExactlyOneWins(t *testing.T) {
	exec := &fakeExecutor{}
	guarded, _ := newTestActuator(exec)
	ctx := context.Background()

	const burst = 10
	var wg sync.WaitGroup
	var successes, rejections int64

	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := guarded.AdjustBudget(ctx, "camp-hot", actuator.EntityCampaign, 500)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if result.Success {
				atomic.AddInt64(&successes, 1)
			} else if result.ErrorCode == ReasonRateLimited {
				atomic.AddInt64(&rejections, 1)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if rejections != burst-1 {
		t.Errorf("rate rejections = %d, want %d", rejections, burst-1)
	}
	if calls := atomic.LoadInt64(&exec.calls); calls != 1 {
		t.Errorf("executor invoked %d times, want 1", calls)
	}
}

func TestMemoryLedger_WindowExpiry(t *testing.T) {
	ledger := NewMemoryLedger()
	base := time.Now()
	ledger.now = func() time.Time { return base }
	ctx := context.Background()

	if ok, _ := ledger.Reserve(ctx, "e1", ActionAdjustBudget, 6*time.Hour); !ok {
		t.Fatal("first reserve should win")
	}
	if ok, _ := ledger.Reserve(ctx, "e1", ActionAdjustBudget, 6*time.Hour); ok {
		t.Fatal("second reserve inside window should lose")
	}

	ledger.now = func() time.Time { return base.Add(6*time.Hour + time.Minute) }
	if ok, _ := ledger.Reserve(ctx, "e1", ActionAdjustBudget, 6*time.Hour); !ok {
		t.Error("reserve after window should win")
	}
}

func TestLedger_ZeroWindowUnlimited(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if ok, _ := ledger.Reserve(ctx, "e1", ActionPause, 0); !ok {
			t.Fatalf("reserve %d with zero window should win", i)
		}
	}
}
