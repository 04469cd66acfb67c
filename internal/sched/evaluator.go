// Package sched drives the optimization loop: on an interval, every
// running auto-optimize experiment gets evaluated. The loop itself holds
// no decision logic; concurrency safety against other evaluators (or
// manual API evaluations) is the repository's and optimizer's problem.
package sched

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/liftlab/adpilot/internal/brand"
	"github.com/liftlab/adpilot/internal/experiment"
	"github.com/liftlab/adpilot/internal/optimizer"
)

// Evaluator periodically sweeps running experiments per brand.
type Evaluator struct {
	repo      experiment.Repository
	brands    *brand.Manager
	optimizer *optimizer.AutoOptimizer
	interval  time.Duration

	// killSwitch is sampled per sweep so an operator can flip dry-run
	// mode on a live process.
	killSwitch func() bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEvaluator creates a sweep loop. killSwitch may be nil (never dry-run).
func NewEvaluator(repo experiment.Repository, brands *brand.Manager, opt *optimizer.AutoOptimizer, interval time.Duration, killSwitch func() bool) *Evaluator {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if killSwitch == nil {
		killSwitch = func() bool { return false }
	}
	return &Evaluator{
		repo:       repo,
		brands:     brands,
		optimizer:  opt,
		interval:   interval,
		killSwitch: killSwitch,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the background loop.
func (e *Evaluator) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.RunOnce(ctx)
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (e *Evaluator) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// RunOnce sweeps every brand's running auto-optimize experiments. Exposed
// for manual triggering and tests.
func (e *Evaluator) RunOnce(ctx context.Context) {
	kill := e.killSwitch()

	for _, b := range e.brands.List() {
		if !b.Active {
			continue
		}
		exps, err := e.repo.List(ctx, b.ID, experiment.StatusRunning)
		if err != nil {
			log.Printf("[sched] list experiments for brand %s failed: %v", b.ID, err)
			continue
		}
		for _, exp := range exps {
			if !exp.AutoOptimize {
				continue
			}
			decisions, err := e.optimizer.Evaluate(ctx, b.ID, exp.ID, kill)
			if err != nil {
				// Disabled flag may have flipped between List and Evaluate.
				if errors.Is(err, optimizer.ErrAutoOptimizeDisabled) {
					continue
				}
				log.Printf("[sched] evaluate %s/%s failed: %v", b.ID, exp.ID, err)
				continue
			}
			for _, d := range decisions {
				if d.Action != optimizer.ActionContinue {
					log.Printf("[sched] %s/%s: %s variant=%s executed=%t", b.ID, exp.ID, d.Action, d.VariantID, d.Executed)
				}
			}
		}
	}
}
