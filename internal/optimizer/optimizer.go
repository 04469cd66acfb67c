// Package optimizer converts experiment metrics into automation decisions
// and applies them, unless the kill switch forces a dry run.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/liftlab/adpilot/internal/actuator"
	"github.com/liftlab/adpilot/internal/autolog"
	"github.com/liftlab/adpilot/internal/experiment"
	"github.com/liftlab/adpilot/internal/guardrail"
	"github.com/liftlab/adpilot/internal/metrics"
	"github.com/liftlab/adpilot/internal/stats"
)

// ErrAutoOptimizeDisabled short-circuits Evaluate before any rule runs.
var ErrAutoOptimizeDisabled = errors.New("auto-optimize disabled for this test")

// Action is a policy outcome.
type Action string

const (
	ActionContinue      Action = "continue"
	ActionPauseVariant  Action = "pause_variant"
	ActionDeclareWinner Action = "declare_winner"
	ActionEarlyStop     Action = "early_stop"
)

// Decision is a recommended (and possibly applied) action. Executed is
// false whenever the kill switch was active or an attempted effect was
// blocked by the guardrail.
type Decision struct {
	Action       Action  `json:"action"`
	VariantID    string  `json:"variant_id,omitempty"`
	Reasoning    string  `json:"reasoning"`
	Executed     bool    `json:"executed"`
	Significance float64 `json:"significance,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Actuator is the downstream effect boundary the optimizer drives for
// decisions that imply an external change. In production this is the
// guardrail-wrapped executor.
type Actuator interface {
	PauseEntity(ctx context.Context, entityID string, entityType actuator.EntityType) (*actuator.Result, error)
}

// Config holds the fixed policy thresholds.
type Config struct {
	// EarlyStopImpressions: every variant must have at least this many
	// impressions, with zero conversions anywhere, to stop early.
	EarlyStopImpressions int64

	// PauseMinImpressions: a variant needs this many impressions before
	// it can be paused as a loser.
	PauseMinImpressions int64

	// PauseRateFraction: pause a variant whose conversion rate is below
	// this fraction of the leader's.
	PauseRateFraction float64

	// WinnerConfidence: minimum significance to declare a winner.
	WinnerConfidence float64
}

// DefaultConfig returns the production policy thresholds.
func DefaultConfig() Config {
	return Config{
		EarlyStopImpressions: 500,
		PauseMinImpressions:  100,
		PauseRateFraction:    0.5,
		WinnerConfidence:     0.95,
	}
}

// AutoOptimizer evaluates experiments and applies the resulting decisions.
// Safe for concurrent callers; idempotency of repeated decisions is the
// repository's job (Complete on a completed experiment is a no-op).
type AutoOptimizer struct {
	repo     experiment.Repository
	actuator Actuator
	logSink  autolog.Sink
	metrics  *metrics.Metrics
	config   Config
	now      func() time.Time
}

// New creates an optimizer. logSink and m may be nil (no decision audit
// trail / no metrics), actuator may be nil only if no winner or pause
// decisions will ever be executed.
func New(repo experiment.Repository, act Actuator, logSink autolog.Sink, m *metrics.Metrics, config Config) *AutoOptimizer {
	// Zero fields fall back individually so a partial Config cannot
	// silently disable a rule.
	defaults := DefaultConfig()
	if config.EarlyStopImpressions <= 0 {
		config.EarlyStopImpressions = defaults.EarlyStopImpressions
	}
	if config.PauseMinImpressions <= 0 {
		config.PauseMinImpressions = defaults.PauseMinImpressions
	}
	if config.PauseRateFraction <= 0 {
		config.PauseRateFraction = defaults.PauseRateFraction
	}
	if config.WinnerConfidence <= 0 {
		config.WinnerConfidence = defaults.WinnerConfidence
	}
	return &AutoOptimizer{
		repo:     repo,
		actuator: act,
		logSink:  logSink,
		metrics:  m,
		config:   config,
		now:      time.Now,
	}
}

// Evaluate reads the experiment's current aggregates, runs the decision
// policy in fixed order, and applies each decision unless killSwitch is
// set. With the kill switch active the same decisions come back with
// Executed=false and no repository, actuator, or log writes happen, so an
// operator can see what the system would have done.
func (o *AutoOptimizer) Evaluate(ctx context.Context, brandID, experimentID string, killSwitch bool) ([]Decision, error) {
	exp, err := o.repo.Get(ctx, brandID, experimentID)
	if err != nil {
		return nil, err
	}
	if !exp.AutoOptimize {
		return nil, ErrAutoOptimizeDisabled
	}

	if o.metrics != nil {
		o.metrics.EvaluationsTotal.WithLabelValues(brandID).Inc()
	}

	decisions := o.decide(exp)

	if killSwitch {
		if o.metrics != nil {
			o.metrics.DryRunDecisions.Add(float64(len(decisions)))
		}
		for i := range decisions {
			decisions[i].Executed = false
		}
		return decisions, nil
	}

	for i := range decisions {
		o.apply(ctx, exp, &decisions[i])
	}
	return decisions, nil
}

// decide runs the policy rules in their fixed order against a snapshot.
func (o *AutoOptimizer) decide(exp *experiment.Experiment) []Decision {
	// Rule 1: early stop. Every variant well fed, zero conversions
	// anywhere: the experiment is not working, halt regardless of
	// significance.
	allFed := len(exp.Variants) > 0
	var totalConversions int64
	for i := range exp.Variants {
		v := &exp.Variants[i]
		if v.Impressions < o.config.EarlyStopImpressions {
			allFed = false
		}
		totalConversions += v.Conversions
	}
	if allFed && totalConversions == 0 {
		return []Decision{{
			Action: ActionEarlyStop,
			Reasoning: fmt.Sprintf("all %d variants exceed %d impressions with zero conversions",
				len(exp.Variants), o.config.EarlyStopImpressions),
		}}
	}

	var decisions []Decision

	// Rule 2: declare winner. Best variant against the pooled rest.
	leader := bestVariant(exp)
	if leader != nil && len(exp.Variants) >= 2 {
		var rest stats.Sample
		for i := range exp.Variants {
			v := &exp.Variants[i]
			if v.ID == leader.ID {
				continue
			}
			rest.Conversions += v.Conversions
			rest.Impressions += v.Impressions
		}
		verdict := stats.Compare(
			stats.Sample{Conversions: leader.Conversions, Impressions: leader.Impressions},
			rest,
			o.config.WinnerConfidence,
		)
		if verdict.IsSignificant && verdict.Significance >= o.config.WinnerConfidence {
			decisions = append(decisions, Decision{
				Action:       ActionDeclareWinner,
				VariantID:    leader.ID,
				Significance: verdict.Significance,
				Reasoning: fmt.Sprintf("%s converts at %.2f%% vs %.2f%% for the rest (significance %.3f)",
					leader.ID, 100*leader.ConversionRate(), 100*rest.Rate(), verdict.Significance),
			})
		}
	}

	// Rule 3: pause losers. Not a statistical claim, a guardrail against
	// feeding a clearly inferior variant.
	if leader != nil && leader.ConversionRate() > 0 {
		threshold := leader.ConversionRate() * o.config.PauseRateFraction
		for i := range exp.Variants {
			v := &exp.Variants[i]
			if v.ID == leader.ID || v.Impressions < o.config.PauseMinImpressions {
				continue
			}
			if v.ConversionRate() < threshold {
				decisions = append(decisions, Decision{
					Action:    ActionPauseVariant,
					VariantID: v.ID,
					Reasoning: fmt.Sprintf("%s converts at %.2f%%, below half of leader %s at %.2f%%",
						v.ID, 100*v.ConversionRate(), leader.ID, 100*leader.ConversionRate()),
				})
			}
		}
	}

	if len(decisions) == 0 {
		decisions = append(decisions, Decision{
			Action:    ActionContinue,
			Reasoning: "insufficient or inconclusive data; keep collecting",
		})
	}
	return decisions
}

// apply executes one decision. A failure here is recorded on the decision
// and never aborts the remaining decisions from the same evaluation.
func (o *AutoOptimizer) apply(ctx context.Context, exp *experiment.Experiment, d *Decision) {
	if o.metrics != nil {
		o.metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	}

	switch d.Action {
	case ActionDeclareWinner:
		if err := o.repo.Complete(ctx, exp.BrandID, exp.ID, d.VariantID, d.Significance); err != nil {
			o.fail(d, fmt.Errorf("complete failed: %w", err))
			break
		}
		d.Executed = true
		// Route the external effect through the guarded actuator: losing
		// variants stop serving.
		for i := range exp.Variants {
			v := &exp.Variants[i]
			if v.ID == d.VariantID {
				continue
			}
			if blocked := o.pauseEntity(ctx, exp, v.ID); blocked {
				d.Executed = false
			}
		}

	case ActionPauseVariant:
		patch := experiment.Patch{
			Metadata: map[string]string{"paused_variant_" + d.VariantID: o.now().UTC().Format(time.RFC3339)},
		}
		if _, err := o.repo.Update(ctx, exp.BrandID, exp.ID, patch); err != nil {
			o.fail(d, fmt.Errorf("update failed: %w", err))
			break
		}
		d.Executed = true
		if blocked := o.pauseEntity(ctx, exp, d.VariantID); blocked {
			d.Executed = false
		}

	case ActionEarlyStop:
		if err := o.repo.Pause(ctx, exp.BrandID, exp.ID); err != nil && !errors.Is(err, experiment.ErrPreconditionFailed) {
			o.fail(d, fmt.Errorf("pause failed: %w", err))
			break
		}
		d.Executed = true

	case ActionContinue:
		d.Executed = true
	}

	o.logDecision(ctx, exp, d)
}

// pauseEntity sends a pause through the actuator. Returns true if the
// guardrail blocked it.
func (o *AutoOptimizer) pauseEntity(ctx context.Context, exp *experiment.Experiment, variantID string) bool {
	if o.actuator == nil {
		return false
	}
	entityID := exp.ID + "/" + variantID
	result, err := o.actuator.PauseEntity(ctx, entityID, actuator.EntityAdVariant)
	if err != nil {
		if o.metrics != nil {
			o.metrics.ActuatorFailures.Inc()
		}
		log.Printf("[optimizer] pause of %s failed: %v", entityID, err)
		return false
	}
	if result != nil && !result.Success {
		switch result.ErrorCode {
		case guardrail.ReasonCircuitOpen, guardrail.ReasonRateLimited:
			if o.metrics != nil {
				o.metrics.GuardrailBlocked.WithLabelValues(result.ErrorCode).Inc()
			}
			log.Printf("[optimizer] pause of %s blocked by guardrail: %s", entityID, result.ErrorCode)
			return true
		default:
			if o.metrics != nil {
				o.metrics.ActuatorFailures.Inc()
			}
			log.Printf("[optimizer] pause of %s rejected by platform: %s", entityID, result.Error)
		}
	}
	return false
}

func (o *AutoOptimizer) fail(d *Decision, err error) {
	d.Executed = false
	d.Error = err.Error()
	if o.metrics != nil {
		o.metrics.DecisionErrors.Inc()
	}
	log.Printf("[optimizer] decision %s not applied: %v", d.Action, err)
}

// logDecision appends the decision to the automation log with the metrics
// snapshot that triggered it. Fire-and-forget: sink failures are logged
// and swallowed.
func (o *AutoOptimizer) logDecision(ctx context.Context, exp *experiment.Experiment, d *Decision) {
	if o.logSink == nil {
		return
	}
	entry := autolog.Entry{
		Timestamp:    o.now(),
		ExperimentID: exp.ID,
		Action:       string(d.Action),
		VariantID:    d.VariantID,
		Reasoning:    d.Reasoning,
		Executed:     d.Executed,
		Metrics:      exp.Metrics,
	}
	if err := o.logSink.Append(ctx, exp.BrandID, entry); err != nil {
		log.Printf("[optimizer] automation log append failed: %v", err)
	}
}

// bestVariant returns the variant with the highest conversion rate, ties
// broken by array order. Nil for an empty experiment.
func bestVariant(exp *experiment.Experiment) *experiment.Variant {
	var best *experiment.Variant
	for i := range exp.Variants {
		v := &exp.Variants[i]
		if best == nil || v.ConversionRate() > best.ConversionRate() {
			best = v
		}
	}
	return best
}
