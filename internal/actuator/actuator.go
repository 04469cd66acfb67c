// Package actuator defines the boundary to external ad platforms.
//
// Real platform clients live behind the Executor interface and are out of
// scope for this core; everything that reaches them goes through the
// guardrail decorator first.
package actuator

import (
	"context"
	"log"
)

// EntityType identifies what kind of platform object an action targets.
type EntityType string

const (
	EntityCampaign  EntityType = "campaign"
	EntityAdVariant EntityType = "ad_variant"
)

// Result is the normalized outcome of a platform action. Guardrail
// rejections come back as a Result with ErrorCode set so callers can
// distinguish "blocked by us" from "the platform rejected it".
type Result struct {
	Success     bool     `json:"success"`
	ExternalID  string   `json:"external_id"`
	Platform    string   `json:"platform"`
	ActionTaken string   `json:"action_taken"`
	NewValue    *float64 `json:"new_value,omitempty"`
	Error       string   `json:"error,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
}

// EntityStatus reports the platform-side state of an entity.
type EntityStatus struct {
	Status        string  `json:"status"`
	CurrentBudget float64 `json:"current_budget"`
}

// Executor performs actions against an ad platform.
type Executor interface {
	PauseEntity(ctx context.Context, entityID string, entityType EntityType) (*Result, error)
	AdjustBudget(ctx context.Context, entityID string, entityType EntityType, newBudget float64) (*Result, error)
	GetEntityStatus(ctx context.Context, entityID string) (*EntityStatus, error)
}

// LogExecutor is a stand-in executor that logs actions and reports
// success. Used for local runs where no platform credentials exist.
type LogExecutor struct {
	Platform string
}

// NewLogExecutor creates a logging executor for the named platform.
func NewLogExecutor(platform string) *LogExecutor {
	if platform == "" {
		platform = "simulated"
	}
	return &LogExecutor{Platform: platform}
}

func (l *LogExecutor) PauseEntity(ctx context.Context, entityID string, entityType EntityType) (*Result, error) {
	log.Printf("[actuator] pause %s %s (platform=%s)", entityType, entityID, l.Platform)
	return &Result{
		Success:     true,
		ExternalID:  entityID,
		Platform:    l.Platform,
		ActionTaken: "pause",
	}, nil
}

func (l *LogExecutor) AdjustBudget(ctx context.Context, entityID string, entityType EntityType, newBudget float64) (*Result, error) {
	log.Printf("[actuator] adjust budget %s %s -> %.2f (platform=%s)", entityType, entityID, newBudget, l.Platform)
	return &Result{
		Success:     true,
		ExternalID:  entityID,
		Platform:    l.Platform,
		ActionTaken: "budget_adjust",
		NewValue:    &newBudget,
	}, nil
}

func (l *LogExecutor) GetEntityStatus(ctx context.Context, entityID string) (*EntityStatus, error) {
	return &EntityStatus{Status: "active"}, nil
}
