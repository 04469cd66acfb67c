package experiment

import (
	"fmt"
	"time"
)

// Status tracks the experiment lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// EventType identifies a tracked subject interaction.
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventConversion EventType = "conversion"
)

// Variant is one arm of an experiment. Counters are monotonic and only
// move through Repository.RecordEvent, never by direct field writes.
type Variant struct {
	ID                string            `json:"id"` // stable: "variant_<index>"
	Name              string            `json:"name"`
	ContentVariations map[string]string `json:"content_variations,omitempty"`
	Weight            float64           `json:"weight"`
	Impressions       int64             `json:"impressions"`
	Clicks            int64             `json:"clicks"`
	Conversions       int64             `json:"conversions"`
	Revenue           float64           `json:"revenue"`
}

// ConversionRate returns conversions per impression, 0 when no impressions.
func (v *Variant) ConversionRate() float64 {
	if v.Impressions == 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Impressions)
}

// Metrics is the denormalized experiment-level aggregate. It is kept
// consistent with the sum of variant counters by the same transaction
// that updates a variant.
type Metrics struct {
	TotalImpressions int64   `json:"total_impressions"`
	TotalConversions int64   `json:"total_conversions"`
	TotalRevenue     float64 `json:"total_revenue"`
}

// Experiment is the aggregate root. Owned by the brand that created it.
type Experiment struct {
	ID            string    `json:"id"`
	BrandID       string    `json:"brand_id"`
	Name          string    `json:"name"`
	TargetSegment string    `json:"target_segment,omitempty"`
	Variants      []Variant `json:"variants"` // stable order = array index = id suffix
	Status        Status    `json:"status"`
	Metrics       Metrics   `json:"metrics"`

	WinnerVariantID   string  `json:"winner_variant_id,omitempty"`
	SignificanceLevel float64 `json:"significance_level,omitempty"`
	AutoOptimize      bool    `json:"auto_optimize"`

	// Advisory metadata (e.g. variants paused by automation). Consumed by
	// traffic routing, not enforced inside this core.
	Metadata map[string]string `json:"metadata,omitempty"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Variant returns the variant with the given id.
func (e *Experiment) Variant(variantID string) (*Variant, error) {
	for i := range e.Variants {
		if e.Variants[i].ID == variantID {
			return &e.Variants[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
}

// VariantSpec describes one arm at creation time.
type VariantSpec struct {
	Name              string            `json:"name"`
	ContentVariations map[string]string `json:"content_variations,omitempty"`
}

// Spec is the creation request for an experiment.
type Spec struct {
	Name          string        `json:"name"`
	TargetSegment string        `json:"target_segment,omitempty"`
	Variants      []VariantSpec `json:"variants"`
	AutoOptimize  bool          `json:"auto_optimize"`
	EndDate       *time.Time    `json:"end_date,omitempty"`
}

// Validate checks a creation spec before any store write.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(s.Variants) < 2 {
		return &ValidationError{Field: "variants", Message: "at least 2 variants required"}
	}
	for i, v := range s.Variants {
		if v.Name == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("variants[%d].name", i),
				Message: "variant name is required",
			}
		}
	}
	return nil
}

// newExperiment builds an experiment from a spec: equal weights summing to
// 1.0, zeroed counters, draft status.
func newExperiment(id, brandID string, spec Spec, now time.Time) *Experiment {
	n := len(spec.Variants)
	variants := make([]Variant, n)
	for i, vs := range spec.Variants {
		variants[i] = Variant{
			ID:                fmt.Sprintf("variant_%d", i),
			Name:              vs.Name,
			ContentVariations: vs.ContentVariations,
			Weight:            1.0 / float64(n),
		}
	}
	return &Experiment{
		ID:            id,
		BrandID:       brandID,
		Name:          spec.Name,
		TargetSegment: spec.TargetSegment,
		Variants:      variants,
		Status:        StatusDraft,
		AutoOptimize:  spec.AutoOptimize,
		EndDate:       spec.EndDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// applyEvent mutates a variant and the top-level aggregate together so both
// sides of the denormalization move in the same write.
func applyEvent(e *Experiment, variantID string, event EventType, revenueDelta float64) error {
	v, err := e.Variant(variantID)
	if err != nil {
		return err
	}
	switch event {
	case EventImpression:
		v.Impressions++
		e.Metrics.TotalImpressions++
	case EventClick:
		v.Clicks++
	case EventConversion:
		v.Conversions++
		e.Metrics.TotalConversions++
		if revenueDelta > 0 {
			v.Revenue += revenueDelta
			e.Metrics.TotalRevenue += revenueDelta
		}
	default:
		return &ValidationError{Field: "event", Message: fmt.Sprintf("unknown event type: %s", event)}
	}
	return nil
}

// Patch is a partial update. Nil fields are left untouched; Metadata keys
// are merged into the existing map.
type Patch struct {
	Name          *string           `json:"name,omitempty"`
	TargetSegment *string           `json:"target_segment,omitempty"`
	AutoOptimize  *bool             `json:"auto_optimize,omitempty"`
	EndDate       *time.Time        `json:"end_date,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func applyPatch(e *Experiment, p Patch, now time.Time) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.TargetSegment != nil {
		e.TargetSegment = *p.TargetSegment
	}
	if p.AutoOptimize != nil {
		e.AutoOptimize = *p.AutoOptimize
	}
	if p.EndDate != nil {
		e.EndDate = p.EndDate
	}
	if len(p.Metadata) > 0 {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			e.Metadata[k] = v
		}
	}
	e.UpdatedAt = now
}
