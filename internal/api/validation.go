package api

import (
	"context"
	"time"

	"github.com/lazypower/duro/internal/engine"
	"github.com/lazypower/duro/internal/store"
)

// DefaultUnreviewedAge is the list_unreviewed_decisions threshold when the
// caller gives none.
const DefaultUnreviewedAge = 7 * 24 * time.Hour

// ValidateDecisionInput is the input of validate_decision.
type ValidateDecisionInput struct {
	ID              string               `json:"id" jsonschema:"decision id"`
	Status          store.DecisionStatus `json:"status" jsonschema:"validated, reversed or superseded"`
	Result          store.OutcomeResult  `json:"result,omitempty" jsonschema:"success, partial or failed"`
	ExpectedOutcome string               `json:"expected_outcome,omitempty"`
	ActualOutcome   string               `json:"actual_outcome,omitempty"`
	Notes           string               `json:"notes,omitempty"`
	ExplicitDelta   *float64             `json:"explicit_delta,omitempty" jsonschema:"confidence change replacing the policy delta"`
	SupersededBy    string               `json:"superseded_by,omitempty" jsonschema:"successor decision id when superseding"`
}

// ValidateDecision records an outcome on a decision.
func (s *Service) ValidateDecision(ctx context.Context, in ValidateDecisionInput) (*store.Artifact, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	return s.Engine.RecordOutcome(ctx, in.ID, engine.OutcomeInput{
		Status:          in.Status,
		Result:          in.Result,
		ExpectedOutcome: in.ExpectedOutcome,
		ActualOutcome:   in.ActualOutcome,
		Notes:           in.Notes,
		ExplicitDelta:   in.ExplicitDelta,
		SupersededBy:    in.SupersededBy,
	})
}

// SupersedeFactInput is the input of supersede_fact.
type SupersedeFactInput struct {
	OldID  string `json:"old_id" jsonschema:"the fact being replaced"`
	NewID  string `json:"new_id" jsonschema:"the replacing fact"`
	Reason string `json:"reason,omitempty"`
}

// SupersedeFact links a fact to its successor.
func (s *Service) SupersedeFact(ctx context.Context, in SupersedeFactInput) (*store.Artifact, error) {
	if err := required("old_id", in.OldID); err != nil {
		return nil, err
	}
	if err := required("new_id", in.NewID); err != nil {
		return nil, err
	}
	return s.Engine.Supersede(ctx, in.OldID, in.NewID, in.Reason)
}

// ReinforceFact restores a fact's confidence and restarts its decay.
func (s *Service) ReinforceFact(ctx context.Context, in IDInput) (*store.Artifact, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	return s.Engine.Reinforce(ctx, in.ID)
}

// ApplyDecayInput is the input of apply_decay.
type ApplyDecayInput struct {
	DryRun        bool    `json:"dry_run,omitempty" jsonschema:"report without writing"`
	MinImportance float64 `json:"min_importance,omitempty" jsonschema:"skip facts less important than this"`
}

// ApplyDecay runs one decay pass over all facts.
func (s *Service) ApplyDecay(ctx context.Context, in ApplyDecayInput) (*engine.DecayReport, error) {
	return s.Engine.ApplyDecay(ctx, engine.DecayOptions{DryRun: in.DryRun, MinImportance: in.MinImportance})
}

// ValidationHistory returns a decision's validation events, oldest first.
func (s *Service) ValidationHistory(ctx context.Context, in IDInput) ([]store.ValidationEvent, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	return s.Engine.ValidationHistory(ctx, in.ID)
}

// ListUnreviewedInput is the input of list_unreviewed_decisions.
type ListUnreviewedInput struct {
	OlderThanHours *float64 `json:"older_than_hours,omitempty" jsonschema:"minimum age in hours, default 168"`
	IncludeTags    []string `json:"include_tags,omitempty"`
	ExcludeTags    []string `json:"exclude_tags,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// ListUnreviewed returns pending decisions older than the threshold.
func (s *Service) ListUnreviewed(ctx context.Context, in ListUnreviewedInput) ([]*store.Artifact, error) {
	age := DefaultUnreviewedAge
	if in.OlderThanHours != nil {
		age = time.Duration(*in.OlderThanHours * float64(time.Hour))
	}
	return s.Engine.ListUnreviewed(ctx, engine.UnreviewedQuery{
		OlderThan:   age,
		IncludeTags: in.IncludeTags,
		ExcludeTags: in.ExcludeTags,
		Limit:       in.Limit,
	})
}
