package api

import (
	"context"
	"time"

	"github.com/lazypower/duro/internal/engine"
	"github.com/lazypower/duro/internal/store"
)

// RecentChangesInput is the input of query_recent_changes.
type RecentChangesInput struct {
	Hours    float64  `json:"hours,omitempty" jsonschema:"lookback window in hours; default is the debug gate lookback"`
	RiskTags []string `json:"risk_tags,omitempty" jsonschema:"match changes sharing any of these risk tags"`
	Scope    string   `json:"scope,omitempty" jsonschema:"substring of the change scope"`
	Limit    int      `json:"limit,omitempty"`
}

// RecentChanges queries the change ledger, newest first.
func (s *Service) RecentChanges(ctx context.Context, in RecentChangesInput) ([]*store.Artifact, error) {
	if in.Hours < 0 {
		return nil, &store.ValidationError{Field: "hours", Reason: "must not be negative"}
	}
	return s.Engine.RecentChanges(ctx, engine.ChangeQuery{
		Window:   time.Duration(in.Hours * float64(time.Hour)),
		RiskTags: in.RiskTags,
		Scope:    in.Scope,
		Limit:    in.Limit,
	})
}

// GateStartInput is the input of debug_gate_start.
type GateStartInput struct {
	IncidentID       string            `json:"incident_id,omitempty" jsonschema:"restart the gate of an existing incident; omit to create a draft"`
	Symptom          string            `json:"symptom" jsonschema:"what was observed"`
	Tags             []string          `json:"tags,omitempty" jsonschema:"tags used to infer risk tags"`
	Severity         store.Severity    `json:"severity,omitempty"`
	ReproSteps       []string          `json:"repro_steps,omitempty"`
	FirstBadBoundary string            `json:"first_bad_boundary,omitempty"`
	Sensitivity      store.Sensitivity `json:"sensitivity,omitempty"`
	Workflow         string            `json:"workflow,omitempty"`
}

// GateStart opens a debug gate.
func (s *Service) GateStart(ctx context.Context, in GateStartInput) (*engine.GateStatus, error) {
	return s.Engine.StartGate(ctx, engine.GateStart(in))
}

// GateStatus reports the outstanding passes of an incident.
func (s *Service) GateStatus(ctx context.Context, in IDInput) (*engine.GateStatus, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	return s.Engine.GateStatus(ctx, in.ID)
}

// GateUpdateInput is the input of debug_gate_update. Omitted fields are left
// unchanged.
type GateUpdateInput struct {
	ID               string         `json:"id" jsonschema:"incident id"`
	AddReproSteps    []string       `json:"add_repro_steps,omitempty" jsonschema:"repro steps to append"`
	FirstBadBoundary *string        `json:"first_bad_boundary,omitempty"`
	ActualCause      *string        `json:"actual_cause,omitempty"`
	Fix              *string        `json:"fix,omitempty"`
	Prevention       *string        `json:"prevention,omitempty"`
	Severity         store.Severity `json:"severity,omitempty"`
	AddRiskTags      []string       `json:"add_risk_tags,omitempty"`
}

// GateUpdate patches the investigation fields of an open gate.
func (s *Service) GateUpdate(ctx context.Context, in GateUpdateInput) (*engine.GateStatus, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	return s.Engine.UpdateGate(ctx, in.ID, engine.GatePatch{
		AddReproSteps:    in.AddReproSteps,
		FirstBadBoundary: in.FirstBadBoundary,
		ActualCause:      in.ActualCause,
		Fix:              in.Fix,
		Prevention:       in.Prevention,
		Severity:         in.Severity,
		AddRiskTags:      in.AddRiskTags,
	})
}

// GateLinkInput is the input of debug_gate_link_change.
type GateLinkInput struct {
	ID       string `json:"id" jsonschema:"incident id"`
	ChangeID string `json:"change_id" jsonschema:"recent_change id"`
}

// GateLinkChange links a change-ledger entry to an incident.
func (s *Service) GateLinkChange(ctx context.Context, in GateLinkInput) (*engine.GateStatus, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	if err := required("change_id", in.ChangeID); err != nil {
		return nil, err
	}
	return s.Engine.LinkChange(ctx, in.ID, in.ChangeID)
}

// GateClearInput is the input of debug_gate_clear.
type GateClearInput struct {
	ID   string `json:"id" jsonschema:"incident id"`
	Note string `json:"note" jsonschema:"why no recent change is related"`
}

// GateClear records that no related change exists.
func (s *Service) GateClear(ctx context.Context, in GateClearInput) (*engine.GateStatus, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	return s.Engine.ClearCausality(ctx, in.ID, in.Note)
}

// GateCompleteInput is the input of debug_gate_complete.
type GateCompleteInput struct {
	ID             string `json:"id" jsonschema:"incident id"`
	Override       bool   `json:"override,omitempty" jsonschema:"complete despite unmet passes"`
	OverrideReason string `json:"override_reason,omitempty" jsonschema:"required with override; audited"`
}

// GateComplete finishes a debug gate.
func (s *Service) GateComplete(ctx context.Context, in GateCompleteInput) (*engine.GateResult, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	return s.Engine.CompleteGate(ctx, in.ID, in.Override, in.OverrideReason)
}
