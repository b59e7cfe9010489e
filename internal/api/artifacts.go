package api

import (
	"context"
	"strings"

	"github.com/lazypower/duro/internal/engine"
	"github.com/lazypower/duro/internal/store"
)

// StoreFactInput is the input of store_fact.
type StoreFactInput struct {
	Claim        string             `json:"claim" jsonschema:"the claim being recorded"`
	Confidence   *float64           `json:"confidence,omitempty" jsonschema:"confidence in [0,1], default 0.5; above 0.8 requires source_urls and evidence_type"`
	Importance   *float64           `json:"importance,omitempty" jsonschema:"importance in [0,1], default 0.5"`
	SourceURLs   []string           `json:"source_urls,omitempty" jsonschema:"sources backing the claim"`
	EvidenceType store.EvidenceType `json:"evidence_type,omitempty" jsonschema:"quote, paraphrase, inference or none"`
	Provenance   store.Provenance   `json:"provenance,omitempty" jsonschema:"web, local_file, user, tool_output or unknown"`
	Pinned       bool               `json:"pinned,omitempty" jsonschema:"exempt the fact from decay"`
	ValidUntil   string             `json:"valid_until,omitempty" jsonschema:"must be empty; set only when the fact is superseded"`
	Tags         []string           `json:"tags,omitempty"`
	Sensitivity  store.Sensitivity  `json:"sensitivity,omitempty" jsonschema:"public, internal or sensitive; default internal"`
	Workflow     string             `json:"workflow,omitempty"`
}

// StoreFact stores a fact.
func (s *Service) StoreFact(ctx context.Context, in StoreFactInput) (*store.Artifact, error) {
	f := store.NewFact(in.Claim)
	if in.Confidence != nil {
		f.Confidence = *in.Confidence
	}
	if in.Importance != nil {
		f.Importance = *in.Importance
	}
	f.SourceURLs = in.SourceURLs
	f.EvidenceType = in.EvidenceType
	if in.Provenance != "" {
		f.Provenance = in.Provenance
	}
	f.Pinned = in.Pinned
	if strings.TrimSpace(in.ValidUntil) != "" {
		return nil, &store.ValidationError{Field: "valid_until", Reason: "set only when the fact is superseded"}
	}
	a := envelope{in.Tags, in.Sensitivity, in.Workflow}.artifact(f)
	if err := s.DB.CreateArtifact(a); err != nil {
		return nil, err
	}
	return a, nil
}

// StoreDecisionInput is the input of store_decision.
type StoreDecisionInput struct {
	Decision     string            `json:"decision" jsonschema:"what was decided"`
	Rationale    string            `json:"rationale" jsonschema:"why it was decided"`
	Alternatives []string          `json:"alternatives,omitempty" jsonschema:"options that were considered and rejected"`
	Context      string            `json:"context,omitempty"`
	Reversible   *bool             `json:"reversible,omitempty" jsonschema:"default true"`
	Confidence   *float64          `json:"confidence,omitempty" jsonschema:"initial confidence in [0,1], default 0.5"`
	Tags         []string          `json:"tags,omitempty"`
	Sensitivity  store.Sensitivity `json:"sensitivity,omitempty"`
	Workflow     string            `json:"workflow,omitempty"`
}

// StoreDecision stores a pending decision.
func (s *Service) StoreDecision(ctx context.Context, in StoreDecisionInput) (*store.Artifact, error) {
	d := store.NewDecision(in.Decision, in.Rationale)
	d.Alternatives = in.Alternatives
	d.Context = in.Context
	if in.Reversible != nil {
		d.Reversible = *in.Reversible
	}
	if in.Confidence != nil {
		d.Confidence = *in.Confidence
	}
	a := envelope{in.Tags, in.Sensitivity, in.Workflow}.artifact(d)
	if err := s.DB.CreateArtifact(a); err != nil {
		return nil, err
	}
	return a, nil
}

// StoreEpisodeInput is the input of store_episode.
type StoreEpisodeInput struct {
	Goal        string              `json:"goal" jsonschema:"what the episode set out to do"`
	Actions     []string            `json:"actions,omitempty" jsonschema:"ordered actions taken"`
	Result      string              `json:"result,omitempty"`
	Outcome     store.OutcomeResult `json:"outcome,omitempty" jsonschema:"success, partial or failed"`
	Tags        []string            `json:"tags,omitempty"`
	Sensitivity store.Sensitivity   `json:"sensitivity,omitempty"`
	Workflow    string              `json:"workflow,omitempty"`
}

// StoreEpisode stores an episode.
func (s *Service) StoreEpisode(ctx context.Context, in StoreEpisodeInput) (*store.Artifact, error) {
	a := envelope{in.Tags, in.Sensitivity, in.Workflow}.artifact(&store.Episode{
		Goal:    in.Goal,
		Actions: in.Actions,
		Result:  in.Result,
		Outcome: in.Outcome,
	})
	if err := s.DB.CreateArtifact(a); err != nil {
		return nil, err
	}
	return a, nil
}

// StoreChangeInput is the input of store_change.
type StoreChangeInput struct {
	Scope       string            `json:"scope" jsonschema:"what the change touched: a path, service or component"`
	Change      string            `json:"change" jsonschema:"what changed"`
	Why         string            `json:"why,omitempty"`
	RiskTags    []string          `json:"risk_tags,omitempty" jsonschema:"risk tags; inferred from the text when omitted"`
	QuickChecks []string          `json:"quick_checks,omitempty" jsonschema:"checks that verify the change"`
	CommitHash  string            `json:"commit_hash,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Sensitivity store.Sensitivity `json:"sensitivity,omitempty"`
	Workflow    string            `json:"workflow,omitempty"`
}

// StoreChange appends an entry to the change ledger.
func (s *Service) StoreChange(ctx context.Context, in StoreChangeInput) (*store.Artifact, error) {
	risk := in.RiskTags
	if len(risk) == 0 {
		risk = engine.InferRiskTags(strings.Join([]string{in.Scope, in.Change, in.Why}, " "), in.Tags)
	}
	a := envelope{in.Tags, in.Sensitivity, in.Workflow}.artifact(&store.RecentChange{
		Scope:       in.Scope,
		Change:      in.Change,
		Why:         in.Why,
		RiskTags:    risk,
		QuickChecks: in.QuickChecks,
		CommitHash:  in.CommitHash,
	})
	if err := s.DB.CreateArtifact(a); err != nil {
		return nil, err
	}
	return a, nil
}

// StoreIncidentInput is the input of store_incident.
type StoreIncidentInput struct {
	Symptom          string            `json:"symptom" jsonschema:"what was observed"`
	ActualCause      string            `json:"actual_cause" jsonschema:"the confirmed root cause"`
	Fix              string            `json:"fix" jsonschema:"what fixed it"`
	Prevention       string            `json:"prevention,omitempty"`
	ReproSteps       []string          `json:"repro_steps,omitempty" jsonschema:"steps that reproduce the symptom"`
	FirstBadBoundary string            `json:"first_bad_boundary,omitempty" jsonschema:"the first boundary where state was wrong"`
	Severity         store.Severity    `json:"severity,omitempty" jsonschema:"low, medium, high or critical; default medium"`
	RiskTags         []string          `json:"risk_tags,omitempty"`
	LinkedChanges    []string          `json:"linked_changes,omitempty" jsonschema:"recent_change ids correlated with the incident"`
	CausalityCleared bool              `json:"causality_cleared,omitempty" jsonschema:"no related change exists"`
	ClearedNote      string            `json:"cleared_note,omitempty"`
	Override         bool              `json:"override,omitempty" jsonschema:"store despite unmet gate passes"`
	OverrideReason   string            `json:"override_reason,omitempty" jsonschema:"required with override"`
	Tags             []string          `json:"tags,omitempty"`
	Sensitivity      store.Sensitivity `json:"sensitivity,omitempty"`
	Workflow         string            `json:"workflow,omitempty"`
}

// StoreIncident stores a finished incident through the debug gate.
func (s *Service) StoreIncident(ctx context.Context, in StoreIncidentInput) (*engine.GateResult, error) {
	a := envelope{in.Tags, in.Sensitivity, in.Workflow}.artifact(&store.Incident{
		Symptom:          in.Symptom,
		ActualCause:      in.ActualCause,
		Fix:              in.Fix,
		Prevention:       in.Prevention,
		ReproSteps:       in.ReproSteps,
		FirstBadBoundary: in.FirstBadBoundary,
		Severity:         in.Severity,
		RiskTags:         in.RiskTags,
		LinkedChanges:    in.LinkedChanges,
		CausalityCleared: in.CausalityCleared,
		ClearedNote:      in.ClearedNote,
	})
	return s.Engine.StoreIncident(ctx, a, in.Override, in.OverrideReason)
}

// IDInput names one artifact.
type IDInput struct {
	ID string `json:"id" jsonschema:"artifact id"`
}

// GetArtifact returns a live artifact.
func (s *Service) GetArtifact(ctx context.Context, in IDInput) (*store.Artifact, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	return s.DB.GetArtifact(in.ID)
}

// ListArtifactsInput is the input of list_artifacts.
type ListArtifactsInput struct {
	Type           store.Type        `json:"type,omitempty" jsonschema:"fact, decision, incident, recent_change or episode"`
	Tags           []string          `json:"tags,omitempty" jsonschema:"match artifacts carrying any of these tags"`
	Sensitivity    store.Sensitivity `json:"sensitivity,omitempty"`
	Workflow       string            `json:"workflow,omitempty"`
	Since          string            `json:"since,omitempty" jsonschema:"RFC 3339 lower bound on creation time"`
	Until          string            `json:"until,omitempty" jsonschema:"RFC 3339 upper bound on creation time"`
	Text           string            `json:"text,omitempty" jsonschema:"substring of the content"`
	IncludeDeleted bool              `json:"include_deleted,omitempty"`
	Limit          int               `json:"limit,omitempty"`
}

// ListArtifacts queries artifacts, newest first.
func (s *Service) ListArtifacts(ctx context.Context, in ListArtifactsInput) ([]*store.Artifact, error) {
	if in.Type != "" && !in.Type.Valid() {
		return nil, &store.ValidationError{Field: "type", Reason: "unknown artifact type " + string(in.Type)}
	}
	since, err := parseTime("since", in.Since)
	if err != nil {
		return nil, err
	}
	until, err := parseTime("until", in.Until)
	if err != nil {
		return nil, err
	}
	out, err := s.DB.QueryArtifacts(store.Filter{
		Type:           in.Type,
		Tags:           in.Tags,
		Sensitivity:    in.Sensitivity,
		Workflow:       in.Workflow,
		Since:          since,
		Until:          until,
		Text:           in.Text,
		IncludeDeleted: in.IncludeDeleted,
		Limit:          in.Limit,
	})
	if out == nil {
		out = []*store.Artifact{}
	}
	return out, err
}

// DeleteArtifactInput is the input of delete_artifact.
type DeleteArtifactInput struct {
	ID     string `json:"id"`
	Reason string `json:"reason" jsonschema:"why the artifact is deleted"`
	Force  bool   `json:"force,omitempty" jsonschema:"required to delete sensitive artifacts"`
}

// DeleteResult acknowledges a deletion.
type DeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// DeleteArtifact soft-deletes an artifact.
func (s *Service) DeleteArtifact(ctx context.Context, in DeleteArtifactInput) (*DeleteResult, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	if err := s.DB.DeleteArtifact(in.ID, in.Reason, in.Force); err != nil {
		return nil, err
	}
	return &DeleteResult{ID: in.ID, Deleted: true}, nil
}

// Revisions returns the mutation log of an artifact, oldest first.
func (s *Service) Revisions(ctx context.Context, in IDInput) ([]store.Revision, error) {
	if err := required("id", in.ID); err != nil {
		return nil, err
	}
	return s.DB.Revisions(in.ID)
}
