package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/duro/internal/metrics"
	"github.com/lazypower/duro/internal/store"
)

const maxCandidates = 10

// GateStatus reports the debug gate of one incident.
type GateStatus struct {
	IncidentID string          `json:"incident_id"`
	Phase      store.GatePhase `json:"phase"`
	State      store.GateState `json:"gate_state"`
	Unmet      []Pass          `json:"unmet"`
	// Ready is set when every pass is met and Complete will succeed.
	Ready         bool     `json:"ready"`
	RiskTags      []string `json:"risk_tags"`
	LinkedChanges []string `json:"linked_changes"`
	// Correlated lists the linked changes that satisfy the causality pass.
	Correlated []string `json:"correlated"`
	// Candidates are unlinked changes in the lookback window sharing a
	// risk tag. They do not satisfy the causality pass until linked.
	Candidates  []ChangeSummary `json:"candidates"`
	WindowStart time.Time       `json:"window_start"`
	Warnings    []string        `json:"warnings"`
}

// GateResult is returned by gate transitions that persist the incident.
type GateResult struct {
	Incident *store.Artifact `json:"incident"`
	Status   *GateStatus     `json:"status"`
}

// GateStart opens a debug gate. With IncidentID empty a new incident draft
// is created; otherwise the existing incident's gate is reset.
type GateStart struct {
	IncidentID       string            `json:"incident_id,omitempty"`
	Symptom          string            `json:"symptom"`
	Tags             []string          `json:"tags,omitempty"`
	Severity         store.Severity    `json:"severity,omitempty"`
	ReproSteps       []string          `json:"repro_steps,omitempty"`
	FirstBadBoundary string            `json:"first_bad_boundary,omitempty"`
	Sensitivity      store.Sensitivity `json:"sensitivity,omitempty"`
	Workflow         string            `json:"workflow,omitempty"`
}

// GatePatch updates the investigation fields of an open gate. Nil fields
// are left unchanged; repro steps and risk tags are appended.
type GatePatch struct {
	AddReproSteps    []string       `json:"add_repro_steps,omitempty"`
	FirstBadBoundary *string        `json:"first_bad_boundary,omitempty"`
	ActualCause      *string        `json:"actual_cause,omitempty"`
	Fix              *string        `json:"fix,omitempty"`
	Prevention       *string        `json:"prevention,omitempty"`
	Severity         store.Severity `json:"severity,omitempty"`
	AddRiskTags      []string       `json:"add_risk_tags,omitempty"`
}

func (e *Engine) loadIncident(id string) (*store.Artifact, *store.Incident, error) {
	a, err := e.DB.GetArtifact(id)
	if err != nil {
		return nil, nil, err
	}
	inc, ok := a.Incident()
	if !ok {
		return nil, nil, wrongType(id, store.TypeIncident)
	}
	return a, inc, nil
}

// evaluate computes the gate status of inc without persisting anything.
// gateStart anchors the lookback window.
func (e *Engine) evaluate(id string, inc *store.Incident, gateStart, now time.Time) (*GateStatus, error) {
	st := &GateStatus{
		IncidentID:    id,
		RiskTags:      append([]string{}, inc.RiskTags...),
		LinkedChanges: append([]string{}, inc.LinkedChanges...),
		Unmet:         []Pass{},
		Correlated:    []string{},
		Candidates:    []ChangeSummary{},
		Warnings:      []string{},
		WindowStart:   gateStart.Add(-e.Gate.Lookback),
	}

	minSteps := e.Gate.MinReproSteps
	if minSteps < 1 {
		minSteps = 2
	}
	st.State.ReproOK = len(inc.ReproSteps) >= minSteps
	st.State.BoundaryOK = strings.TrimSpace(inc.FirstBadBoundary) != ""

	linked := map[string]bool{}
	for _, cid := range inc.LinkedChanges {
		linked[cid] = true
		ca, err := e.DB.GetArtifact(cid)
		if errors.Is(err, store.ErrNotFound) {
			st.Warnings = append(st.Warnings, fmt.Sprintf("linked change %s no longer exists", cid))
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, ok := ca.RecentChange(); !ok {
			continue
		}
		if ca.CreatedAt.Before(st.WindowStart) || ca.CreatedAt.After(now) {
			st.Warnings = append(st.Warnings, fmt.Sprintf("linked change %s is outside the lookback window", cid))
			continue
		}
		if len(inc.RiskTags) > 0 && !sharesTag(inc.RiskTags, changeRiskTags(ca)) {
			st.Warnings = append(st.Warnings, fmt.Sprintf("linked change %s shares no risk tag with the incident", cid))
			continue
		}
		st.Correlated = append(st.Correlated, cid)
	}
	st.State.CausalityOK = inc.CausalityCleared || len(st.Correlated) > 0

	if !st.State.CausalityOK {
		candidates, err := e.changesBetween(st.WindowStart, now, ChangeQuery{RiskTags: inc.RiskTags})
		if err != nil {
			return nil, err
		}
		for _, ca := range candidates {
			if linked[ca.ID] {
				continue
			}
			st.Candidates = append(st.Candidates, summarize(ca))
			if len(st.Candidates) >= maxCandidates {
				break
			}
		}
	}

	if !st.State.ReproOK {
		st.Unmet = append(st.Unmet, PassRepro)
	}
	if !st.State.BoundaryOK {
		st.Unmet = append(st.Unmet, PassBoundary)
	}
	if !st.State.CausalityOK {
		st.Unmet = append(st.Unmet, PassCausality)
	}
	if strings.TrimSpace(inc.Prevention) == "" {
		st.Warnings = append(st.Warnings, "prevention not recorded")
	}

	switch {
	case inc.GatePhase.Terminal():
		st.Phase = inc.GatePhase
	case !st.State.ReproOK:
		st.Phase = store.PhaseReproPending
	case !st.State.BoundaryOK:
		st.Phase = store.PhaseBoundaryPending
	default:
		st.Phase = store.PhaseCausalityPending
	}
	st.Ready = len(st.Unmet) == 0 && !inc.GatePhase.Terminal()
	return st, nil
}

func gateStart(a *store.Artifact, inc *store.Incident) time.Time {
	if inc.GateStartedAt != nil {
		return *inc.GateStartedAt
	}
	return a.CreatedAt
}

// StartGate opens the debug gate for a new or existing incident.
func (e *Engine) StartGate(ctx context.Context, in GateStart) (*GateStatus, error) {
	now := e.now()
	if in.IncidentID == "" {
		inc := &store.Incident{
			Symptom:          in.Symptom,
			Severity:         in.Severity,
			ReproSteps:       in.ReproSteps,
			FirstBadBoundary: strings.TrimSpace(in.FirstBadBoundary),
			RiskTags:         InferRiskTags(in.Symptom, in.Tags),
			Draft:            true,
			GateStartedAt:    &now,
		}
		st, err := e.evaluate("", inc, now, now)
		if err != nil {
			return nil, err
		}
		inc.GateState = st.State
		inc.GatePhase = st.Phase
		a := &store.Artifact{Tags: in.Tags, Sensitivity: in.Sensitivity, Workflow: in.Workflow, Content: inc}
		if err := e.DB.CreateArtifact(a); err != nil {
			return nil, err
		}
		st.IncidentID = a.ID
		e.log.Info("debug gate started", "id", a.ID, "phase", st.Phase, "risk_tags", inc.RiskTags)
		return st, nil
	}

	unlock := e.locks.Lock(in.IncidentID)
	defer unlock()

	a, inc, err := e.loadIncident(in.IncidentID)
	if err != nil {
		return nil, err
	}
	if inc.GatePhase.Terminal() {
		return nil, fmt.Errorf("%w: incident %s gate is %s", ErrTerminalState, a.ID, inc.GatePhase)
	}
	if s := strings.TrimSpace(in.Symptom); s != "" {
		inc.Symptom = s
	}
	inc.RiskTags = mergeTags(inc.RiskTags, InferRiskTags(inc.Symptom, append(append([]string{}, a.Tags...), in.Tags...)))
	inc.GateState = store.GateState{}
	inc.GateStartedAt = &now
	inc.Draft = true
	a.Tags = mergeTags(a.Tags, in.Tags)
	return e.persistGate(a, inc, "gate_start")
}

// persistGate re-evaluates inc, stores the derived state and returns it.
// The caller holds the incident lock.
func (e *Engine) persistGate(a *store.Artifact, inc *store.Incident, op string) (*GateStatus, error) {
	st, err := e.evaluate(a.ID, inc, gateStart(a, inc), e.now())
	if err != nil {
		return nil, err
	}
	inc.GateState = st.State
	inc.GatePhase = st.Phase
	if err := e.DB.UpdateArtifact(a, op); err != nil {
		return nil, err
	}
	return st, nil
}

// GateStatus reports which passes of an incident's gate remain.
func (e *Engine) GateStatus(ctx context.Context, id string) (*GateStatus, error) {
	a, inc, err := e.loadIncident(id)
	if err != nil {
		return nil, err
	}
	return e.evaluate(a.ID, inc, gateStart(a, inc), e.now())
}

// mutateGate loads an open gate under its lock, applies fn and persists the
// re-evaluated state.
func (e *Engine) mutateGate(id, op string, fn func(a *store.Artifact, inc *store.Incident) error) (*GateStatus, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	a, inc, err := e.loadIncident(id)
	if err != nil {
		return nil, err
	}
	if inc.GatePhase.Terminal() {
		return nil, fmt.Errorf("%w: incident %s gate is %s", ErrTerminalState, id, inc.GatePhase)
	}
	if err := fn(a, inc); err != nil {
		return nil, err
	}
	return e.persistGate(a, inc, op)
}

// UpdateGate patches the investigation fields of an open gate.
func (e *Engine) UpdateGate(ctx context.Context, id string, p GatePatch) (*GateStatus, error) {
	return e.mutateGate(id, "gate_update", func(a *store.Artifact, inc *store.Incident) error {
		for _, s := range p.AddReproSteps {
			if s = strings.TrimSpace(s); s != "" {
				inc.ReproSteps = append(inc.ReproSteps, s)
			}
		}
		if p.FirstBadBoundary != nil {
			inc.FirstBadBoundary = strings.TrimSpace(*p.FirstBadBoundary)
		}
		if p.ActualCause != nil {
			inc.ActualCause = strings.TrimSpace(*p.ActualCause)
		}
		if p.Fix != nil {
			inc.Fix = strings.TrimSpace(*p.Fix)
		}
		if p.Prevention != nil {
			inc.Prevention = strings.TrimSpace(*p.Prevention)
		}
		if p.Severity != "" {
			inc.Severity = p.Severity
		}
		inc.RiskTags = mergeTags(inc.RiskTags, p.AddRiskTags)
		return nil
	})
}

// LinkChange attaches a change-ledger entry to an open gate.
func (e *Engine) LinkChange(ctx context.Context, incidentID, changeID string) (*GateStatus, error) {
	return e.mutateGate(incidentID, "gate_link_change", func(a *store.Artifact, inc *store.Incident) error {
		ca, err := e.DB.GetArtifact(changeID)
		if err != nil {
			return err
		}
		if _, ok := ca.RecentChange(); !ok {
			return wrongType(changeID, store.TypeRecentChange)
		}
		for _, id := range inc.LinkedChanges {
			if id == changeID {
				return nil
			}
		}
		inc.LinkedChanges = append(inc.LinkedChanges, changeID)
		return nil
	})
}

// ClearCausality records that no related change exists, satisfying the
// causality pass.
func (e *Engine) ClearCausality(ctx context.Context, id, note string) (*GateStatus, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, &store.ValidationError{Field: "note", Reason: "required"}
	}
	return e.mutateGate(id, "gate_clear", func(a *store.Artifact, inc *store.Incident) error {
		inc.CausalityCleared = true
		inc.ClearedNote = note
		return nil
	})
}

// CompleteGate closes an incident's gate. Unmet passes fail with
// *GateIncompleteError unless override is set with a reason. An override is
// audited once the incident is persisted; if the audit fails the incident is
// restored and the gate stays open.
func (e *Engine) CompleteGate(ctx context.Context, id string, override bool, reason string) (*GateResult, error) {
	reason = strings.TrimSpace(reason)
	if override && reason == "" {
		return nil, &store.ValidationError{Field: "override_reason", Reason: "required when override is set"}
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	a, inc, err := e.loadIncident(id)
	if err != nil {
		return nil, err
	}
	if inc.GatePhase.Terminal() {
		return nil, fmt.Errorf("%w: incident %s gate is %s", ErrTerminalState, id, inc.GatePhase)
	}

	now := e.now()
	st, err := e.evaluate(a.ID, inc, gateStart(a, inc), now)
	if err != nil {
		return nil, err
	}
	if len(st.Unmet) > 0 && !override {
		return nil, &GateIncompleteError{IncidentID: id, Unmet: st.Unmet}
	}

	prev := *inc
	overridden := override && len(st.Unmet) > 0
	inc.Draft = false
	finish(inc, st, overridden, reason, now)
	if err := inc.Validate(); err != nil {
		return nil, err
	}
	if err := e.DB.UpdateArtifact(a, "gate_complete"); err != nil {
		return nil, err
	}
	if overridden {
		if err := e.recordOverride(ctx, a.ID, reason); err != nil {
			*inc = prev
			if rerr := e.DB.UpdateArtifact(a, "gate_override_rollback"); rerr != nil {
				e.log.Error("reopen gate after audit failure", "id", a.ID, "err", rerr)
			}
			return nil, err
		}
	}
	gateCompleted(overridden)
	e.log.Info("debug gate completed", "id", id, "phase", inc.GatePhase)
	return &GateResult{Incident: a, Status: st}, nil
}

// StoreIncident stores a finished incident through the debug gate. The gate
// is evaluated on the supplied content; unmet passes fail with
// *GateIncompleteError unless override is set with a reason.
func (e *Engine) StoreIncident(ctx context.Context, a *store.Artifact, override bool, reason string) (*GateResult, error) {
	inc, ok := a.Content.(*store.Incident)
	if !ok {
		return nil, &store.ValidationError{Field: "content", Reason: "incident content required"}
	}
	reason = strings.TrimSpace(reason)
	if override && reason == "" {
		return nil, &store.ValidationError{Field: "override_reason", Reason: "required when override is set"}
	}

	now := e.now()
	inc.Draft = false
	inc.GatePhase = store.PhaseNotStarted
	inc.GateStartedAt = &now
	if inc.Severity == "" {
		inc.Severity = store.SeverityMedium
	}
	inc.RiskTags = mergeTags(inc.RiskTags, InferRiskTags(inc.Symptom, a.Tags))
	if err := inc.Validate(); err != nil {
		return nil, err
	}
	st, err := e.evaluate("", inc, now, now)
	if err != nil {
		return nil, err
	}
	if len(st.Unmet) > 0 && !override {
		return nil, &GateIncompleteError{Unmet: st.Unmet}
	}

	overridden := override && len(st.Unmet) > 0
	finish(inc, st, overridden, reason, now)
	if err := e.DB.CreateArtifact(a); err != nil {
		return nil, err
	}
	st.IncidentID = a.ID

	if overridden {
		if err := e.recordOverride(ctx, a.ID, reason); err != nil {
			if derr := e.DB.DeleteArtifact(a.ID, "gate override audit failed", true); derr != nil {
				e.log.Error("rollback incident after audit failure", "id", a.ID, "err", derr)
			}
			return nil, err
		}
	}
	gateCompleted(overridden)
	return &GateResult{Incident: a, Status: st}, nil
}

// finish marks inc complete or overridden. It does not persist or audit.
func finish(inc *store.Incident, st *GateStatus, overridden bool, reason string, now time.Time) {
	if overridden {
		inc.Override = true
		inc.OverrideReason = reason
		inc.GatePhase = store.PhaseOverridden
	} else {
		inc.GatePhase = store.PhaseComplete
	}
	inc.GateState = st.State
	inc.CompletedAt = &now
	st.Phase = inc.GatePhase
	st.Ready = false
}

func gateCompleted(overridden bool) {
	if overridden {
		metrics.GateCompletion("override")
		return
	}
	metrics.GateCompletion("passed")
}

func (e *Engine) recordOverride(ctx context.Context, id, reason string) error {
	if e.Overrides == nil {
		return fmt.Errorf("gate override for %s: no audit recorder configured", id)
	}
	if err := e.Overrides.RecordGateOverride(ctx, id, reason); err != nil {
		return fmt.Errorf("audit gate override for %s: %w", id, err)
	}
	e.log.Warn("debug gate overridden", "id", id, "reason", reason)
	return nil
}

func mergeTags(base, extra []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range append(append([]string{}, base...), extra...) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
