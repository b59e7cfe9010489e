package store

import (
	"fmt"
	"strings"
	"time"
)

// HighConfidence is the confidence at which a fact must carry sourcing.
const HighConfidence = 0.8

type EvidenceType string

const (
	EvidenceQuote      EvidenceType = "quote"
	EvidenceParaphrase EvidenceType = "paraphrase"
	EvidenceInference  EvidenceType = "inference"
	EvidenceNone       EvidenceType = "none"
)

type Provenance string

const (
	ProvenanceWeb        Provenance = "web"
	ProvenanceLocalFile  Provenance = "local_file"
	ProvenanceUser       Provenance = "user"
	ProvenanceToolOutput Provenance = "tool_output"
	ProvenanceUnknown    Provenance = "unknown"
)

// Fact is a stored claim with a decaying confidence score.
type Fact struct {
	Claim              string       `json:"claim"`
	Confidence         float64      `json:"confidence"`
	SourceURLs         []string     `json:"source_urls,omitempty"`
	EvidenceType       EvidenceType `json:"evidence_type,omitempty"`
	Provenance         Provenance   `json:"provenance"`
	Importance         float64      `json:"importance"`
	ReinforcedAt       time.Time    `json:"reinforced_at"`
	ReinforcementCount int          `json:"reinforcement_count"`
	// DecayBase is the confidence the decay curve starts from at
	// ReinforcedAt. It makes decayed confidence a pure function of time.
	DecayBase       float64    `json:"decay_base"`
	Pinned          bool       `json:"pinned,omitempty"`
	SupersededBy    string     `json:"superseded_by,omitempty"`
	SupersedeReason string     `json:"supersede_reason,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
}

// NewFact returns a fact with the default confidence and importance.
func NewFact(claim string) *Fact {
	return &Fact{Claim: claim, Confidence: 0.5, Importance: 0.5, Provenance: ProvenanceUnknown}
}

func (f *Fact) ArtifactType() Type { return TypeFact }

func (f *Fact) prepare(now time.Time) {
	f.Claim = strings.TrimSpace(f.Claim)
	f.SourceURLs = nonEmpty(f.SourceURLs)
	if f.Provenance == "" {
		f.Provenance = ProvenanceUnknown
	}
	f.Confidence = ClampConfidence(f.Confidence)
	f.Importance = ClampConfidence(f.Importance)
	f.ReinforcedAt = now
	f.ReinforcementCount = 0
	f.DecayBase = f.Confidence
	f.SupersededBy = ""
	f.ValidUntil = nil
}

func (f *Fact) Validate() error {
	if strings.TrimSpace(f.Claim) == "" {
		return invalid("claim", "required")
	}
	if err := checkConfidence("confidence", f.Confidence); err != nil {
		return err
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return invalid("confidence", "must be within [0,1]")
	}
	switch f.EvidenceType {
	case "", EvidenceQuote, EvidenceParaphrase, EvidenceInference, EvidenceNone:
	default:
		return invalid("evidence_type", fmt.Sprintf("unknown value %q", f.EvidenceType))
	}
	switch f.Provenance {
	case ProvenanceWeb, ProvenanceLocalFile, ProvenanceUser, ProvenanceToolOutput, ProvenanceUnknown:
	default:
		return invalid("provenance", fmt.Sprintf("unknown value %q", f.Provenance))
	}
	if f.Confidence >= HighConfidence {
		if len(nonEmpty(f.SourceURLs)) == 0 {
			return &ValidationError{Field: "source_urls", Reason: fmt.Sprintf("required when confidence >= %.1f", HighConfidence), gate: true}
		}
		if f.EvidenceType == "" || f.EvidenceType == EvidenceNone {
			return &ValidationError{Field: "evidence_type", Reason: fmt.Sprintf("required when confidence >= %.1f", HighConfidence), gate: true}
		}
	}
	return nil
}

type DecisionStatus string

const (
	StatusPending    DecisionStatus = "pending"
	StatusValidated  DecisionStatus = "validated"
	StatusReversed   DecisionStatus = "reversed"
	StatusSuperseded DecisionStatus = "superseded"
)

type OutcomeResult string

const (
	ResultSuccess OutcomeResult = "success"
	ResultPartial OutcomeResult = "partial"
	ResultFailed  OutcomeResult = "failed"
)

func (r OutcomeResult) valid() bool {
	return r == "" || r == ResultSuccess || r == ResultPartial || r == ResultFailed
}

// ValidationEvent is one immutable entry in a decision's validation history.
type ValidationEvent struct {
	Timestamp       time.Time      `json:"timestamp"`
	Status          DecisionStatus `json:"status"`
	Result          OutcomeResult  `json:"result,omitempty"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty"`
	ActualOutcome   string         `json:"actual_outcome,omitempty"`
	ConfidenceDelta float64        `json:"confidence_delta"`
	Notes           string         `json:"notes,omitempty"`
	Revision        int            `json:"revision"`
}

type Decision struct {
	Decision          string            `json:"decision"`
	Rationale         string            `json:"rationale"`
	Alternatives      []string          `json:"alternatives,omitempty"`
	Context           string            `json:"context,omitempty"`
	Reversible        bool              `json:"reversible"`
	Status            DecisionStatus    `json:"status"`
	Confidence        float64           `json:"confidence"`
	Archived          bool              `json:"archived,omitempty"`
	SupersededBy      string            `json:"superseded_by,omitempty"`
	ValidationHistory []ValidationEvent `json:"validation_history"`
}

// NewDecision returns a reversible pending decision at default confidence.
func NewDecision(decision, rationale string) *Decision {
	return &Decision{Decision: decision, Rationale: rationale, Reversible: true, Confidence: 0.5, Status: StatusPending}
}

func (d *Decision) ArtifactType() Type { return TypeDecision }

func (d *Decision) prepare(time.Time) {
	d.Decision = strings.TrimSpace(d.Decision)
	d.Rationale = strings.TrimSpace(d.Rationale)
	d.Status = StatusPending
	d.Confidence = ClampConfidence(d.Confidence)
	d.Archived = false
	d.ValidationHistory = []ValidationEvent{}
}

func (d *Decision) Validate() error {
	if strings.TrimSpace(d.Decision) == "" {
		return invalid("decision", "required")
	}
	if strings.TrimSpace(d.Rationale) == "" {
		return invalid("rationale", "required")
	}
	switch d.Status {
	case StatusPending, StatusValidated, StatusReversed, StatusSuperseded:
	default:
		return invalid("status", fmt.Sprintf("unknown value %q", d.Status))
	}
	if err := checkConfidence("confidence", d.Confidence); err != nil {
		return err
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return invalid("confidence", "must be within [0,1]")
	}
	for i, ev := range d.ValidationHistory {
		if !ev.Result.valid() {
			return invalid(fmt.Sprintf("validation_history[%d].result", i), fmt.Sprintf("unknown value %q", ev.Result))
		}
	}
	return nil
}

// Episode records a completed unit of work and how it went.
type Episode struct {
	Goal    string        `json:"goal"`
	Actions []string      `json:"actions,omitempty"`
	Result  string        `json:"result,omitempty"`
	Outcome OutcomeResult `json:"outcome,omitempty"`
}

func (e *Episode) ArtifactType() Type { return TypeEpisode }

func (e *Episode) prepare(time.Time) {
	e.Goal = strings.TrimSpace(e.Goal)
	e.Actions = nonEmpty(e.Actions)
}

func (e *Episode) Validate() error {
	if strings.TrimSpace(e.Goal) == "" {
		return invalid("goal", "required")
	}
	if !e.Outcome.valid() {
		return invalid("outcome", fmt.Sprintf("unknown value %q", e.Outcome))
	}
	return nil
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// GateState holds the three debug gate passes.
type GateState struct {
	ReproOK     bool `json:"repro_ok"`
	BoundaryOK  bool `json:"boundary_ok"`
	CausalityOK bool `json:"causality_ok"`
}

type GatePhase string

const (
	PhaseNotStarted       GatePhase = "not_started"
	PhaseReproPending     GatePhase = "repro_pending"
	PhaseBoundaryPending  GatePhase = "boundary_pending"
	PhaseCausalityPending GatePhase = "causality_pending"
	PhaseComplete         GatePhase = "complete"
	PhaseOverridden       GatePhase = "overridden"
)

// Terminal reports whether the gate accepts no further transitions.
func (p GatePhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseOverridden
}

// Incident is a root-cause record bound to a debug gate. Drafts skip the
// actual_cause/fix requirement until completion.
type Incident struct {
	Symptom          string     `json:"symptom"`
	ActualCause      string     `json:"actual_cause,omitempty"`
	Fix              string     `json:"fix,omitempty"`
	Prevention       string     `json:"prevention,omitempty"`
	ReproSteps       []string   `json:"repro_steps,omitempty"`
	FirstBadBoundary string     `json:"first_bad_boundary,omitempty"`
	Severity         Severity   `json:"severity"`
	GateState        GateState  `json:"gate_state"`
	GatePhase        GatePhase  `json:"gate_phase"`
	GateStartedAt    *time.Time `json:"gate_started_at,omitempty"`
	RiskTags         []string   `json:"risk_tags,omitempty"`
	LinkedChanges    []string   `json:"linked_changes,omitempty"`
	CausalityCleared bool       `json:"causality_cleared,omitempty"`
	ClearedNote      string     `json:"cleared_note,omitempty"`
	Draft            bool       `json:"draft,omitempty"`
	Override         bool       `json:"override,omitempty"`
	OverrideReason   string     `json:"override_reason,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func (i *Incident) ArtifactType() Type { return TypeIncident }

func (i *Incident) prepare(now time.Time) {
	i.Symptom = strings.TrimSpace(i.Symptom)
	i.ReproSteps = nonEmpty(i.ReproSteps)
	i.RiskTags = normalizeTags(i.RiskTags)
	if i.Severity == "" {
		i.Severity = SeverityMedium
	}
	if i.GatePhase == "" {
		i.GatePhase = PhaseNotStarted
	}
	if i.GateStartedAt == nil {
		i.GateStartedAt = &now
	}
}

func (i *Incident) Validate() error {
	if strings.TrimSpace(i.Symptom) == "" {
		return invalid("symptom", "required")
	}
	switch i.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return invalid("severity", fmt.Sprintf("unknown value %q", i.Severity))
	}
	switch i.GatePhase {
	case PhaseNotStarted, PhaseReproPending, PhaseBoundaryPending, PhaseCausalityPending, PhaseComplete, PhaseOverridden:
	default:
		return invalid("gate_phase", fmt.Sprintf("unknown value %q", i.GatePhase))
	}
	if i.Override && strings.TrimSpace(i.OverrideReason) == "" {
		return invalid("override_reason", "required when override is set")
	}
	if i.Draft {
		return nil
	}
	if strings.TrimSpace(i.ActualCause) == "" {
		return invalid("actual_cause", "required")
	}
	if strings.TrimSpace(i.Fix) == "" {
		return invalid("fix", "required")
	}
	return nil
}

// RecentChange is a change-ledger entry used to correlate incidents.
type RecentChange struct {
	Scope       string   `json:"scope"`
	Change      string   `json:"change"`
	Why         string   `json:"why,omitempty"`
	RiskTags    []string `json:"risk_tags,omitempty"`
	QuickChecks []string `json:"quick_checks,omitempty"`
	CommitHash  string   `json:"commit_hash,omitempty"`
}

func (c *RecentChange) ArtifactType() Type { return TypeRecentChange }

func (c *RecentChange) prepare(time.Time) {
	c.Scope = strings.TrimSpace(c.Scope)
	c.Change = strings.TrimSpace(c.Change)
	c.RiskTags = normalizeTags(c.RiskTags)
	c.QuickChecks = nonEmpty(c.QuickChecks)
}

func (c *RecentChange) Validate() error {
	if strings.TrimSpace(c.Scope) == "" {
		return invalid("scope", "required")
	}
	if strings.TrimSpace(c.Change) == "" {
		return invalid("change", "required")
	}
	return nil
}
