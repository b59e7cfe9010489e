package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/duro/internal/store"
)

// Confidence deltas applied by RecordOutcome when no explicit delta is given.
const (
	deltaValidatedSuccess = 0.15
	deltaValidatedPartial = 0.075
	deltaValidatedNone    = 0.10
	deltaReversedFailed   = -0.25
	deltaReversedOther    = -0.20
)

// OutcomeInput is one record_outcome call on a decision.
type OutcomeInput struct {
	Status          store.DecisionStatus `json:"status"`
	Result          store.OutcomeResult  `json:"result,omitempty"`
	ExpectedOutcome string               `json:"expected_outcome,omitempty"`
	ActualOutcome   string               `json:"actual_outcome,omitempty"`
	Notes           string               `json:"notes,omitempty"`
	// ExplicitDelta replaces the policy delta when set.
	ExplicitDelta *float64 `json:"explicit_delta,omitempty"`
	// SupersededBy optionally names the successor of a superseded decision.
	SupersededBy string `json:"superseded_by,omitempty"`
}

// ConfidenceDelta returns the policy confidence change for an outcome.
func ConfidenceDelta(status store.DecisionStatus, result store.OutcomeResult) float64 {
	switch status {
	case store.StatusValidated:
		switch result {
		case store.ResultSuccess:
			return deltaValidatedSuccess
		case store.ResultPartial:
			return deltaValidatedPartial
		case "":
			return deltaValidatedNone
		}
	case store.StatusReversed:
		switch result {
		case store.ResultFailed:
			return deltaReversedFailed
		case store.ResultPartial, "":
			return deltaReversedOther
		}
	}
	return 0
}

func (in OutcomeInput) validate() error {
	switch in.Status {
	case store.StatusValidated, store.StatusReversed, store.StatusSuperseded:
	default:
		return &store.ValidationError{Field: "status", Reason: fmt.Sprintf("must be validated, reversed or superseded, got %q", in.Status)}
	}
	switch in.Result {
	case "", store.ResultSuccess, store.ResultPartial, store.ResultFailed:
	default:
		return &store.ValidationError{Field: "result", Reason: fmt.Sprintf("unknown value %q", in.Result)}
	}
	if in.ExplicitDelta != nil {
		d := *in.ExplicitDelta
		if math.IsNaN(d) || math.IsInf(d, 0) || d < -1 || d > 1 {
			return &store.ValidationError{Field: "explicit_delta", Reason: "must be a finite number within [-1,1]"}
		}
	}
	return nil
}

func (e *Engine) loadDecision(id string) (*store.Artifact, *store.Decision, error) {
	a, err := e.DB.GetArtifact(id)
	if err != nil {
		return nil, nil, err
	}
	d, ok := a.Decision()
	if !ok {
		return nil, nil, wrongType(id, store.TypeDecision)
	}
	return a, d, nil
}

// RecordOutcome transitions a decision and appends a ValidationEvent to its
// history. Superseded decisions are terminal.
func (e *Engine) RecordOutcome(ctx context.Context, id string, in OutcomeInput) (*store.Artifact, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	a, d, err := e.loadDecision(id)
	if err != nil {
		return nil, err
	}
	if d.Status == store.StatusSuperseded {
		return nil, fmt.Errorf("%w: decision %s is superseded", ErrTerminalState, id)
	}

	delta := ConfidenceDelta(in.Status, in.Result)
	if in.ExplicitDelta != nil {
		delta = *in.ExplicitDelta
	}
	if in.Status == store.StatusSuperseded && in.ExplicitDelta == nil {
		delta = 0
	}
	before := d.Confidence
	d.Confidence = math.Round(store.ClampConfidence(before+delta)*1e4) / 1e4

	d.Status = in.Status
	if in.Status == store.StatusSuperseded {
		d.Archived = true
		d.SupersededBy = strings.TrimSpace(in.SupersededBy)
	}
	d.ValidationHistory = append(d.ValidationHistory, store.ValidationEvent{
		Timestamp:       e.now(),
		Status:          in.Status,
		Result:          in.Result,
		ExpectedOutcome: strings.TrimSpace(in.ExpectedOutcome),
		ActualOutcome:   strings.TrimSpace(in.ActualOutcome),
		ConfidenceDelta: math.Round((d.Confidence-before)*1e4) / 1e4,
		Notes:           strings.TrimSpace(in.Notes),
		Revision:        a.Revision + 1,
	})

	if err := e.DB.UpdateArtifact(a, "validate"); err != nil {
		return nil, err
	}
	e.log.Info("recorded decision outcome", "id", id, "status", in.Status, "result", in.Result,
		"confidence", d.Confidence)
	return a, nil
}

// ValidationHistory returns a decision's validation events, oldest first.
func (e *Engine) ValidationHistory(ctx context.Context, id string) ([]store.ValidationEvent, error) {
	_, d, err := e.loadDecision(id)
	if err != nil {
		return nil, err
	}
	return d.ValidationHistory, nil
}

// UnreviewedQuery selects pending decisions for ListUnreviewed.
type UnreviewedQuery struct {
	OlderThan   time.Duration
	IncludeTags []string // any-match; empty matches all
	ExcludeTags []string
	Limit       int
}

// ListUnreviewed returns pending decisions created more than q.OlderThan
// ago, oldest first.
func (e *Engine) ListUnreviewed(ctx context.Context, q UnreviewedQuery) ([]*store.Artifact, error) {
	if q.OlderThan < 0 {
		return nil, &store.ValidationError{Field: "older_than", Reason: "must not be negative"}
	}
	decisions, err := e.DB.QueryArtifacts(store.Filter{
		Type:      store.TypeDecision,
		Tags:      q.IncludeTags,
		Until:     e.now().Add(-q.OlderThan),
		Ascending: true,
		OnMalformed: func(id string, err error) {
			e.log.Warn("unreviewed: skipping malformed decision", "id", id, "err", err)
		},
	})
	if err != nil {
		return nil, err
	}

	out := []*store.Artifact{}
outer:
	for _, a := range decisions {
		d, _ := a.Decision()
		if d.Status != store.StatusPending || d.Archived {
			continue
		}
		for _, t := range q.ExcludeTags {
			if a.HasTag(t) {
				continue outer
			}
		}
		out = append(out, a)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
