package api

import (
	"context"
	"errors"

	"github.com/lazypower/duro/internal/enforce"
	"github.com/lazypower/duro/internal/store"
)

// ErrEnforcementDisabled is returned by enforcement operations on a Service
// built without a pipeline.
var ErrEnforcementDisabled = errors.New("enforcement pipeline not configured")

// EvaluateInput is the input of evaluate_operation.
type EvaluateInput struct {
	Operation enforce.Operation `json:"operation" jsonschema:"the tool call to admit"`
	Waiver    string            `json:"waiver,omitempty" jsonschema:"single-use waiver token rule_id:reason"`
}

// Evaluate decides one operation. Integrity failures are reported in the
// decision, never as an error.
func (s *Service) Evaluate(ctx context.Context, in EvaluateInput) (*enforce.Decision, error) {
	if s.Pipeline == nil {
		return nil, ErrEnforcementDisabled
	}
	if err := required("operation.tool", in.Operation.Tool); err != nil {
		return nil, err
	}
	d := s.Pipeline.Evaluate(ctx, in.Operation, in.Waiver)
	return &d, nil
}

// ThresholdInput is the input of check_waiver_threshold.
type ThresholdInput struct {
	PeriodDays int `json:"period_days,omitempty" jsonschema:"trailing period in days; default is the waiver policy period"`
}

// CheckThreshold compares the trailing waiver count against the policy
// thresholds. It has no side effects.
func (s *Service) CheckThreshold(ctx context.Context, in ThresholdInput) (*enforce.ThresholdResult, error) {
	sb, err := s.scoreboard()
	if err != nil {
		return nil, err
	}
	r := enforce.CheckThreshold(sb.Snapshot(), s.Waivers, in.PeriodDays, s.DB.Time())
	return &r, nil
}

// Scoreboard returns a copy of the waiver scoreboard with expired days
// dropped.
func (s *Service) Scoreboard(ctx context.Context) (*enforce.ScoreboardData, error) {
	sb, err := s.scoreboard()
	if err != nil {
		return nil, err
	}
	sb.Prune()
	d := sb.Snapshot()
	return &d, nil
}

func (s *Service) scoreboard() (*enforce.Scoreboard, error) {
	if s.Pipeline == nil || s.Pipeline.Scoreboard == nil {
		return nil, ErrEnforcementDisabled
	}
	return s.Pipeline.Scoreboard, nil
}

// AuditInput is the input of list_audit.
type AuditInput struct {
	Kind   string `json:"kind,omitempty" jsonschema:"admission, integrity or gate_override"`
	RuleID string `json:"rule_id,omitempty"`
	Since  string `json:"since,omitempty" jsonschema:"RFC 3339 lower bound"`
	Limit  int    `json:"limit,omitempty"`
}

// ListAudit returns audit entries, newest first.
func (s *Service) ListAudit(ctx context.Context, in AuditInput) ([]store.AuditEntry, error) {
	since, err := parseTime("since", in.Since)
	if err != nil {
		return nil, err
	}
	f := store.AuditFilter{Kind: in.Kind, RuleID: in.RuleID, Since: since, Limit: in.Limit}
	var out []store.AuditEntry
	if s.Pipeline != nil && s.Pipeline.Recorder != nil {
		out, err = s.Pipeline.Recorder.List(f)
	} else {
		out, err = s.DB.ListAudit(f)
	}
	if out == nil {
		out = []store.AuditEntry{}
	}
	return out, err
}
