package enforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/lazypower/duro/internal/audit"
	"github.com/lazypower/duro/internal/config"
	"github.com/lazypower/duro/internal/logging"
	"github.com/lazypower/duro/internal/metrics"
	"github.com/lazypower/duro/internal/store"
)

// Outcome is the admission verdict.
type Outcome string

const (
	OutcomeAllow  Outcome = "allow"
	OutcomeWarn   Outcome = "warn"
	OutcomeWaived Outcome = "waived"
	OutcomeDeny   Outcome = "deny"
)

// Hook exit codes.
const (
	ExitAllow     = 0
	ExitBlock     = 2
	ExitIntegrity = 3
)

// GateOverrideRule is the audit rule id used for debug gate overrides.
const GateOverrideRule = "debug_gate"

// Decision is the result of one Evaluate call.
type Decision struct {
	Outcome      Outcome `json:"outcome"`
	Allowed      bool    `json:"allowed"`
	RuleID       string  `json:"rule_id,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	WaiverReason string  `json:"waiver_reason,omitempty"`
	WaiverError  string  `json:"waiver_error,omitempty"`
	// Waivable is set on denials a valid waiver would have allowed.
	Waivable  bool   `json:"waivable,omitempty"`
	Integrity bool   `json:"integrity_failure,omitempty"`
	AuditID   int64  `json:"audit_id,omitempty"`
	ChangeID  string `json:"change_id,omitempty"`
	ExitCode  int    `json:"exit_code"`
}

// Pipeline evaluates operations against the current rule set.
type Pipeline struct {
	Policy        config.WaiverConfig
	DefaultAction string // allow or deny when no rule matches
	Recorder      *audit.Recorder
	Scoreboard    *Scoreboard

	rules atomic.Pointer[RuleSet]
	log   *slog.Logger
}

// NewPipeline builds a pipeline over rs.
func NewPipeline(rs *RuleSet, cfg config.Config, rec *audit.Recorder, sb *Scoreboard) *Pipeline {
	p := &Pipeline{
		Policy:        cfg.Waivers,
		DefaultAction: cfg.Enforcement.DefaultAction,
		Recorder:      rec,
		Scoreboard:    sb,
		log:           logging.New("enforce"),
	}
	if rs != nil {
		p.rules.Store(rs)
	}
	return p
}

// Rules returns the active rule set.
func (p *Pipeline) Rules() *RuleSet { return p.rules.Load() }

// SetRules atomically replaces the active rule set. A nil set is ignored.
func (p *Pipeline) SetRules(rs *RuleSet) {
	if rs == nil {
		return
	}
	p.rules.Store(rs)
	p.log.Info("rule set loaded", "source", rs.Source, "rules", len(rs.Rules()))
}

// Evaluate decides whether op may run. waiver is the raw "rule_id:reason"
// token, or empty. Evaluate always returns a decision; every decision that
// involves a rule is audited before it is returned.
func (p *Pipeline) Evaluate(ctx context.Context, op Operation, waiver string) Decision {
	if err := p.CheckIntegrity(ctx); err != nil {
		return p.failClosed(ctx, op, "", err)
	}
	rs := p.rules.Load()
	waiver = strings.TrimSpace(waiver)

	if rule, ok := rs.MatchUnwaivable(op, p.Policy.UnwaivableRules); ok {
		d := Decision{
			Outcome:  OutcomeDeny,
			RuleID:   rule.ID,
			Reason:   rule.reason(),
			ExitCode: ExitBlock,
		}
		if waiver != "" {
			d.WaiverError = fmt.Errorf("%w: %s", ErrUnwaivable, rule.ID).Error()
		}
		return p.decide(ctx, op, d, "critical")
	}

	if rs.Safe(op) {
		d := Decision{Outcome: OutcomeAllow, Allowed: true, Reason: "safe operation"}
		if op.Tracked {
			d.ChangeID = p.trackRead(op)
		}
		metrics.Admission(string(d.Outcome), "")
		return d
	}

	rule, ok := rs.Match(op)
	if !ok {
		if p.DefaultAction == "deny" {
			return p.decide(ctx, op, Decision{
				Outcome:  OutcomeDeny,
				Reason:   "no rule matched and the default action is deny",
				ExitCode: ExitBlock,
			}, "block")
		}
		metrics.Admission(string(OutcomeAllow), "")
		return Decision{Outcome: OutcomeAllow, Allowed: true}
	}

	d := Decision{RuleID: rule.ID, Reason: rule.reason()}
	if waiver != "" {
		reason, err := ValidateWaiver(waiver, rule.ID, p.Policy, rs)
		if err == nil {
			d.Outcome = OutcomeWaived
			d.Allowed = true
			d.WaiverReason = reason
			d = p.decide(ctx, op, d, "waiver")
			if d.Outcome == OutcomeWaived {
				p.countWaiver(rule.ID, reason, op.Preview())
			}
			return d
		}
		d.WaiverError = err.Error()
		p.log.Info("waiver rejected", "rule", rule.ID, "err", err)
	}

	switch rule.Action {
	case ActionWarn:
		d.Outcome = OutcomeWarn
		d.Allowed = true
		return p.decide(ctx, op, d, "warning")
	default:
		d.Outcome = OutcomeDeny
		d.ExitCode = ExitBlock
		d.Waivable = p.Policy.Enabled
		return p.decide(ctx, op, d, "block")
	}
}

func (r Rule) reason() string {
	if r.Reason != "" {
		return r.Reason
	}
	if r.Description != "" {
		return r.Description
	}
	return "matched rule " + r.ID
}

// decide audits d. If the audit write fails the operation is denied with
// the integrity exit code.
func (p *Pipeline) decide(ctx context.Context, op Operation, d Decision, severity string) Decision {
	e := &store.AuditEntry{
		Kind:           audit.KindAdmission,
		Decision:       string(d.Outcome),
		Severity:       severity,
		RuleID:         d.RuleID,
		Reason:         d.Reason,
		WaiverReason:   d.WaiverReason,
		WaiverError:    d.WaiverError,
		CommandPreview: op.Preview(),
		Tool:           op.Tool,
	}
	if err := p.Recorder.Record(ctx, e); err != nil {
		p.log.Error("audit write failed, denying", "rule", d.RuleID, "err", err)
		metrics.Admission("integrity", d.RuleID)
		return Decision{
			Outcome:     OutcomeDeny,
			RuleID:      d.RuleID,
			Reason:      fmt.Errorf("%w: %v", ErrIntegrity, err).Error(),
			WaiverError: d.WaiverError,
			Integrity:   true,
			ExitCode:    ExitIntegrity,
		}
	}
	d.AuditID = e.ID
	metrics.Admission(string(d.Outcome), d.RuleID)
	return d
}

// failClosed denies op after an integrity failure and makes a best-effort
// attempt to audit it.
func (p *Pipeline) failClosed(ctx context.Context, op Operation, ruleID string, cause error) Decision {
	d := Decision{
		Outcome:   OutcomeDeny,
		RuleID:    ruleID,
		Reason:    cause.Error(),
		Integrity: true,
		ExitCode:  ExitIntegrity,
	}
	p.log.Error("integrity check failed, denying", "tool", op.Tool, "err", cause)
	metrics.Admission("integrity", ruleID)
	if p.Recorder == nil || p.Recorder.DB == nil {
		return d
	}
	e := &store.AuditEntry{
		Kind:           audit.KindIntegrity,
		Decision:       string(OutcomeDeny),
		Severity:       "critical",
		RuleID:         ruleID,
		Reason:         cause.Error(),
		CommandPreview: op.Preview(),
		Tool:           op.Tool,
	}
	if err := p.Recorder.Record(ctx, e); err != nil {
		p.log.Error("integrity failure not audited", "err", err)
		return d
	}
	d.AuditID = e.ID
	return d
}

// countWaiver updates the scoreboard after a waived admission has been
// audited. The audit log stays the record of truth if persistence fails.
func (p *Pipeline) countWaiver(ruleID, reason, preview string) {
	metrics.Waiver(ruleID)
	if p.Scoreboard == nil {
		return
	}
	if _, err := p.Scoreboard.Record(ruleID, reason, preview); err != nil {
		p.log.Error("scoreboard update failed", "rule", ruleID, "err", err)
	}
}

// trackRead appends a tracked safe operation to the change ledger. Failure
// is logged; it never changes the decision.
func (p *Pipeline) trackRead(op Operation) string {
	scope := op.Path
	if scope == "" {
		scope = op.Preview()
	}
	a := &store.Artifact{
		Type:     store.TypeRecentChange,
		Tags:     []string{"tracked_read"},
		Workflow: "enforcement",
		Content: &store.RecentChange{
			Scope:  scope,
			Change: "read via " + op.Tool,
		},
	}
	if err := p.Recorder.DB.CreateArtifact(a); err != nil {
		p.log.Warn("tracked read not recorded", "tool", op.Tool, "err", err)
		return ""
	}
	return a.ID
}

// RecordGateOverride audits a debug gate completed by override. Overrides
// are not waivers of a rule and stay off the scoreboard and its thresholds.
func (p *Pipeline) RecordGateOverride(ctx context.Context, incidentID, reason string) error {
	if p.Recorder == nil {
		return errors.New("audit: no recorder configured")
	}
	e := &store.AuditEntry{
		Kind:           audit.KindGateOverride,
		Decision:       string(OutcomeWaived),
		Severity:       audit.SeverityBootstrapFailure,
		RuleID:         GateOverrideRule,
		Reason:         "debug gate completed by override",
		WaiverReason:   reason,
		CommandPreview: "debug_gate_complete " + incidentID,
		ArtifactID:     incidentID,
	}
	return p.Recorder.Record(ctx, e)
}
