package enforce

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lazypower/duro/internal/config"
)

// Waiver validation failures. The pipeline never propagates these; they are
// recorded on the decision and the rule's action applies.
var (
	ErrMalformedWaiver = errors.New("malformed waiver")
	ErrRuleMismatch    = errors.New("waiver rule mismatch")
	ErrUnwaivable      = errors.New("rule is unwaivable")
	ErrReasonTooShort  = errors.New("waiver reason too short")
	ErrWaiversDisabled = errors.New("waivers are disabled")
)

// waiverSeparator splits "rule_id:reason".
const waiverSeparator = ":"

// Waiver is a parsed "rule_id:reason" token.
type Waiver struct {
	RuleID string
	Reason string
}

// ParseWaiver splits a raw token at the first separator.
func ParseWaiver(raw string) (Waiver, error) {
	id, reason, ok := strings.Cut(strings.TrimSpace(raw), waiverSeparator)
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return Waiver{}, fmt.Errorf("%w: expected rule_id%sreason", ErrMalformedWaiver, waiverSeparator)
	}
	return Waiver{RuleID: id, Reason: strings.TrimSpace(reason)}, nil
}

// ValidateWaiver checks raw against the rule under evaluation and returns the
// waiver reason.
func ValidateWaiver(raw, ruleID string, policy config.WaiverConfig, rs *RuleSet) (string, error) {
	if !policy.Enabled {
		return "", ErrWaiversDisabled
	}
	w, err := ParseWaiver(raw)
	if err != nil {
		return "", err
	}
	if w.RuleID != ruleID {
		return "", fmt.Errorf("%w: waiver names %q, operation matched %q", ErrRuleMismatch, w.RuleID, ruleID)
	}
	if isFixedUnwaivable(ruleID) || (rs != nil && rs.Unwaivable(ruleID)) || listed(policy.UnwaivableRules, ruleID) {
		return "", fmt.Errorf("%w: %s", ErrUnwaivable, ruleID)
	}
	if n := utf8.RuneCountInString(w.Reason); n < policy.MinReasonLength {
		return "", fmt.Errorf("%w: %d characters, need at least %d", ErrReasonTooShort, n, policy.MinReasonLength)
	}
	return w.Reason, nil
}

func listed(xs []string, s string) bool {
	for _, x := range xs {
		if strings.TrimSpace(x) == s {
			return true
		}
	}
	return false
}
