package hooks

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/lazypower/duro/internal/enforce"
)

// PreToolUseOutput is the JSON structure the agent expects on stdout from a
// PreToolUse hook that denies a tool call.
type PreToolUseOutput struct {
	HookSpecificOutput struct {
		HookEventName            string `json:"hookEventName"`
		PermissionDecision       string `json:"permissionDecision"`
		PermissionDecisionReason string `json:"permissionDecisionReason"`
	} `json:"hookSpecificOutput"`
}

// WriteDenyOutput writes a deny payload to w.
func WriteDenyOutput(w io.Writer, reason string) error {
	out := PreToolUseOutput{}
	out.HookSpecificOutput.HookEventName = "PreToolUse"
	out.HookSpecificOutput.PermissionDecision = "deny"
	out.HookSpecificOutput.PermissionDecisionReason = reason
	return json.NewEncoder(w).Encode(out)
}

// Respond renders d for the agent and returns the hook exit code. Allowed
// operations produce no stdout so the agent's own permission flow still
// applies.
func Respond(stdout, stderr io.Writer, d enforce.Decision) int {
	switch {
	case d.Integrity:
		msg := "duro: integrity failure, denying: " + d.Reason
		fmt.Fprintln(stderr, msg)
		WriteDenyOutput(stdout, msg)
		return enforce.ExitIntegrity
	case d.Outcome == enforce.OutcomeDeny:
		msg := denyMessage(d)
		fmt.Fprintln(stderr, msg)
		WriteDenyOutput(stdout, msg)
		return enforce.ExitBlock
	case d.Outcome == enforce.OutcomeWarn:
		msg := fmt.Sprintf("duro: warning (%s): %s", d.RuleID, d.Reason)
		if d.WaiverError != "" {
			msg += "; waiver rejected: " + d.WaiverError
		}
		fmt.Fprintln(stderr, msg)
	case d.Outcome == enforce.OutcomeWaived:
		fmt.Fprintf(stderr, "duro: rule %s waived: %s\n", d.RuleID, d.WaiverReason)
	}
	return enforce.ExitAllow
}

func denyMessage(d enforce.Decision) string {
	msg := "duro: blocked"
	if d.RuleID != "" {
		msg += " by rule " + d.RuleID
	}
	msg += ": " + d.Reason
	if d.WaiverError != "" {
		msg += "; waiver rejected: " + d.WaiverError
	}
	if d.Waivable {
		msg += fmt.Sprintf("; to override once, set DURO_WAIVE=\"%s:<reason>\"", d.RuleID)
	}
	return msg
}
