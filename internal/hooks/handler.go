// Package hooks implements the agent's PreToolUse hook: the tool call on
// stdin becomes an enforcement operation, and the decision is rendered as an
// exit code plus a deny payload.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lazypower/duro/internal/enforce"
)

// Evaluator decides one operation. *enforce.Pipeline evaluates locally and
// *Client asks a running server.
type Evaluator interface {
	Evaluate(ctx context.Context, op enforce.Operation, waiver string) enforce.Decision
}

// PreOptions carries the values read at the process edge.
type PreOptions struct {
	Waiver     string // raw DURO_WAIVE value
	TrackReads bool
}

// Pre reads a PreToolUse event from stdin, evaluates it and returns the
// process exit code. Unreadable input fails closed.
func Pre(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts PreOptions, eval Evaluator) int {
	var input HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil {
		return Respond(stdout, stderr, integrityDenial(fmt.Errorf("decode stdin: %w", err)))
	}
	op, err := input.Operation(opts.TrackReads)
	if err != nil {
		return Respond(stdout, stderr, integrityDenial(err))
	}
	return Respond(stdout, stderr, eval.Evaluate(ctx, op, opts.Waiver))
}

// FailClosed denies the pending tool call because the hook could not reach
// a working enforcement stack.
func FailClosed(stdout, stderr io.Writer, err error) int {
	return Respond(stdout, stderr, integrityDenial(err))
}
