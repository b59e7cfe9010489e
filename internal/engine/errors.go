package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lazypower/duro/internal/store"
)

var (
	// ErrTerminalState is returned for transitions out of a terminal state:
	// a superseded decision, or a completed or overridden debug gate.
	ErrTerminalState = errors.New("artifact is in a terminal state")

	// ErrAlreadySuperseded is returned when superseding a fact that already
	// has a successor.
	ErrAlreadySuperseded = errors.New("fact already superseded")
)

// Pass names one of the three debug gate checks.
type Pass string

const (
	PassRepro     Pass = "repro"
	PassBoundary  Pass = "boundary"
	PassCausality Pass = "causality"
)

// GateIncompleteError is returned by completion attempts with unmet passes.
type GateIncompleteError struct {
	IncidentID string
	Unmet      []Pass
}

func (e *GateIncompleteError) Error() string {
	names := make([]string, len(e.Unmet))
	for i, p := range e.Unmet {
		names[i] = string(p)
	}
	if e.IncidentID == "" {
		return fmt.Sprintf("debug gate incomplete: unmet %s", strings.Join(names, ", "))
	}
	return fmt.Sprintf("debug gate incomplete for %s: unmet %s", e.IncidentID, strings.Join(names, ", "))
}

// wrongType reports an id that exists but names a different artifact type.
func wrongType(id string, want store.Type) error {
	if got, ok := store.ParseIDType(id); ok {
		return fmt.Errorf("%w: %s is a %s, not a %s", store.ErrNotFound, id, got, want)
	}
	return fmt.Errorf("%w: %s is not a %s", store.ErrNotFound, id, want)
}
