package api

import (
	"errors"
	"net/http"

	"github.com/lazypower/duro/internal/engine"
	"github.com/lazypower/duro/internal/store"
)

// Error codes shared by the HTTP and MCP transports.
const (
	CodeValidation     = "validation"
	CodeConfidenceGate = "confidence_gate"
	CodeNotFound       = "not_found"
	CodeSensitive      = "sensitive_delete_denied"
	CodeTerminal       = "terminal_state"
	CodeSuperseded     = "already_superseded"
	CodeConflict       = "revision_conflict"
	CodeGateIncomplete = "gate_incomplete"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

// ErrorInfo is the structured form of an operation error.
type ErrorInfo struct {
	Status  int           `json:"-"`
	Code    string        `json:"code"`
	Message string        `json:"error"`
	Field   string        `json:"field,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Unmet   []engine.Pass `json:"unmet,omitempty"`
}

// Describe classifies err.
func Describe(err error) ErrorInfo {
	info := ErrorInfo{Status: http.StatusInternalServerError, Code: CodeInternal, Message: err.Error()}

	var verr *store.ValidationError
	var gerr *engine.GateIncompleteError
	switch {
	case errors.As(err, &gerr):
		info.Status, info.Code, info.Unmet = http.StatusConflict, CodeGateIncomplete, gerr.Unmet
	case errors.As(err, &verr):
		info.Status, info.Code = http.StatusBadRequest, CodeValidation
		if errors.Is(err, store.ErrConfidenceGate) {
			info.Code = CodeConfidenceGate
		}
		info.Field, info.Reason = verr.Field, verr.Reason
	case errors.Is(err, store.ErrNotFound):
		info.Status, info.Code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, store.ErrSensitiveDeleteDenied):
		info.Status, info.Code = http.StatusForbidden, CodeSensitive
	case errors.Is(err, engine.ErrTerminalState):
		info.Status, info.Code = http.StatusConflict, CodeTerminal
	case errors.Is(err, engine.ErrAlreadySuperseded):
		info.Status, info.Code = http.StatusConflict, CodeSuperseded
	case errors.Is(err, store.ErrRevisionConflict):
		info.Status, info.Code = http.StatusConflict, CodeConflict
	case errors.Is(err, ErrEnforcementDisabled):
		info.Status, info.Code = http.StatusServiceUnavailable, CodeUnavailable
	}
	return info
}
