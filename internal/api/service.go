// Package api implements the tool-style operation catalogue over the store,
// the engine and the enforcement pipeline. The HTTP server and the MCP
// server are thin transports over Service.
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/duro/internal/config"
	"github.com/lazypower/duro/internal/engine"
	"github.com/lazypower/duro/internal/enforce"
	"github.com/lazypower/duro/internal/store"
)

// Service exposes every operation with flat, transport-neutral inputs.
type Service struct {
	DB       *store.DB
	Engine   *engine.Engine
	Pipeline *enforce.Pipeline
	Waivers  config.WaiverConfig
}

// New creates a Service. pipe may be nil when enforcement is not served.
func New(db *store.DB, eng *engine.Engine, pipe *enforce.Pipeline, cfg config.Config) *Service {
	return &Service{DB: db, Engine: eng, Pipeline: pipe, Waivers: cfg.Waivers}
}

// envelope holds the shared artifact fields of the store inputs.
type envelope struct {
	tags        []string
	sensitivity store.Sensitivity
	workflow    string
}

func (e envelope) artifact(c store.Content) *store.Artifact {
	return &store.Artifact{Tags: e.tags, Sensitivity: e.sensitivity, Workflow: e.workflow, Content: c}
}

// parseTime parses an optional RFC 3339 timestamp. The empty string is the
// zero time.
func parseTime(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &store.ValidationError{Field: field, Reason: fmt.Sprintf("not an RFC 3339 time: %q", s)}
	}
	return t, nil
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &store.ValidationError{Field: field, Reason: "required"}
	}
	return nil
}
