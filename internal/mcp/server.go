// Package mcp serves the duro operation catalogue as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lazypower/duro/internal/api"
	"github.com/lazypower/duro/internal/logging"
)

// Server wraps the MCP SDK server with the duro tools registered.
type Server struct {
	MCPServer *sdkmcp.Server

	svc *api.Service
	log *slog.Logger
}

// NewServer creates an MCP server exposing svc.
func NewServer(svc *api.Service, version string) *Server {
	s := &Server{svc: svc, log: logging.New("mcp")}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "duro", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves the tools over stdio until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	// Store
	add(s, "store_fact", "Store a fact. Confidence above 0.8 requires source_urls and evidence_type.", s.svc.StoreFact)
	add(s, "store_decision", "Store a decision with its rationale. It starts pending validation.", s.svc.StoreDecision)
	add(s, "store_episode", "Store an episode: a goal, the actions taken and the result.", s.svc.StoreEpisode)
	add(s, "store_change", "Append an entry to the change ledger. Risk tags are inferred when omitted.", s.svc.StoreChange)
	add(s, "store_incident", "Store a finished incident through the debug gate. Unmet passes fail unless override is set with a reason.", s.svc.StoreIncident)
	add(s, "get_artifact", "Get an artifact by id.", s.svc.GetArtifact)
	add(s, "list_artifacts", "List artifacts by type, tag, sensitivity, workflow and creation time, newest first.", items(s.svc.ListArtifacts))
	add(s, "delete_artifact", "Soft-delete an artifact. Sensitive artifacts require force.", s.svc.DeleteArtifact)
	add(s, "get_revisions", "Get the mutation log of an artifact.", items(s.svc.Revisions))

	// Validation
	add(s, "validate_decision", "Record an outcome on a decision: validated, reversed or superseded.", s.svc.ValidateDecision)
	add(s, "supersede_fact", "Mark a fact as replaced by a newer fact.", s.svc.SupersedeFact)
	add(s, "reinforce_fact", "Reinforce a fact, restarting its confidence decay.", s.svc.ReinforceFact)
	add(s, "apply_decay", "Run confidence decay over all facts. dry_run reports without writing.", s.svc.ApplyDecay)
	add(s, "get_validation_history", "Get the validation events of a decision, oldest first.", items(s.svc.ValidationHistory))
	add(s, "list_unreviewed_decisions", "List pending decisions older than a threshold, oldest first.", items(s.svc.ListUnreviewed))

	// Debug
	add(s, "query_recent_changes", "Query the change ledger by lookback hours, risk tags and scope.", items(s.svc.RecentChanges))
	add(s, "debug_gate_start", "Start a debug gate on a new incident draft or restart it on an existing incident.", s.svc.GateStart)
	add(s, "debug_gate_status", "Report which debug gate passes remain outstanding and the correlated change candidates.", s.svc.GateStatus)
	add(s, "debug_gate_update", "Add repro steps or set the first bad boundary, cause, fix, prevention or severity of an open gate.", s.svc.GateUpdate)
	add(s, "debug_gate_link_change", "Link a change-ledger entry to an incident for the causality pass.", s.svc.GateLinkChange)
	add(s, "debug_gate_clear", "Record that no recent change is related to the incident.", s.svc.GateClear)
	add(s, "debug_gate_complete", "Complete a debug gate. Unmet passes fail unless override is set with a reason, which is audited.", s.svc.GateComplete)

	// Enforcement
	add(s, "evaluate_operation", "Decide whether a privileged operation may run. An optional waiver token rule_id:reason waives one waivable rule.", s.svc.Evaluate)
	add(s, "check_waiver_threshold", "Compare the trailing waiver count against the warn and fail thresholds. Has no side effects.", s.svc.CheckThreshold)
	add(s, "get_scoreboard", "Get the waiver scoreboard.", func(ctx context.Context, _ struct{}) (any, error) {
		return s.svc.Scoreboard(ctx)
	})
	add(s, "list_audit", "List enforcement audit entries, newest first.", items(s.svc.ListAudit))
}

// add registers op as a tool. Operation errors become tool errors carrying
// the structured error info.
func add[In, Out any](s *Server, name, description string, op func(context.Context, In) (Out, error)) {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{Name: name, Description: description},
		func(ctx context.Context, _ *sdkmcp.CallToolRequest, in In) (*sdkmcp.CallToolResult, any, error) {
			out, err := op(ctx, in)
			if err != nil {
				s.log.Debug("tool error", "tool", name, "err", err)
				return toolError(err), nil, nil
			}
			return nil, out, nil
		})
}

// itemsResult wraps list outputs; structured tool content must be an object.
type itemsResult[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func items[In, T any](op func(context.Context, In) ([]T, error)) func(context.Context, In) (itemsResult[T], error) {
	return func(ctx context.Context, in In) (itemsResult[T], error) {
		out, err := op(ctx, in)
		if out == nil {
			out = []T{}
		}
		return itemsResult[T]{Items: out, Count: len(out)}, err
	}
}

func toolError(err error) *sdkmcp.CallToolResult {
	text, merr := json.Marshal(api.Describe(err))
	if merr != nil {
		text = []byte(err.Error())
	}
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(text)}},
	}
}
