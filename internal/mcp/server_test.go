package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lazypower/duro/internal/api"
	"github.com/lazypower/duro/internal/audit"
	"github.com/lazypower/duro/internal/config"
	"github.com/lazypower/duro/internal/engine"
	"github.com/lazypower/duro/internal/enforce"
	"github.com/lazypower/duro/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	rs, err := enforce.DefaultRules(cfg.Waivers.UnwaivableRules)
	if err != nil {
		t.Fatalf("DefaultRules: %v", err)
	}
	pipe := enforce.NewPipeline(rs, cfg, audit.NewRecorder(db, nil), enforce.NewScoreboard(db, cfg.Waivers.PeriodDays))
	eng := engine.New(db, cfg)
	eng.Overrides = pipe
	return NewServer(api.New(db, eng, pipe, cfg), "test")
}

func connectInMemory(t *testing.T, ctx context.Context, srv *Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func textOf(t *testing.T, res *sdkmcp.CallToolResult) string {
	t.Helper()
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatalf("no text content in tool result")
	return ""
}

// callTool invokes name and decodes the successful result into out.
func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any, out any) {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	text := textOf(t, res)
	if res.IsError {
		t.Fatalf("CallTool(%s) returned error: %s", name, text)
	}
	if out != nil {
		if err := json.Unmarshal([]byte(text), out); err != nil {
			t.Fatalf("unmarshal %s result: %v (text: %s)", name, err, text)
		}
	}
}

// callToolError invokes name and returns the structured error it must fail with.
func callToolError(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) api.ErrorInfo {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if !res.IsError {
		t.Fatalf("CallTool(%s): expected IsError=true", name)
	}
	var info api.ErrorInfo
	if err := json.Unmarshal([]byte(textOf(t, res)), &info); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	return info
}

func TestServer_ToolDiscovery(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	want := []string{
		"store_fact", "store_decision", "store_episode", "store_change", "store_incident",
		"get_artifact", "list_artifacts", "delete_artifact", "get_revisions",
		"validate_decision", "supersede_fact", "reinforce_fact", "apply_decay",
		"get_validation_history", "list_unreviewed_decisions",
		"query_recent_changes", "debug_gate_start", "debug_gate_status", "debug_gate_update",
		"debug_gate_link_change", "debug_gate_clear", "debug_gate_complete",
		"evaluate_operation", "check_waiver_threshold", "get_scoreboard", "list_audit",
	}
	found := map[string]bool{}
	for _, tool := range tools.Tools {
		found[tool.Name] = true
	}
	for _, name := range want {
		if !found[name] {
			t.Errorf("tool %q not found in ListTools", name)
		}
	}
}

func TestServer_StoreAndList(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	var fact store.Artifact
	callTool(t, ctx, session, "store_fact", map[string]any{
		"claim":         "the api gateway times out after 30s",
		"confidence":    0.9,
		"source_urls":   []string{"https://example.com/gateway.md"},
		"evidence_type": "quote",
		"tags":          []string{"network"},
	}, &fact)
	if f, ok := fact.Fact(); !ok || f.Confidence != 0.9 {
		t.Errorf("stored fact = %+v", fact.Content)
	}

	info := callToolError(t, ctx, session, "store_fact", map[string]any{"claim": "unsourced", "confidence": 0.95})
	if info.Code != api.CodeConfidenceGate {
		t.Errorf("error code = %s, want %s", info.Code, api.CodeConfidenceGate)
	}

	var list struct {
		Items []store.Artifact `json:"items"`
		Count int              `json:"count"`
	}
	callTool(t, ctx, session, "list_artifacts", map[string]any{"type": "fact"}, &list)
	if list.Count != 1 || list.Items[0].ID != fact.ID {
		t.Errorf("list = %+v", list)
	}

	info = callToolError(t, ctx, session, "get_artifact", map[string]any{"id": "fact_unknown"})
	if info.Code != api.CodeNotFound {
		t.Errorf("get unknown: code = %s", info.Code)
	}
}

func TestServer_DebugGate(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	var change store.Artifact
	callTool(t, ctx, session, "store_change", map[string]any{
		"scope":  "cache/redis.go",
		"change": "lower ttl to 10s",
	}, &change)

	var st engine.GateStatus
	callTool(t, ctx, session, "debug_gate_start", map[string]any{
		"symptom":     "stale prices shown after update",
		"tags":        []string{"cache"},
		"repro_steps": []string{"update price", "reload page"},
	}, &st)
	id := st.IncidentID
	if diff := cmp.Diff([]engine.Pass{engine.PassBoundary, engine.PassCausality}, st.Unmet); diff != "" {
		t.Errorf("unmet (-want +got):\n%s", diff)
	}

	callTool(t, ctx, session, "debug_gate_update", map[string]any{"id": id, "first_bad_boundary": "price cache read"}, &st)
	info := callToolError(t, ctx, session, "debug_gate_complete", map[string]any{"id": id})
	if info.Code != api.CodeGateIncomplete {
		t.Fatalf("early complete: code = %s", info.Code)
	}
	if diff := cmp.Diff([]engine.Pass{engine.PassCausality}, info.Unmet); diff != "" {
		t.Errorf("error unmet (-want +got):\n%s", diff)
	}

	callTool(t, ctx, session, "debug_gate_status", map[string]any{"id": id}, &st)
	if len(st.Candidates) != 1 || st.Candidates[0].ID != change.ID {
		t.Errorf("candidates = %+v", st.Candidates)
	}

	callTool(t, ctx, session, "debug_gate_link_change", map[string]any{"id": id, "change_id": change.ID}, &st)
	callTool(t, ctx, session, "debug_gate_update", map[string]any{
		"id":           id,
		"actual_cause": "ttl change skipped invalidation",
		"fix":          "invalidate on write",
	}, nil)

	var res engine.GateResult
	callTool(t, ctx, session, "debug_gate_complete", map[string]any{"id": id}, &res)
	if res.Status.Phase != store.PhaseComplete {
		t.Errorf("phase = %s, want complete", res.Status.Phase)
	}
}

func TestServer_Enforcement(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	op := map[string]any{"tool": "Bash", "command": "git add id_rsa"}
	var d enforce.Decision
	callTool(t, ctx, session, "evaluate_operation", map[string]any{
		"operation": op,
		"waiver":    "secrets_in_git:this key is a test fixture",
	}, &d)
	if d.Outcome != enforce.OutcomeDeny || d.RuleID != "secrets_in_git" || d.WaiverError == "" {
		t.Errorf("unwaivable decision = %+v", d)
	}

	callTool(t, ctx, session, "evaluate_operation", map[string]any{
		"operation": map[string]any{"tool": "Bash", "command": "git commit --no-verify -m wip"},
	}, &d)
	if d.Outcome != enforce.OutcomeWarn || !d.Allowed {
		t.Errorf("warn decision = %+v", d)
	}

	var r enforce.ThresholdResult
	callTool(t, ctx, session, "check_waiver_threshold", map[string]any{}, &r)
	if r.Status != enforce.ThresholdOK || r.Count != 0 {
		t.Errorf("threshold = %+v", r)
	}

	var sb enforce.ScoreboardData
	callTool(t, ctx, session, "get_scoreboard", map[string]any{}, &sb)
	if sb.TotalWaivers != 0 {
		t.Errorf("scoreboard = %+v", sb)
	}

	var entries struct {
		Items []store.AuditEntry `json:"items"`
	}
	callTool(t, ctx, session, "list_audit", map[string]any{"rule_id": "secrets_in_git"}, &entries)
	if len(entries.Items) != 1 || entries.Items[0].Severity != "critical" {
		t.Errorf("audit = %+v", entries.Items)
	}
}
