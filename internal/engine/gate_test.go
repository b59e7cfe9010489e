package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lazypower/duro/internal/store"
)

func strPtr(s string) *string { return &s }

func TestInferRiskTags(t *testing.T) {
	tests := []struct {
		text string
		tags []string
		want []string
	}{
		{"Checkout API returns 500 after config change", nil, []string{"config", "network"}},
		{"login fails intermittently", []string{"cache", "frontend"}, []string{"auth", "cache"}},
		{"orders table migration left null column", []string{"db"}, []string{"schema"}},
		{"specific feedback on rapid typing", nil, []string{}},
		{"memory grows until OOM", []string{"perf"}, []string{"perf"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, InferRiskTags(tt.text, tt.tags)); diff != "" {
			t.Errorf("InferRiskTags(%q, %v) mismatch (-want +got):\n%s", tt.text, tt.tags, diff)
		}
	}
}

func TestGateLifecycle(t *testing.T) {
	e, clock, overrides := testEngine(t)
	ctx := context.Background()

	change := createChange(t, e, "db/migrations", "add orders.region column", "schema")
	clock.Advance(time.Hour)

	st, err := e.StartGate(ctx, GateStart{Symptom: "orders table migration left null column", Tags: []string{"db"}})
	if err != nil {
		t.Fatalf("StartGate: %v", err)
	}
	id := st.IncidentID
	if st.Phase != store.PhaseReproPending {
		t.Errorf("phase = %s, want repro_pending", st.Phase)
	}
	if diff := cmp.Diff([]Pass{PassRepro, PassBoundary, PassCausality}, st.Unmet); diff != "" {
		t.Errorf("unmet mismatch (-want +got):\n%s", diff)
	}
	if len(st.Candidates) != 1 || st.Candidates[0].ID != change.ID {
		t.Errorf("candidates = %+v, want %s", st.Candidates, change.ID)
	}
	if diff := cmp.Diff([]string{"schema"}, st.RiskTags); diff != "" {
		t.Errorf("risk tags mismatch (-want +got):\n%s", diff)
	}

	_, err = e.CompleteGate(ctx, id, false, "")
	var gie *GateIncompleteError
	if !errors.As(err, &gie) || len(gie.Unmet) != 3 {
		t.Fatalf("CompleteGate early: err = %v, want GateIncompleteError with 3 unmet", err)
	}

	st, err = e.UpdateGate(ctx, id, GatePatch{AddReproSteps: []string{"run migration 42", "insert order without region"}})
	if err != nil {
		t.Fatalf("UpdateGate: %v", err)
	}
	if st.Phase != store.PhaseBoundaryPending || !st.State.ReproOK {
		t.Errorf("after repro: phase = %s, state = %+v", st.Phase, st.State)
	}

	st, err = e.UpdateGate(ctx, id, GatePatch{FirstBadBoundary: strPtr("migration 42 applied")})
	if err != nil {
		t.Fatalf("UpdateGate: %v", err)
	}
	if st.Phase != store.PhaseCausalityPending {
		t.Errorf("after boundary: phase = %s", st.Phase)
	}

	st, err = e.LinkChange(ctx, id, change.ID)
	if err != nil {
		t.Fatalf("LinkChange: %v", err)
	}
	if !st.State.CausalityOK || !st.Ready || len(st.Unmet) != 0 {
		t.Errorf("after link: state = %+v, ready = %v, unmet = %v", st.State, st.Ready, st.Unmet)
	}
	if diff := cmp.Diff([]string{change.ID}, st.Correlated); diff != "" {
		t.Errorf("correlated mismatch (-want +got):\n%s", diff)
	}

	var ve *store.ValidationError
	if _, err := e.CompleteGate(ctx, id, false, ""); !errors.As(err, &ve) || ve.Field != "actual_cause" {
		t.Fatalf("complete without cause: err = %v, want actual_cause validation error", err)
	}

	if _, err := e.UpdateGate(ctx, id, GatePatch{
		ActualCause: strPtr("column added without default"),
		Fix:         strPtr("backfill and add default"),
	}); err != nil {
		t.Fatalf("UpdateGate: %v", err)
	}

	res, err := e.CompleteGate(ctx, id, false, "")
	if err != nil {
		t.Fatalf("CompleteGate: %v", err)
	}
	inc, _ := res.Incident.Incident()
	if inc.GatePhase != store.PhaseComplete || inc.Draft || inc.CompletedAt == nil {
		t.Errorf("incident = phase %s, draft %v, completed %v", inc.GatePhase, inc.Draft, inc.CompletedAt)
	}
	if diff := cmp.Diff([]string{"prevention not recorded"}, res.Status.Warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
	if len(overrides.calls) != 0 {
		t.Errorf("override recorded for a passing gate: %v", overrides.calls)
	}

	if _, err := e.UpdateGate(ctx, id, GatePatch{Prevention: strPtr("lint migrations")}); !errors.Is(err, ErrTerminalState) {
		t.Errorf("update after complete: err = %v, want ErrTerminalState", err)
	}
	if _, err := e.CompleteGate(ctx, id, true, "again"); !errors.Is(err, ErrTerminalState) {
		t.Errorf("complete after complete: err = %v, want ErrTerminalState", err)
	}
}

func startWithFields(t *testing.T, e *Engine, symptom string) string {
	t.Helper()
	ctx := context.Background()
	st, err := e.StartGate(ctx, GateStart{Symptom: symptom})
	if err != nil {
		t.Fatalf("StartGate: %v", err)
	}
	if _, err := e.UpdateGate(ctx, st.IncidentID, GatePatch{
		ActualCause: strPtr("unknown yet"),
		Fix:         strPtr("restart"),
	}); err != nil {
		t.Fatalf("UpdateGate: %v", err)
	}
	return st.IncidentID
}

func TestGateOverride(t *testing.T) {
	e, _, overrides := testEngine(t)
	ctx := context.Background()
	id := startWithFields(t, e, "worker pool wedged")

	var ve *store.ValidationError
	if _, err := e.CompleteGate(ctx, id, true, "  "); !errors.As(err, &ve) {
		t.Fatalf("override without reason: err = %v, want ValidationError", err)
	}

	overrides.err = errors.New("disk full")
	if _, err := e.CompleteGate(ctx, id, true, "prod is down, bisect later"); err == nil {
		t.Fatal("expected error when the override audit fails")
	}
	st, err := e.GateStatus(ctx, id)
	if err != nil {
		t.Fatalf("GateStatus: %v", err)
	}
	if st.Phase.Terminal() {
		t.Fatalf("gate closed despite failed audit: phase = %s", st.Phase)
	}

	overrides.err = nil
	res, err := e.CompleteGate(ctx, id, true, "prod is down, bisect later")
	if err != nil {
		t.Fatalf("CompleteGate override: %v", err)
	}
	inc, _ := res.Incident.Incident()
	if inc.GatePhase != store.PhaseOverridden || !inc.Override || inc.OverrideReason != "prod is down, bisect later" {
		t.Errorf("incident = %+v", inc)
	}
	if diff := cmp.Diff([]string{id + ":prod is down, bisect later"}, overrides.calls); diff != "" {
		t.Errorf("override audit mismatch (-want +got):\n%s", diff)
	}
}

func TestGateOverrideAuditedAfterPersist(t *testing.T) {
	e, _, overrides := testEngine(t)
	ctx := context.Background()
	id := startWithFields(t, e, "queue consumer stalls")

	if _, err := e.DB.Exec(`DROP TABLE artifact_revisions`); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CompleteGate(ctx, id, true, "customer escalation, fix forward"); err == nil {
		t.Fatal("expected error when the incident cannot be persisted")
	}
	if len(overrides.calls) != 0 {
		t.Errorf("override audited for an unpersisted incident: %v", overrides.calls)
	}
	a, err := e.DB.GetArtifact(id)
	if err != nil {
		t.Fatal(err)
	}
	if inc, _ := a.Incident(); inc.GatePhase.Terminal() || inc.Override {
		t.Errorf("stored incident closed: phase = %s, override = %v", inc.GatePhase, inc.Override)
	}
}

func TestGateCausalityCorrelation(t *testing.T) {
	e, clock, _ := testEngine(t)
	ctx := context.Background()

	stale := createChange(t, e, "auth/session.go", "shorten token ttl", "auth")
	clock.Advance(49 * time.Hour)
	unrelated := createChange(t, e, "web/css", "new palette", "ui")

	st, err := e.StartGate(ctx, GateStart{Symptom: "users logged out early", Tags: []string{"auth"}})
	if err != nil {
		t.Fatalf("StartGate: %v", err)
	}
	id := st.IncidentID

	if _, err := e.LinkChange(ctx, id, "recent_change_missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("link missing change: err = %v, want ErrNotFound", err)
	}

	if _, err := e.LinkChange(ctx, id, stale.ID); err != nil {
		t.Fatalf("LinkChange: %v", err)
	}
	st, err = e.LinkChange(ctx, id, unrelated.ID)
	if err != nil {
		t.Fatalf("LinkChange: %v", err)
	}
	if st.State.CausalityOK {
		t.Error("causality satisfied by out-of-window or unrelated changes")
	}
	if len(st.LinkedChanges) != 2 || len(st.Correlated) != 0 {
		t.Errorf("linked = %v, correlated = %v", st.LinkedChanges, st.Correlated)
	}

	if _, err := e.ClearCausality(ctx, id, ""); err == nil {
		t.Error("expected error for empty clear note")
	}
	st, err = e.ClearCausality(ctx, id, "checked deploy log, nothing related")
	if err != nil {
		t.Fatalf("ClearCausality: %v", err)
	}
	if !st.State.CausalityOK {
		t.Error("clear annotation did not satisfy causality")
	}
}

func TestStartGateOnExistingIncident(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()
	id := startWithFields(t, e, "flaky checkout")

	st, err := e.StartGate(ctx, GateStart{IncidentID: id, Tags: []string{"deploy"}})
	if err != nil {
		t.Fatalf("StartGate existing: %v", err)
	}
	if st.IncidentID != id || st.Phase != store.PhaseReproPending {
		t.Errorf("status = %+v", st)
	}
	if diff := cmp.Diff([]string{"deploy"}, st.RiskTags); diff != "" {
		t.Errorf("risk tags mismatch (-want +got):\n%s", diff)
	}

	if _, err := e.StartGate(ctx, GateStart{IncidentID: "incident_missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreIncident(t *testing.T) {
	e, _, overrides := testEngine(t)
	ctx := context.Background()

	full := func() *store.Incident {
		return &store.Incident{
			Symptom:          "cron job ran twice",
			ActualCause:      "two schedulers after failover",
			Fix:              "leader election",
			ReproSteps:       []string{"fail over primary", "observe duplicate run"},
			FirstBadBoundary: "scheduler v2 rollout",
			CausalityCleared: true,
			ClearedNote:      "no change in window",
		}
	}

	res, err := e.StoreIncident(ctx, &store.Artifact{Content: full()}, false, "")
	if err != nil {
		t.Fatalf("StoreIncident: %v", err)
	}
	inc, _ := res.Incident.Incident()
	if inc.GatePhase != store.PhaseComplete || res.Incident.ID == "" {
		t.Errorf("phase = %s, id = %q", inc.GatePhase, res.Incident.ID)
	}

	partial := full()
	partial.ReproSteps = nil
	partial.CausalityCleared = false
	_, err = e.StoreIncident(ctx, &store.Artifact{Content: partial}, false, "")
	var gie *GateIncompleteError
	if !errors.As(err, &gie) {
		t.Fatalf("err = %v, want GateIncompleteError", err)
	}
	if diff := cmp.Diff([]Pass{PassRepro, PassCausality}, gie.Unmet); diff != "" {
		t.Errorf("unmet mismatch (-want +got):\n%s", diff)
	}

	res, err = e.StoreIncident(ctx, &store.Artifact{Content: partial}, true, "postmortem deadline")
	if err != nil {
		t.Fatalf("StoreIncident override: %v", err)
	}
	inc, _ = res.Incident.Incident()
	if inc.GatePhase != store.PhaseOverridden || len(overrides.calls) != 1 {
		t.Errorf("phase = %s, overrides = %v", inc.GatePhase, overrides.calls)
	}

	stored, err := e.DB.QueryArtifacts(store.Filter{Type: store.TypeIncident})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Errorf("stored incidents = %d, want 2", len(stored))
	}
}

func TestRecentChanges(t *testing.T) {
	e, clock, _ := testEngine(t)
	ctx := context.Background()

	createChange(t, e, "infra/terraform", "resize db", "schema")
	clock.Advance(72 * time.Hour)
	api := createChange(t, e, "services/api/handlers.go", "new pagination", "network")
	clock.Advance(time.Minute)
	cfg := createChange(t, e, "deploy/values.yaml", "raise replicas", "config", "deploy")

	tests := []struct {
		name string
		q    ChangeQuery
		want []string
	}{
		{"default window newest first", ChangeQuery{}, []string{cfg.ID, api.ID}},
		{"risk tag", ChangeQuery{Window: 24 * time.Hour, RiskTags: []string{"deploy"}}, []string{cfg.ID}},
		{"scope", ChangeQuery{Window: 24 * time.Hour, Scope: "API"}, []string{api.ID}},
		{"wide window", ChangeQuery{Window: 100 * time.Hour, RiskTags: []string{"schema"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.RecentChanges(ctx, tt.q)
			if err != nil {
				t.Fatalf("RecentChanges: %v", err)
			}
			var ids []string
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			if tt.want == nil {
				if len(ids) != 1 {
					t.Errorf("wide window = %v, want the schema change", ids)
				}
				return
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
