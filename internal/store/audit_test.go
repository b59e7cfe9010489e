package store

import (
	"testing"
	"time"
)

func TestAppendAndListAudit(t *testing.T) {
	db := testDB(t)
	db.Now = stepClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), time.Second)

	entries := []*AuditEntry{
		{Kind: "admission", Decision: "deny", RuleID: "no_force_push", Reason: "force push", Tool: "Bash"},
		{Kind: "admission", Decision: "waived", RuleID: "no_force_push", WaiverReason: "rewriting my own branch"},
		{Kind: "gate_override", Decision: "allow", Severity: "bootstrap_failure", ArtifactID: "incident_x"},
	}
	for _, e := range entries {
		if err := db.AppendAudit(e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected non-zero audit id")
		}
	}
	if entries[0].Severity != "info" {
		t.Errorf("default severity = %q, want info", entries[0].Severity)
	}

	all, err := db.ListAudit(AuditFilter{})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(all) != 3 || all[0].Kind != "gate_override" {
		t.Fatalf("ListAudit = %+v, want 3 entries newest first", all)
	}

	byRule, err := db.ListAudit(AuditFilter{RuleID: "no_force_push", Limit: 1})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(byRule) != 1 || byRule[0].Decision != "waived" || byRule[0].WaiverReason != "rewriting my own branch" {
		t.Errorf("ListAudit(rule) = %+v", byRule)
	}

	if err := db.AppendAudit(&AuditEntry{Kind: "admission"}); err == nil {
		t.Error("expected error for audit entry without decision")
	}
}

func TestAggregates(t *testing.T) {
	db := testDB(t)

	type doc struct {
		Total int            `json:"total"`
		ByDay map[string]int `json:"by_day"`
	}

	var got doc
	ok, err := db.LoadAggregate("waiver_scoreboard", &got)
	if err != nil {
		t.Fatalf("LoadAggregate: %v", err)
	}
	if ok {
		t.Fatal("expected no aggregate before first save")
	}

	if err := db.SaveAggregate("waiver_scoreboard", doc{Total: 1, ByDay: map[string]int{"2026-02-01": 1}}); err != nil {
		t.Fatalf("SaveAggregate: %v", err)
	}
	if err := db.SaveAggregate("waiver_scoreboard", doc{Total: 2, ByDay: map[string]int{"2026-02-01": 2}}); err != nil {
		t.Fatalf("SaveAggregate overwrite: %v", err)
	}

	ok, err = db.LoadAggregate("waiver_scoreboard", &got)
	if err != nil || !ok {
		t.Fatalf("LoadAggregate = %v, %v", ok, err)
	}
	if got.Total != 2 || got.ByDay["2026-02-01"] != 2 {
		t.Errorf("aggregate = %+v", got)
	}
}
