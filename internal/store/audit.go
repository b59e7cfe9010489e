package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AuditEntry is one persisted enforcement or gate-override decision.
type AuditEntry struct {
	ID             int64     `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Kind           string    `json:"kind"`     // admission, integrity, gate_override
	Decision       string    `json:"decision"` // allow, deny, warn, waived
	Severity       string    `json:"severity"`
	RuleID         string    `json:"rule_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	WaiverReason   string    `json:"waiver_reason,omitempty"`
	WaiverError    string    `json:"waiver_error,omitempty"`
	CommandPreview string    `json:"command_preview,omitempty"`
	Tool           string    `json:"tool,omitempty"`
	ArtifactID     string    `json:"artifact_id,omitempty"`
}

// AuditFilter selects audit entries for ListAudit.
type AuditFilter struct {
	Kind   string
	RuleID string
	Since  time.Time
	Limit  int
}

// AppendAudit persists e and fills in its id and timestamp.
func (db *DB) AppendAudit(e *AuditEntry) error {
	if e.Kind == "" || e.Decision == "" {
		return invalid("audit", "kind and decision are required")
	}
	if e.Severity == "" {
		e.Severity = "info"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = db.now()
	}
	res, err := db.Exec(`
		INSERT INTO audit_log (created_at, kind, decision, severity, rule_id, reason,
			waiver_reason, waiver_error, command_preview, tool, artifact_id)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))
	`, e.CreatedAt.UnixMilli(), e.Kind, e.Decision, e.Severity, e.RuleID, e.Reason,
		e.WaiverReason, e.WaiverError, e.CommandPreview, e.Tool, e.ArtifactID)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// ListAudit returns audit entries, newest first.
func (db *DB) ListAudit(f AuditFilter) ([]AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	q := `SELECT id, created_at, kind, decision, severity, rule_id, reason, waiver_reason,
		waiver_error, command_preview, tool, artifact_id FROM audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created int64
		var rule, reason, wReason, wErr, preview, tool, artifact sql.NullString
		if err := rows.Scan(&e.ID, &created, &e.Kind, &e.Decision, &e.Severity, &rule, &reason,
			&wReason, &wErr, &preview, &tool, &artifact); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.CreatedAt = fromMillis(created)
		e.RuleID = rule.String
		e.Reason = reason.String
		e.WaiverReason = wReason.String
		e.WaiverError = wErr.String
		e.CommandPreview = preview.String
		e.Tool = tool.String
		e.ArtifactID = artifact.String
		out = append(out, e)
	}
	return out, rows.Err()
}
