package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "artifacts: canonical record of every stored artifact",
		SQL: `
CREATE TABLE artifacts (
    id             TEXT PRIMARY KEY,
    type           TEXT NOT NULL CHECK (type IN ('fact', 'decision', 'episode', 'incident', 'recent_change')),
    sensitivity    TEXT NOT NULL DEFAULT 'internal' CHECK (sensitivity IN ('public', 'internal', 'sensitive')),
    workflow       TEXT,
    tags           TEXT NOT NULL DEFAULT '[]',
    content        TEXT NOT NULL,
    revision       INTEGER NOT NULL DEFAULT 1,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    deleted_at     INTEGER,
    delete_reason  TEXT,

    CHECK (updated_at >= created_at)
);

CREATE INDEX idx_artifacts_type    ON artifacts(type, created_at DESC);
CREATE INDEX idx_artifacts_created ON artifacts(created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "artifact_tags: tag index for any-match filters",
		SQL: `
CREATE TABLE artifact_tags (
    artifact_id TEXT NOT NULL,
    tag         TEXT NOT NULL,
    PRIMARY KEY (artifact_id, tag),
    FOREIGN KEY (artifact_id) REFERENCES artifacts(id)
);

CREATE INDEX idx_artifact_tags_tag ON artifact_tags(tag);
`,
	},
	{
		Version:     3,
		Description: "artifact_revisions: append-only mutation log",
		SQL: `
CREATE TABLE artifact_revisions (
    artifact_id TEXT NOT NULL,
    revision    INTEGER NOT NULL,
    op          TEXT NOT NULL,
    content     TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (artifact_id, revision),
    FOREIGN KEY (artifact_id) REFERENCES artifacts(id)
);
`,
	},
	{
		Version:     4,
		Description: "audit_log: enforcement and gate override audit trail",
		SQL: `
CREATE TABLE audit_log (
    id              INTEGER PRIMARY KEY,
    created_at      INTEGER NOT NULL,
    kind            TEXT NOT NULL,
    decision        TEXT NOT NULL,
    severity        TEXT NOT NULL DEFAULT 'info',
    rule_id         TEXT,
    reason          TEXT,
    waiver_reason   TEXT,
    waiver_error    TEXT,
    command_preview TEXT,
    tool            TEXT,
    artifact_id     TEXT
);

CREATE INDEX idx_audit_created ON audit_log(created_at DESC);
CREATE INDEX idx_audit_rule    ON audit_log(rule_id);
`,
	},
	{
		Version:     5,
		Description: "aggregates: named singleton documents (waiver scoreboard)",
		SQL: `
CREATE TABLE aggregates (
    name       TEXT PRIMARY KEY,
    body       TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
