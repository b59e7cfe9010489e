package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "duro.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if db.Path != path {
		t.Errorf("Path = %q, want %q", db.Path, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duro.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
	if err := db.migrate(); err != nil {
		t.Fatalf("migrate on current schema: %v", err)
	}
}

func TestSchemaTables(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"schema_versions", "artifacts", "artifact_tags", "artifact_revisions", "audit_log", "aggregates"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestSchemaConstraints(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`INSERT INTO artifacts (id, type, content, created_at, updated_at) VALUES ('fact_1', 'fact', '{}', 1000, 1000)`); err != nil {
		t.Fatalf("valid insert: %v", err)
	}

	tests := []struct {
		name string
		sql  string
	}{
		{"unknown type", `INSERT INTO artifacts (id, type, content, created_at, updated_at) VALUES ('x_1', 'note', '{}', 1000, 1000)`},
		{"unknown sensitivity", `INSERT INTO artifacts (id, type, sensitivity, content, created_at, updated_at) VALUES ('fact_2', 'fact', 'secret', '{}', 1000, 1000)`},
		{"updated before created", `INSERT INTO artifacts (id, type, content, created_at, updated_at) VALUES ('fact_3', 'fact', '{}', 2000, 1000)`},
		{"duplicate id", `INSERT INTO artifacts (id, type, content, created_at, updated_at) VALUES ('fact_1', 'fact', '{}', 1000, 1000)`},
		{"tag for unknown artifact", `INSERT INTO artifact_tags (artifact_id, tag) VALUES ('missing', 'x')`},
		{"revision for unknown artifact", `INSERT INTO artifact_revisions (artifact_id, revision, op, content, created_at) VALUES ('missing', 1, 'create', '{}', 1000)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.Exec(tt.sql); err == nil {
				t.Error("expected constraint error, got nil")
			}
		})
	}
}

func TestStoreClock(t *testing.T) {
	db := testDB(t)
	pinned := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	db.Now = func() time.Time { return pinned }

	got := db.Time()
	want := pinned.UTC().Truncate(time.Millisecond)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("Time() = %v, want %v", got, want)
	}
	if back := fromMillis(got.UnixMilli()); !back.Equal(got) {
		t.Errorf("fromMillis round trip = %v, want %v", back, got)
	}
}

func TestFileBackedConcurrentWrites(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "duro.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	const n = 32
	arts := make([]*Artifact, n)
	for i := range arts {
		arts[i] = newFact(t, db, fmt.Sprintf("claim %d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i, a := range arts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				errs <- db.DeleteArtifact(a.ID, "cleanup of duplicate", false)
				return
			}
			a.Tags = []string{"touched"}
			errs <- db.UpdateArtifact(a, "retag")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent write: %v", err)
		}
	}

	var fk, timeout int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout: %v", err)
	}
	if fk != 1 || timeout != 5000 {
		t.Errorf("connection pragmas foreign_keys=%d busy_timeout=%d, want 1 and 5000", fk, timeout)
	}

	live, err := db.QueryArtifacts(Filter{Type: TypeFact})
	if err != nil {
		t.Fatalf("QueryArtifacts: %v", err)
	}
	if len(live) != n/2 {
		t.Errorf("live facts = %d, want %d", len(live), n/2)
	}
	for _, a := range live {
		if !a.HasTag("touched") || a.Revision != 2 {
			t.Errorf("%s: tags=%v revision=%d", a.ID, a.Tags, a.Revision)
		}
	}
}
