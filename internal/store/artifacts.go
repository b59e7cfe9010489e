package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const artifactColumns = `id, type, sensitivity, workflow, tags, content, revision,
	created_at, updated_at, deleted_at, delete_reason`

// Filter selects artifacts for QueryArtifacts. Zero values disable a clause.
type Filter struct {
	Type        Type
	Tags        []string // any-match
	Sensitivity Sensitivity
	Workflow    string
	Since       time.Time
	Until       time.Time
	// Text matches a substring of the serialized content.
	Text           string
	IncludeDeleted bool
	Limit          int
	// Ascending orders oldest first; the default is newest first.
	Ascending bool
	// OnMalformed is called for rows whose content cannot be decoded.
	// Such rows are always skipped.
	OnMalformed func(id string, err error)
}

// Revision is one entry of an artifact's append-only mutation log.
type Revision struct {
	ArtifactID string          `json:"artifact_id"`
	Revision   int             `json:"revision"`
	Op         string          `json:"op"`
	Content    json.RawMessage `json:"content"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CreateArtifact validates a, assigns its id and timestamps, and inserts it
// with its tags and first revision.
func (db *DB) CreateArtifact(a *Artifact) error {
	if a.Content == nil {
		return invalid("content", "required")
	}
	ct := a.Content.ArtifactType()
	if a.Type != "" && a.Type != ct {
		return invalid("type", fmt.Sprintf("%q does not match content type %q", a.Type, ct))
	}
	a.Type = ct
	if a.Sensitivity == "" {
		a.Sensitivity = Internal
	}
	if !a.Sensitivity.Valid() {
		return invalid("sensitivity", fmt.Sprintf("unknown value %q", a.Sensitivity))
	}
	a.Tags = normalizeTags(a.Tags)
	a.Workflow = strings.TrimSpace(a.Workflow)

	now := db.now()
	a.Content.prepare(now)
	if err := a.Content.Validate(); err != nil {
		return err
	}

	content, err := json.Marshal(a.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	tags, err := json.Marshal(a.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin create artifact: %w", err)
	}
	defer tx.Rollback()

	var id string
	for attempt := 0; ; attempt++ {
		id = NewID(a.Type, now)
		_, err = tx.Exec(`
			INSERT INTO artifacts (id, type, sensitivity, workflow, tags, content, revision, created_at, updated_at)
			VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, 1, ?, ?)
		`, id, a.Type, a.Sensitivity, a.Workflow, string(tags), string(content), now.UnixMilli(), now.UnixMilli())
		if err == nil {
			break
		}
		if !isUniqueViolation(err) || attempt >= 3 {
			return fmt.Errorf("create artifact: %w", err)
		}
	}
	if err := writeTags(tx, id, a.Tags); err != nil {
		return err
	}
	if err := writeRevision(tx, id, 1, "create", content, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create artifact: %w", err)
	}

	a.ID = id
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Revision = 1
	a.DeletedAt = nil
	a.DeleteReason = ""
	return nil
}

// GetArtifact returns a live artifact by id. Deleted artifacts are reported
// as ErrNotFound.
func (db *DB) GetArtifact(id string) (*Artifact, error) {
	row := db.QueryRow(`SELECT `+artifactColumns+` FROM artifacts WHERE id = ? AND deleted_at IS NULL`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", id, err)
	}
	return a, nil
}

// UpdateArtifact persists a mutated artifact. The update only applies if the
// stored revision still equals a.Revision; otherwise ErrRevisionConflict is
// returned. On success a.Revision and a.UpdatedAt are advanced and a
// revision row tagged op is written.
func (db *DB) UpdateArtifact(a *Artifact, op string) error {
	if a.Content == nil {
		return invalid("content", "required")
	}
	if a.Content.ArtifactType() != a.Type {
		return invalid("type", "content type changed")
	}
	if err := a.Content.Validate(); err != nil {
		return err
	}
	a.Tags = normalizeTags(a.Tags)

	content, err := json.Marshal(a.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	tags, err := json.Marshal(a.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	now := db.now()
	if now.Before(a.UpdatedAt) {
		now = a.UpdatedAt
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin update artifact: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE artifacts
		SET content = ?, tags = ?, sensitivity = ?, workflow = NULLIF(?, ''),
			revision = revision + 1, updated_at = MAX(updated_at, ?)
		WHERE id = ? AND revision = ? AND deleted_at IS NULL
	`, string(content), string(tags), a.Sensitivity, a.Workflow, now.UnixMilli(), a.ID, a.Revision)
	if err != nil {
		return fmt.Errorf("update artifact %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var rev int
		err := tx.QueryRow(`SELECT revision FROM artifacts WHERE id = ? AND deleted_at IS NULL`, a.ID).Scan(&rev)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(a.ID)
		}
		if err != nil {
			return fmt.Errorf("update artifact %s: %w", a.ID, err)
		}
		return fmt.Errorf("%w: %s at revision %d, have %d", ErrRevisionConflict, a.ID, rev, a.Revision)
	}
	if _, err := tx.Exec(`DELETE FROM artifact_tags WHERE artifact_id = ?`, a.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	if err := writeTags(tx, a.ID, a.Tags); err != nil {
		return err
	}
	if err := writeRevision(tx, a.ID, a.Revision+1, op, content, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update artifact: %w", err)
	}

	a.Revision++
	a.UpdatedAt = now
	return nil
}

// DeleteArtifact soft-deletes an artifact. The row is kept with its
// deletion time and reason, and the id is never reused. Sensitive artifacts
// require force.
func (db *DB) DeleteArtifact(id, reason string, force bool) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return invalid("reason", "required")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete artifact: %w", err)
	}
	defer tx.Rollback()

	var (
		sensitivity Sensitivity
		content     string
		revision    int
	)
	err = tx.QueryRow(`
		SELECT sensitivity, content, revision FROM artifacts WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&sensitivity, &content, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	if sensitivity == Sensitive && !force {
		return fmt.Errorf("%w: %s", ErrSensitiveDeleteDenied, id)
	}

	now := db.now()
	if _, err := tx.Exec(`
		UPDATE artifacts
		SET deleted_at = MAX(updated_at, ?), delete_reason = ?, revision = revision + 1,
			updated_at = MAX(updated_at, ?)
		WHERE id = ?
	`, now.UnixMilli(), reason, now.UnixMilli(), id); err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	if err := writeRevision(tx, id, revision+1, "delete", []byte(content), now); err != nil {
		return err
	}
	return tx.Commit()
}

// QueryArtifacts returns artifacts matching f, newest first unless
// f.Ascending is set.
func (db *DB) QueryArtifacts(f Filter) ([]*Artifact, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Sensitivity != "" {
		where = append(where, "sensitivity = ?")
		args = append(args, f.Sensitivity)
	}
	if f.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, f.Workflow)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, f.Until.UnixMilli())
	}
	if f.Text != "" {
		where = append(where, "content LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.Text)+"%")
	}
	if tags := normalizeTags(f.Tags); len(tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
		where = append(where, "id IN (SELECT artifact_id FROM artifact_tags WHERE tag IN ("+placeholders+"))")
		for _, t := range tags {
			args = append(args, t)
		}
	}
	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}

	q := `SELECT ` + artifactColumns + ` FROM artifacts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Ascending {
		q += " ORDER BY created_at ASC, id ASC"
	} else {
		q += " ORDER BY created_at DESC, id DESC"
	}
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			var me *malformedError
			if errors.As(err, &me) {
				if f.OnMalformed != nil {
					f.OnMalformed(me.id, me.err)
				}
				continue
			}
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Revisions returns the mutation log of an artifact, oldest first. It
// includes the revisions of deleted artifacts.
func (db *DB) Revisions(id string) ([]Revision, error) {
	rows, err := db.Query(`
		SELECT artifact_id, revision, op, content, created_at
		FROM artifact_revisions WHERE artifact_id = ? ORDER BY revision ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var (
			r       Revision
			content string
			created int64
		)
		if err := rows.Scan(&r.ArtifactID, &r.Revision, &r.Op, &content, &created); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		r.Content = json.RawMessage(content)
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound(id)
	}
	return out, nil
}

// malformedError marks a stored row whose content no longer decodes.
type malformedError struct {
	id  string
	err error
}

func (e *malformedError) Error() string { return fmt.Sprintf("malformed artifact %s: %v", e.id, e.err) }
func (e *malformedError) Unwrap() error { return e.err }

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*Artifact, error) {
	var (
		a                   Artifact
		workflow, delReason sql.NullString
		tags, content       string
		created, updated    int64
		deleted             sql.NullInt64
	)
	if err := s.Scan(&a.ID, &a.Type, &a.Sensitivity, &workflow, &tags, &content, &a.Revision,
		&created, &updated, &deleted, &delReason); err != nil {
		return nil, err
	}
	a.Workflow = workflow.String
	a.DeleteReason = delReason.String
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	if deleted.Valid {
		t := fromMillis(deleted.Int64)
		a.DeletedAt = &t
	}
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return nil, &malformedError{id: a.ID, err: fmt.Errorf("tags: %w", err)}
	}
	c, err := decodeContent(a.Type, []byte(content))
	if err != nil {
		return nil, &malformedError{id: a.ID, err: err}
	}
	a.Content = c
	return &a, nil
}

func writeTags(tx *sql.Tx, id string, tags []string) error {
	for _, t := range tags {
		if _, err := tx.Exec(`INSERT INTO artifact_tags (artifact_id, tag) VALUES (?, ?)`, id, t); err != nil {
			return fmt.Errorf("insert tag %q: %w", t, err)
		}
	}
	return nil
}

func writeRevision(tx *sql.Tx, id string, rev int, op string, content []byte, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO artifact_revisions (artifact_id, revision, op, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, rev, op, string(content), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("write revision %d of %s: %w", rev, id, err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
