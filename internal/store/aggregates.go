package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SaveAggregate stores v as the JSON document named name, replacing any
// previous version.
func (db *DB) SaveAggregate(name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode aggregate %s: %w", name, err)
	}
	_, err = db.Exec(`
		INSERT INTO aggregates (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, name, string(body), db.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save aggregate %s: %w", name, err)
	}
	return nil
}

// LoadAggregate decodes the document named name into v. It returns false if
// no document has been saved yet.
func (db *DB) LoadAggregate(name string, v any) (bool, error) {
	var body string
	err := db.QueryRow(`SELECT body FROM aggregates WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load aggregate %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return false, fmt.Errorf("decode aggregate %s: %w", name, err)
	}
	return true, nil
}
