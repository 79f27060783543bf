package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetops/permit-ledger/internal/port"
)

// MySQLStore keeps each document as one row in a path-keyed table with a
// JSON payload column. AtomicUpdate maps to a single transaction.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// EnsureSchema creates the documents table when it does not exist.
func (m *MySQLStore) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			path VARCHAR(255) NOT NULL PRIMARY KEY,
			doc  JSON NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (m *MySQLStore) Get(ctx context.Context, path string, out any) error {
	var raw []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE path = ?`, path,
	).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", port.ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("query document: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (m *MySQLStore) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT path, doc FROM documents WHERE path LIKE CONCAT(?, '%')`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

func (m *MySQLStore) QueryByField(ctx context.Context, prefix, field string, value any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("query value: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT path, doc FROM documents
		WHERE path LIKE CONCAT(?, '%')
		  AND JSON_EXTRACT(doc, ?) = CAST(? AS JSON)`,
		prefix, "$."+field, string(raw))
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

func (m *MySQLStore) AtomicUpdate(ctx context.Context, updates map[string]any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for path, value := range updates {
		if value == nil {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE path = ?`, path); err != nil {
				return fmt.Errorf("delete %s: %w", path, err)
			}
			continue
		}

		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (path, doc) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE doc = VALUES(doc)`,
			path, raw); err != nil {
			return fmt.Errorf("upsert %s: %w", path, err)
		}
	}

	return tx.Commit()
}

func collectRows(rows *sql.Rows) (map[string]json.RawMessage, error) {
	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		result[path] = json.RawMessage(raw)
	}
	return result, rows.Err()
}
