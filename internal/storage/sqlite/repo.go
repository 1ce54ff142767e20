// Package sqlite implements storage.Store on SQLite via the pure-Go
// modernc driver. It is the zero-infrastructure backend for local runs and
// tests; list-valued fields are stored as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"leadstore/internal/collection"
	"leadstore/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS tables (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	delimiter   TEXT NOT NULL,
	columns     TEXT NOT NULL,
	row_count   INTEGER NOT NULL,
	tags        TEXT,
	owner_id    TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS tables_owner_idx ON tables (owner_id);

CREATE TABLE IF NOT EXISTS collections (
	id       TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	doc      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lead_keys (
	owner_id TEXT NOT NULL,
	key      TEXT NOT NULL,
	PRIMARY KEY (owner_id, key)
);

CREATE TABLE IF NOT EXISTS purchases (
	user_id         TEXT NOT NULL,
	collection_id   TEXT NOT NULL,
	file_id         TEXT,
	order_id        TEXT,
	lead_identifier TEXT NOT NULL,
	identifier_type TEXT,
	purchased_at    TEXT NOT NULL,
	UNIQUE (user_id, collection_id, lead_identifier)
);
CREATE INDEX IF NOT EXISTS purchases_user_coll_idx ON purchases (user_id, collection_id);
`

// Repo is a SQLite-backed storage.Store.
type Repo struct {
	db *sql.DB
}

var _ storage.Store = (*Repo)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// modernc's driver is not safe for concurrent writes on one connection
	// set beyond what SQLite itself serializes.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Repo{db: db}, nil
}

// Close closes the database.
func (r *Repo) Close() error { return r.db.Close() }

func encodeList(v []string) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	err := json.Unmarshal([]byte(s), &out)
	return out, err
}

func (r *Repo) CreateTable(ctx context.Context, t *storage.Table) error {
	cols, err := encodeList(t.Columns)
	if err != nil {
		return fmt.Errorf("sqlite: encode columns: %w", err)
	}
	tags, err := encodeList(t.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encode tags: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tables (id, name, delimiter, columns, row_count, tags, owner_id, file_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Delimiter, cols, t.RowCount, tags, t.OwnerID, t.FilePath,
		t.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", t.ID, err)
	}
	return nil
}

func scanTable(scan func(dest ...any) error) (*storage.Table, error) {
	var (
		t          storage.Table
		cols, tags string
		created    string
	)
	if err := scan(&t.ID, &t.Name, &t.Delimiter, &cols, &t.RowCount, &tags, &t.OwnerID, &t.FilePath, &created); err != nil {
		return nil, err
	}
	var err error
	if t.Columns, err = decodeList(cols); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	if t.Tags, err = decodeList(tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	return &t, nil
}

func (r *Repo) GetTable(ctx context.Context, id string) (*storage.Table, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, delimiter, columns, row_count, tags, owner_id, file_path, created_at
		FROM tables WHERE id = ?`, id)
	t, err := scanTable(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get table %s: %w", id, err)
	}
	return t, nil
}

func (r *Repo) UpdateTable(ctx context.Context, t *storage.Table) error {
	cols, err := encodeList(t.Columns)
	if err != nil {
		return fmt.Errorf("sqlite: encode columns: %w", err)
	}
	tags, err := encodeList(t.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encode tags: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE tables SET name = ?, delimiter = ?, columns = ?, row_count = ?, tags = ?, file_path = ?
		WHERE id = ?`,
		t.Name, t.Delimiter, cols, t.RowCount, tags, t.FilePath, t.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update table %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("table %s: %w", t.ID, storage.ErrNotFound)
	}
	return nil
}

func (r *Repo) DeleteTable(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tables WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete table %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("table %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (r *Repo) ListTables(ctx context.Context, ownerID string) ([]*storage.Table, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, delimiter, columns, row_count, tags, owner_id, file_path, created_at
		FROM tables WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tables: %w", err)
	}
	defer rows.Close()

	var out []*storage.Table
	for rows.Next() {
		t, err := scanTable(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) SaveCollection(ctx context.Context, c *collection.Collection) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlite: encode collection %s: %w", c.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO collections (id, owner_id, doc) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id, doc = excluded.doc`,
		c.ID, c.OwnerID, string(doc))
	if err != nil {
		return fmt.Errorf("sqlite: save collection %s: %w", c.ID, err)
	}
	return nil
}

func (r *Repo) GetCollection(ctx context.Context, id string) (*collection.Collection, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM collections WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get collection %s: %w", id, err)
	}
	var c collection.Collection
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("sqlite: decode collection %s: %w", id, err)
	}
	return &c, nil
}

func (r *Repo) AddKeys(ctx context.Context, ownerID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: add keys: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO lead_keys (owner_id, key) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: add keys: %w", err)
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, ownerID, k); err != nil {
			return fmt.Errorf("sqlite: add key: %w", err)
		}
	}
	return tx.Commit()
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (r *Repo) ExistingKeys(ctx context.Context, ownerID string, keys []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, ownerID)
	for _, k := range keys {
		args = append(args, k)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT key FROM lead_keys WHERE owner_id = ? AND key IN (`+placeholders(len(keys))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite: scan key: %w", err)
		}
		out[k] = struct{}{}
	}
	return out, rows.Err()
}

func (r *Repo) InsertPurchases(ctx context.Context, recs []storage.Purchase) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: insert purchases: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO purchases (user_id, collection_id, file_id, order_id, lead_identifier, identifier_type, purchased_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: insert purchases: %w", err)
	}
	defer stmt.Close()
	for _, rec := range recs {
		_, err := stmt.ExecContext(ctx,
			rec.UserID, rec.CollectionID, rec.FileID, rec.OrderID, rec.Identifier, rec.IdentifierType,
			rec.PurchasedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("sqlite: insert purchase: %w", err)
		}
	}
	return tx.Commit()
}

func (r *Repo) PurchasedAmong(ctx context.Context, userID, collectionID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, userID, collectionID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT lead_identifier FROM purchases
		WHERE user_id = ? AND collection_id = ? AND lead_identifier IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: purchased among: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan purchase: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repo) CountPurchases(ctx context.Context, userID, collectionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM purchases WHERE user_id = ? AND collection_id = ?`,
		userID, collectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count purchases: %w", err)
	}
	return n, nil
}

func (r *Repo) AllPurchased(ctx context.Context, userID, collectionID string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lead_identifier FROM purchases WHERE user_id = ? AND collection_id = ?`,
		userID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: all purchased: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan purchase: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
