// Package postgres implements storage.Store on PostgreSQL via pgx. It is
// the production backend: batched conflict-tolerant inserts carry the key
// index and the purchase ledger, ANY() lookups serve the membership probes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadstore/internal/collection"
	"leadstore/internal/storage"
)

// schema is applied on Open. Idempotent; no migration machinery for now.
const schema = `
CREATE TABLE IF NOT EXISTS tables (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	delimiter   TEXT NOT NULL,
	columns     TEXT[] NOT NULL,
	row_count   INTEGER NOT NULL,
	tags        TEXT[],
	owner_id    TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tables_owner_idx ON tables (owner_id);

CREATE TABLE IF NOT EXISTS collections (
	id       TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	doc      JSONB NOT NULL
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
	purchased_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, collection_id, lead_identifier)
);
CREATE INDEX IF NOT EXISTS purchases_user_coll_idx ON purchases (user_id, collection_id);
`

// Repo is a PostgreSQL-backed storage.Store.
type Repo struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Repo)(nil)

// Open connects to dsn, applies the schema, and returns the repo.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Close releases the pool.
func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) CreateTable(ctx context.Context, t *storage.Table) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tables (id, name, delimiter, columns, row_count, tags, owner_id, file_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.Delimiter, t.Columns, t.RowCount, t.Tags, t.OwnerID, t.FilePath, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create table %s: %w", t.ID, err)
	}
	return nil
}

func (r *Repo) GetTable(ctx context.Context, id string) (*storage.Table, error) {
	var t storage.Table
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, delimiter, columns, row_count, tags, owner_id, file_path, created_at
		FROM tables WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Delimiter, &t.Columns, &t.RowCount, &t.Tags, &t.OwnerID, &t.FilePath, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("table %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get table %s: %w", id, err)
	}
	return &t, nil
}

func (r *Repo) UpdateTable(ctx context.Context, t *storage.Table) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tables SET name = $2, delimiter = $3, columns = $4, row_count = $5, tags = $6, file_path = $7
		WHERE id = $1`,
		t.ID, t.Name, t.Delimiter, t.Columns, t.RowCount, t.Tags, t.FilePath)
	if err != nil {
		return fmt.Errorf("postgres: update table %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("table %s: %w", t.ID, storage.ErrNotFound)
	}
	return nil
}

func (r *Repo) DeleteTable(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tables WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete table %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("table %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (r *Repo) ListTables(ctx context.Context, ownerID string) ([]*storage.Table, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, delimiter, columns, row_count, tags, owner_id, file_path, created_at
		FROM tables WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	defer rows.Close()

	var out []*storage.Table
	for rows.Next() {
		var t storage.Table
		if err := rows.Scan(&t.ID, &t.Name, &t.Delimiter, &t.Columns, &t.RowCount, &t.Tags, &t.OwnerID, &t.FilePath, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan table: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *Repo) SaveCollection(ctx context.Context, c *collection.Collection) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("postgres: encode collection %s: %w", c.ID, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO collections (id, owner_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, doc = EXCLUDED.doc`,
		c.ID, c.OwnerID, doc)
	if err != nil {
		return fmt.Errorf("postgres: save collection %s: %w", c.ID, err)
	}
	return nil
}

func (r *Repo) GetCollection(ctx context.Context, id string) (*collection.Collection, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM collections WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("collection %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get collection %s: %w", id, err)
	}
	var c collection.Collection
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("postgres: decode collection %s: %w", id, err)
	}
	return &c, nil
}

func (r *Repo) AddKeys(ctx context.Context, ownerID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(`INSERT INTO lead_keys (owner_id, key) VALUES ($1, $2) ON CONFLICT DO NOTHING`, ownerID, k)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: add keys: %w", err)
	}
	return nil
}

func (r *Repo) ExistingKeys(ctx context.Context, ownerID string, keys []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT key FROM lead_keys WHERE owner_id = $1 AND key = ANY($2)`, ownerID, keys)
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres: scan key: %w", err)
		}
		out[k] = struct{}{}
	}
	return out, rows.Err()
}

func (r *Repo) InsertPurchases(ctx context.Context, recs []storage.Purchase) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(`
			INSERT INTO purchases (user_id, collection_id, file_id, order_id, lead_identifier, identifier_type, purchased_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, collection_id, lead_identifier) DO NOTHING`,
			rec.UserID, rec.CollectionID, rec.FileID, rec.OrderID, rec.Identifier, rec.IdentifierType, rec.PurchasedAt)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert purchases: %w", err)
	}
	return nil
}

func (r *Repo) PurchasedAmong(ctx context.Context, userID, collectionID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT lead_identifier FROM purchases
		WHERE user_id = $1 AND collection_id = $2 AND lead_identifier = ANY($3)`,
		userID, collectionID, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: purchased among: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan purchase: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repo) CountPurchases(ctx context.Context, userID, collectionID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM purchases WHERE user_id = $1 AND collection_id = $2`,
		userID, collectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count purchases: %w", err)
	}
	return n, nil
}

func (r *Repo) AllPurchased(ctx context.Context, userID, collectionID string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lead_identifier FROM purchases WHERE user_id = $1 AND collection_id = $2`,
		userID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: all purchased: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan purchase: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
