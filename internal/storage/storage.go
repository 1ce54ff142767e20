// Package storage defines the persistent-store interfaces the engine is
// written against, plus the metadata records they exchange. Concrete
// backends live in subpackages (postgres, sqlite); the core never imports
// those directly; wiring happens in cmd.
package storage

import (
	"context"
	"errors"
	"time"

	"leadstore/internal/collection"
)

// ErrNotFound is returned when a keyed lookup matches nothing.
var ErrNotFound = errors.New("storage: not found")

// Table is the stored metadata of one ingested flat file. The file content
// itself lives in blob storage under FilePath. Immutable after ingestion
// except for rename and tag edits.
type Table struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Delimiter string    `json:"delimiter"` // boundary token: comma|semicolon|tab|pipe
	Columns   []string  `json:"columns"`   // first column is the lead identifier
	RowCount  int       `json:"rowCount"`
	Tags      []string  `json:"tags"`
	OwnerID   string    `json:"ownerId"`
	FilePath  string    `json:"filePath"`
	CreatedAt time.Time `json:"createdAt"`
}

// Purchase is one purchased-lead row of the ledger. Identifier is stored
// normalized (trimmed, case-folded); (UserID, CollectionID, Identifier) is
// logically unique and re-insertion is a no-op.
type Purchase struct {
	UserID         string
	CollectionID   string
	FileID         string
	OrderID        string
	Identifier     string
	IdentifierType string
	PurchasedAt    time.Time
}

// TableStore is CRUD over table metadata.
type TableStore interface {
	CreateTable(ctx context.Context, t *Table) error
	GetTable(ctx context.Context, id string) (*Table, error)
	// UpdateTable persists rename/tag/column/row-count edits.
	UpdateTable(ctx context.Context, t *Table) error
	DeleteTable(ctx context.Context, id string) error
	ListTables(ctx context.Context, ownerID string) ([]*Table, error)
}

// CollectionStore persists collection definitions so queries carrying only
// a collection id can be served.
type CollectionStore interface {
	SaveCollection(ctx context.Context, c *collection.Collection) error
	GetCollection(ctx context.Context, id string) (*collection.Collection, error)
}

// KeyIndex is the indexed lookup path for cross-store deduplication. Keys
// are normalized composite dedup keys, scoped by the owning user.
type KeyIndex interface {
	// AddKeys records keys for the owner; duplicates are ignored.
	AddKeys(ctx context.Context, ownerID string, keys []string) error
	// ExistingKeys returns the subset of keys already present for the owner.
	ExistingKeys(ctx context.Context, ownerID string, keys []string) (map[string]struct{}, error)
}

// LedgerStore is the persistence half of the purchase ledger. Batching,
// normalization, and the swallow-on-conflict policy live in the ledger
// package; implementations only need conflict-tolerant inserts.
type LedgerStore interface {
	// InsertPurchases inserts the batch; rows conflicting on the logical
	// key (user, collection, identifier) are silently skipped.
	InsertPurchases(ctx context.Context, recs []Purchase) error
	// PurchasedAmong returns the subset of ids already purchased.
	PurchasedAmong(ctx context.Context, userID, collectionID string, ids []string) ([]string, error)
	CountPurchases(ctx context.Context, userID, collectionID string) (int, error)
	// AllPurchased loads the full exclusion set for one (user, collection).
	AllPurchased(ctx context.Context, userID, collectionID string) (map[string]struct{}, error)
}

// Store bundles everything a fully wired deployment provides.
type Store interface {
	TableStore
	CollectionStore
	KeyIndex
	LedgerStore
}
