// Package ledger records which lead identifiers a user has purchased from a
// collection and answers fast membership questions for the filter engine's
// purchase exclusion. Writes are batched and at-least-once: a failed batch
// is logged and skipped, never allowed to block order completion.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"leadstore/internal/storage"
	"leadstore/internal/textutil"
)

// batchSize bounds one insert round-trip.
const batchSize = 1000

// Ledger layers normalization and batching policy over a LedgerStore.
type Ledger struct {
	store storage.LedgerStore
	log   *slog.Logger
	now   func() time.Time
}

// New builds a Ledger. log may be nil for a silent ledger (tests).
func New(store storage.LedgerStore, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Ledger{store: store, log: log, now: time.Now}
}

// Record inserts one purchase row per identifier, normalized (trimmed,
// case-folded), in batches. Duplicate rows are idempotent no-ops inside the
// store; any other batch failure is logged and that batch is skipped, so a
// flaky store costs at most batchSize rows per failure and the order flow
// never stalls. The returned count is rows handed to the store.
func (l *Ledger) Record(ctx context.Context, userID, collectionID, fileID, orderID string, identifiers []string, identifierType string) int {
	recorded := 0
	at := l.now()

	batch := make([]storage.Purchase, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.store.InsertPurchases(ctx, batch); err != nil {
			l.log.Warn("ledger: batch insert failed, skipping batch",
				"user", userID, "collection", collectionID,
				"rows", len(batch), "err", err)
		} else {
			recorded += len(batch)
		}
		batch = batch[:0]
	}

	for _, id := range identifiers {
		norm := textutil.FoldValue(id)
		if norm == "" {
			continue
		}
		batch = append(batch, storage.Purchase{
			UserID:         userID,
			CollectionID:   collectionID,
			FileID:         fileID,
			OrderID:        orderID,
			Identifier:     norm,
			IdentifierType: identifierType,
			PurchasedAt:    at,
		})
		if len(batch) >= batchSize {
			flush()
		}
	}
	flush()
	return recorded
}

// IsPurchased returns the subset of identifiers already purchased by the
// user from the collection. Inputs are normalized before the lookup; the
// returned values are the normalized forms.
func (l *Ledger) IsPurchased(ctx context.Context, userID, collectionID string, identifiers []string) ([]string, error) {
	norm := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if n := textutil.FoldValue(id); n != "" {
			norm = append(norm, n)
		}
	}
	return l.store.PurchasedAmong(ctx, userID, collectionID, norm)
}

// CountPurchased returns how many leads the user has purchased from the
// collection. Feeds the zero-filter fast path of the filter engine.
func (l *Ledger) CountPurchased(ctx context.Context, userID, collectionID string) (int, error) {
	return l.store.CountPurchases(ctx, userID, collectionID)
}

// ExclusionSet loads the full normalized identifier set for one
// (user, collection), for record-by-record exclusion during filtering.
func (l *Ledger) ExclusionSet(ctx context.Context, userID, collectionID string) (map[string]struct{}, error) {
	return l.store.AllPurchased(ctx, userID, collectionID)
}
