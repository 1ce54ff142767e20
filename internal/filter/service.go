package filter

import (
	"context"
	"fmt"

	"leadstore/internal/collection"
	"leadstore/internal/ledger"
	"leadstore/internal/storage"
)

// Query is the inbound request shape for both aggregation modes. An empty
// TargetColumn selects count mode.
type Query struct {
	CollectionID string                `json:"collectionId"`
	UserID       string                `json:"userId"`
	Filters      collection.FilterSpec `json:"filterSpec,omitempty"`
	TargetColumn string                `json:"targetColumn,omitempty"`
}

// Result is the outbound shape: Count alone for count mode, Values plus
// their count for distinct-values mode.
type Result struct {
	Count  int      `json:"count"`
	Values []string `json:"values,omitempty"`
}

// Service resolves a collection id, builds the requester's purchase
// exclusion, and runs the engine. It is the seam the web layer calls.
type Service struct {
	Engine      *Engine
	Collections storage.CollectionStore
	Ledger      *ledger.Ledger
}

// Run executes the query.
//
// The zero-filter count path never loads the exclusion set: the ledger's
// count is enough, and it keeps huge purchase histories off the heap.
func (s *Service) Run(ctx context.Context, q Query) (Result, error) {
	col, err := s.Collections.GetCollection(ctx, q.CollectionID)
	if err != nil {
		return Result{}, fmt.Errorf("load collection %s: %w", q.CollectionID, err)
	}
	if err := col.Validate(); err != nil {
		return Result{}, err
	}

	if q.TargetColumn == "" && len(q.Filters) == 0 {
		bought := 0
		if q.UserID != "" {
			if bought, err = s.Ledger.CountPurchased(ctx, q.UserID, q.CollectionID); err != nil {
				return Result{}, fmt.Errorf("count purchases: %w", err)
			}
		}
		n, err := s.Engine.countAll(ctx, col, bought)
		if err != nil {
			return Result{}, err
		}
		return Result{Count: n}, nil
	}

	var excluded map[string]struct{}
	if q.UserID != "" {
		if excluded, err = s.Ledger.ExclusionSet(ctx, q.UserID, q.CollectionID); err != nil {
			return Result{}, fmt.Errorf("load exclusion set: %w", err)
		}
	}

	if q.TargetColumn == "" {
		n, err := s.Engine.Count(ctx, col, q.Filters, excluded)
		if err != nil {
			return Result{}, err
		}
		return Result{Count: n}, nil
	}

	values, err := s.Engine.DistinctValues(ctx, col, q.Filters, q.TargetColumn, excluded)
	if err != nil {
		return Result{}, err
	}
	return Result{Count: len(values), Values: values}, nil
}
