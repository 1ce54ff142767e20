// Package collection models the virtual schema sold to buyers: a Collection
// of abstract, typed Columns, each backed by one or more physical table
// columns. The resolver turns a per-query FilterSpec keyed by abstract
// column names into per-table physical filters.
package collection

import (
	"errors"
	"fmt"
)

// Column value types understood by the filter engine.
const (
	TypeText   = "text"
	TypeNumber = "number"
	TypeZip    = "zip"
	TypeDate   = "date"
	TypeEmail  = "email"
)

// ErrColumnNotMapped reports a filter that references a column the
// collection does not expose, or one with no table mapping. It is a client
// error raised before any file stream is opened.
var ErrColumnNotMapped = errors.New("collection: column not mapped")

// TableColumn points an abstract column at the physical column of one table.
type TableColumn struct {
	TableID    string `json:"tableId"`
	ColumnName string `json:"columnName"`
}

// Column is one abstract, typed field of a collection. Multiple TableColumns
// are alternatives across different tables, never multiple values per record.
type Column struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	ShowToClient bool          `json:"showToClient"`
	Fee          float64       `json:"fee,omitempty"`
	TableColumns []TableColumn `json:"tableColumns"`
}

// Collection is a virtual schema over one or more tables.
type Collection struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	OwnerID string   `json:"ownerId"`
	Columns []Column `json:"columns"`
}

// Column returns the named abstract column, nil when absent.
func (c *Collection) Column(name string) *Column {
	for i := range c.Columns {
		if c.Columns[i].Name == name {
			return &c.Columns[i]
		}
	}
	return nil
}

// TableIDs returns the distinct table ids referenced by the collection, in
// first-appearance order.
func (c *Collection) TableIDs() []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, col := range c.Columns {
		for _, tc := range col.TableColumns {
			if _, ok := seen[tc.TableID]; !ok {
				seen[tc.TableID] = struct{}{}
				ids = append(ids, tc.TableID)
			}
		}
	}
	return ids
}

// Validate checks the queryability invariant: every column resolves to at
// least one table column.
func (c *Collection) Validate() error {
	for _, col := range c.Columns {
		if len(col.TableColumns) == 0 {
			return fmt.Errorf("%w: %q has no table mapping", ErrColumnNotMapped, col.Name)
		}
	}
	return nil
}

// Condition is one typed filter over an abstract column: either a value set
// (membership) or a min/max range interpreted per Type.
type Condition struct {
	Values []string `json:"values,omitempty"`
	Min    string   `json:"min,omitempty"`
	Max    string   `json:"max,omitempty"`
	Type   string   `json:"type,omitempty"`
}

// IsMembership reports whether the condition is a value-set filter.
func (c Condition) IsMembership() bool { return len(c.Values) > 0 }

// FilterSpec maps abstract column names to conditions. Produced per query,
// never persisted.
type FilterSpec map[string]Condition

// ColumnFilter is a condition bound to a physical column of one table.
type ColumnFilter struct {
	ColumnName string
	ColumnType string
	Condition  Condition
}

// Resolve maps every filtered abstract column to its first table mapping
// and partitions the result by table id, so the filter engine can process
// one table file at a time.
//
// Current policy: one physical source per column per query; the first
// TableColumns entry wins. Later entries are alternatives for queries
// scoped elsewhere.
func Resolve(c *Collection, spec FilterSpec) (map[string][]ColumnFilter, error) {
	out := make(map[string][]ColumnFilter, len(spec))
	for name, cond := range spec {
		col := c.Column(name)
		if col == nil {
			return nil, fmt.Errorf("%w: %q is not a column of collection %s", ErrColumnNotMapped, name, c.ID)
		}
		if len(col.TableColumns) == 0 {
			return nil, fmt.Errorf("%w: %q has no table mapping", ErrColumnNotMapped, name)
		}
		tc := col.TableColumns[0]
		typ := cond.Type
		if typ == "" {
			typ = col.Type
		}
		out[tc.TableID] = append(out[tc.TableID], ColumnFilter{
			ColumnName: tc.ColumnName,
			ColumnType: typ,
			Condition:  cond,
		})
	}
	return out, nil
}

// ResolveTarget maps the abstract target column of a distinct-values query
// to its physical (table, column) pairs: one entry per table that supplies
// the column, keyed by table id.
func ResolveTarget(c *Collection, name string) (map[string]string, error) {
	col := c.Column(name)
	if col == nil || len(col.TableColumns) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotMapped, name)
	}
	out := make(map[string]string, len(col.TableColumns))
	for _, tc := range col.TableColumns {
		if _, ok := out[tc.TableID]; !ok {
			out[tc.TableID] = tc.ColumnName
		}
	}
	return out, nil
}
