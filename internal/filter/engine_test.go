package filter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"reflect"
	"sync/atomic"
	"testing"

	"leadstore/internal/collection"
	"leadstore/internal/ledger"
	"leadstore/internal/storage"
)

// memBlob is an in-memory blob.Store that counts opens.
type memBlob struct {
	files map[string][]byte
	opens atomic.Int64
}

func newMemBlob() *memBlob { return &memBlob{files: make(map[string][]byte)} }

func (m *memBlob) Open(_ context.Context, path string) (io.ReadCloser, error) {
	m.opens.Add(1)
	b, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: file missing", path)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Create(_ context.Context, path string) (io.WriteCloser, error) {
	return &memWriter{store: m, path: path}, nil
}

func (m *memBlob) Delete(_ context.Context, path string) error {
	delete(m.files, path)
	return nil
}

type memWriter struct {
	store *memBlob
	path  string
	buf   bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.store.files[w.path] = w.buf.Bytes()
	return nil
}

// memTables is an in-memory storage.TableStore.
type memTables struct {
	tables map[string]*storage.Table
}

func newMemTables(ts ...*storage.Table) *memTables {
	m := &memTables{tables: make(map[string]*storage.Table)}
	for _, t := range ts {
		m.tables[t.ID] = t
	}
	return m
}

func (m *memTables) CreateTable(_ context.Context, t *storage.Table) error {
	m.tables[t.ID] = t
	return nil
}

func (m *memTables) GetTable(_ context.Context, id string) (*storage.Table, error) {
	t, ok := m.tables[id]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

func (m *memTables) UpdateTable(_ context.Context, t *storage.Table) error {
	m.tables[t.ID] = t
	return nil
}

func (m *memTables) DeleteTable(_ context.Context, id string) error {
	delete(m.tables, id)
	return nil
}

func (m *memTables) ListTables(_ context.Context, ownerID string) ([]*storage.Table, error) {
	var out []*storage.Table
	for _, t := range m.tables {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

// fixture builds one ten-row consumer table and the collection over it.
func fixture() (*memBlob, *memTables, *collection.Collection) {
	b := newMemBlob()
	b.files["tables/t1/final.csv"] = []byte(
		"lead_id,email,age,state\n" +
			"LEAD-1,a@x.com,35,NY\n" +
			"LEAD-2,b@x.com,22,CA\n" +
			"LEAD-3,c@x.com,40,NY\n" +
			"LEAD-4,d@x.com,55,TX\n" +
			"LEAD-5,e@x.com,29,CA\n" +
			"LEAD-6,f@x.com,61,NY\n" +
			"LEAD-7,g@x.com,18,TX\n" +
			"LEAD-8,h@x.com,47,CA\n" +
			"LEAD-9,i@x.com,26,NY\n" +
			"LEAD-10,j@x.com,70,FL\n")

	tables := newMemTables(&storage.Table{
		ID:        "t1",
		Name:      "consumers",
		Delimiter: "comma",
		Columns:   []string{"lead_id", "email", "age", "state"},
		RowCount:  10,
		OwnerID:   "owner-1",
		FilePath:  "tables/t1/final.csv",
	})

	col := &collection.Collection{
		ID:      "col-1",
		Name:    "US Consumers",
		OwnerID: "owner-1",
		Columns: []collection.Column{
			{Name: "Age", Type: collection.TypeNumber,
				TableColumns: []collection.TableColumn{{TableID: "t1", ColumnName: "age"}}},
			{Name: "State", Type: collection.TypeText,
				TableColumns: []collection.TableColumn{{TableID: "t1", ColumnName: "state"}}},
		},
	}
	return b, tables, col
}

// TestCount_ZeroFilterUsesMetadata verifies the fast path: no file is
// opened, the answer comes from row counts minus the exclusion size.
func TestCount_ZeroFilterUsesMetadata(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	e := NewEngine(b, tables, nil)

	excluded := map[string]struct{}{"lead-3": {}}
	got, err := e.Count(context.Background(), col, nil, excluded)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if got != 9 {
		t.Fatalf("count=%d; want 9", got)
	}
	if n := b.opens.Load(); n != 0 {
		t.Fatalf("zero-filter count opened %d files; want 0", n)
	}
}

func TestCount_NumberRange(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	e := NewEngine(b, tables, nil)

	spec := collection.FilterSpec{"Age": {Min: "30", Max: "40"}}
	got, err := e.Count(context.Background(), col, spec, nil)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if got != 2 { // ages 35 and 40
		t.Fatalf("count=%d; want 2", got)
	}
}

// TestCount_ExclusionApplied verifies that purchased leads never match even
// when they satisfy every filter.
func TestCount_ExclusionApplied(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	e := NewEngine(b, tables, nil)

	spec := collection.FilterSpec{"Age": {Min: "30", Max: "40"}}
	excluded := map[string]struct{}{"lead-1": {}} // age 35, would match
	got, err := e.Count(context.Background(), col, spec, excluded)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if got != 1 {
		t.Fatalf("count=%d; want 1", got)
	}
}

// TestCount_ExclusionIdentifierNotFirst verifies purchased leads are
// excluded even when the identifier column is not the first column of the
// file, as happens with uploads that already carried their own lead_id.
func TestCount_ExclusionIdentifierNotFirst(t *testing.T) {
	t.Parallel()

	b := newMemBlob()
	b.files["tables/t3/final.csv"] = []byte(
		"email,lead_id\n" +
			"a@x.com,LEAD-1\n" +
			"b@x.com,LEAD-2\n" +
			"c@x.com,LEAD-3\n")
	tables := newMemTables(&storage.Table{
		ID: "t3", Delimiter: "comma",
		Columns: []string{"email", "lead_id"}, RowCount: 3,
		FilePath: "tables/t3/final.csv",
	})
	col := &collection.Collection{
		ID: "col-3",
		Columns: []collection.Column{
			{Name: "Email", Type: collection.TypeText,
				TableColumns: []collection.TableColumn{{TableID: "t3", ColumnName: "email"}}},
		},
	}

	e := NewEngine(b, tables, nil)
	spec := collection.FilterSpec{"Email": {Min: "a"}} // matches every row
	excluded := map[string]struct{}{"lead-1": {}}
	got, err := e.Count(context.Background(), col, spec, excluded)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if got != 2 {
		t.Fatalf("count=%d; want 2", got)
	}
}

// TestCount_HeaderNamesNormalized verifies filters bind to header text
// through column-name normalization, so "E-Mail" in the file serves a
// filter on "e_mail".
func TestCount_HeaderNamesNormalized(t *testing.T) {
	t.Parallel()

	b := newMemBlob()
	b.files["tables/t4/final.csv"] = []byte(
		"lead_id,E-Mail\n" +
			"LEAD-1,a@x.com\n" +
			"LEAD-2,b@x.com\n" +
			"LEAD-3,c@x.com\n")
	tables := newMemTables(&storage.Table{
		ID: "t4", Delimiter: "comma",
		Columns: []string{"lead_id", "E-Mail"}, RowCount: 3,
		FilePath: "tables/t4/final.csv",
	})
	col := &collection.Collection{
		ID: "col-4",
		Columns: []collection.Column{
			{Name: "Email", Type: collection.TypeText,
				TableColumns: []collection.TableColumn{{TableID: "t4", ColumnName: "e_mail"}}},
		},
	}

	e := NewEngine(b, tables, nil)
	spec := collection.FilterSpec{"Email": {Values: []string{"a@x.com", "c@x.com"}}}
	got, err := e.Count(context.Background(), col, spec, nil)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if got != 2 {
		t.Fatalf("count=%d; want 2", got)
	}
}

// TestCount_Monotonic verifies adding a filter can only shrink the result.
func TestCount_Monotonic(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	e := NewEngine(b, tables, nil)
	ctx := context.Background()

	base, err := e.Count(ctx, col, collection.FilterSpec{"Age": {Min: "20"}}, nil)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	narrowed, err := e.Count(ctx, col, collection.FilterSpec{
		"Age":   {Min: "20"},
		"State": {Values: []string{"NY"}},
	}, nil)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if narrowed > base {
		t.Fatalf("narrowed=%d > base=%d", narrowed, base)
	}
}

func TestDistinctValues(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	e := NewEngine(b, tables, nil)

	spec := collection.FilterSpec{"Age": {Min: "30"}}
	got, err := e.DistinctValues(context.Background(), col, spec, "State", nil)
	if err != nil {
		t.Fatalf("DistinctValues error: %v", err)
	}
	// Ages >= 30: NY(35), NY(40), TX(55), NY(61), CA(47), FL(70).
	if want := []string{"CA", "FL", "NY", "TX"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("values=%v; want %v", got, want)
	}
}

// TestCount_SkipsUnreadableTable verifies degradation: a table whose file is
// gone contributes nothing instead of failing the query.
func TestCount_SkipsUnreadableTable(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	tables.tables["t2"] = &storage.Table{
		ID: "t2", Delimiter: "comma",
		Columns: []string{"lead_id", "age"}, RowCount: 5,
		FilePath: "tables/t2/missing.csv",
	}
	col.Columns[0].TableColumns = append(col.Columns[0].TableColumns,
		collection.TableColumn{TableID: "t2", ColumnName: "age"})

	e := NewEngine(b, tables, nil)
	got, err := e.Count(context.Background(), col, collection.FilterSpec{"Age": {Min: "30", Max: "40"}}, nil)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if got != 2 {
		t.Fatalf("count=%d; want 2 from the readable table", got)
	}
}

func TestCount_BadFilterColumn(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	e := NewEngine(b, tables, nil)

	_, err := e.Count(context.Background(), col, collection.FilterSpec{"Nope": {Min: "1"}}, nil)
	if err == nil {
		t.Fatal("expected resolve error for unknown column")
	}
}

// fakeLedgerStore backs the service tests.
type fakeLedgerStore struct {
	purchased map[string]struct{}
}

func (f *fakeLedgerStore) InsertPurchases(context.Context, []storage.Purchase) error { return nil }

func (f *fakeLedgerStore) PurchasedAmong(_ context.Context, _, _ string, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		if _, ok := f.purchased[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeLedgerStore) CountPurchases(context.Context, string, string) (int, error) {
	return len(f.purchased), nil
}

func (f *fakeLedgerStore) AllPurchased(context.Context, string, string) (map[string]struct{}, error) {
	return f.purchased, nil
}

type memCollections struct {
	cols map[string]*collection.Collection
}

func (m *memCollections) SaveCollection(_ context.Context, c *collection.Collection) error {
	m.cols[c.ID] = c
	return nil
}

func (m *memCollections) GetCollection(_ context.Context, id string) (*collection.Collection, error) {
	c, ok := m.cols[id]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

func newService(b *memBlob, tables *memTables, col *collection.Collection, purchased ...string) *Service {
	set := make(map[string]struct{})
	for _, p := range purchased {
		set[p] = struct{}{}
	}
	return &Service{
		Engine:      NewEngine(b, tables, nil),
		Collections: &memCollections{cols: map[string]*collection.Collection{col.ID: col}},
		Ledger:      ledger.New(&fakeLedgerStore{purchased: set}, nil),
	}
}

// TestService_ZeroFilterCount verifies the ledger-count fast path: ten rows
// minus one purchase is nine, with no file stream.
func TestService_ZeroFilterCount(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	svc := newService(b, tables, col, "lead-7")

	res, err := svc.Run(context.Background(), Query{CollectionID: "col-1", UserID: "u1"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Count != 9 {
		t.Fatalf("count=%d; want 9", res.Count)
	}
	if n := b.opens.Load(); n != 0 {
		t.Fatalf("zero-filter query opened %d files; want 0", n)
	}
}

func TestService_FilteredCountWithExclusion(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	svc := newService(b, tables, col, "lead-1") // age 35

	res, err := svc.Run(context.Background(), Query{
		CollectionID: "col-1",
		UserID:       "u1",
		Filters:      collection.FilterSpec{"Age": {Min: "30", Max: "40"}},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Count != 1 {
		t.Fatalf("count=%d; want 1", res.Count)
	}
}

func TestService_DistinctValues(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	svc := newService(b, tables, col)

	res, err := svc.Run(context.Background(), Query{
		CollectionID: "col-1",
		TargetColumn: "State",
		Filters:      collection.FilterSpec{"Age": {Min: "30"}},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if want := []string{"CA", "FL", "NY", "TX"}; !reflect.DeepEqual(res.Values, want) {
		t.Fatalf("values=%v; want %v", res.Values, want)
	}
	if res.Count != len(res.Values) {
		t.Fatalf("Count=%d; want %d", res.Count, len(res.Values))
	}
}

func TestService_UnknownCollection(t *testing.T) {
	t.Parallel()

	b, tables, col := fixture()
	svc := newService(b, tables, col)

	if _, err := svc.Run(context.Background(), Query{CollectionID: "nope"}); err == nil {
		t.Fatal("expected error for unknown collection")
	}
}
