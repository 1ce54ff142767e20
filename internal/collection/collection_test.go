package collection

import (
	"errors"
	"reflect"
	"testing"
)

func sampleCollection() *Collection {
	return &Collection{
		ID:      "col-1",
		Name:    "US Consumers",
		OwnerID: "owner-1",
		Columns: []Column{
			{
				Name: "Email", Type: TypeEmail, ShowToClient: true,
				TableColumns: []TableColumn{
					{TableID: "t1", ColumnName: "email"},
					{TableID: "t2", ColumnName: "mail_address"},
				},
			},
			{
				Name: "Age", Type: TypeNumber,
				TableColumns: []TableColumn{{TableID: "t1", ColumnName: "age"}},
			},
			{
				Name: "State", Type: TypeText,
				TableColumns: []TableColumn{{TableID: "t2", ColumnName: "state"}},
			},
		},
	}
}

func TestTableIDs_Order(t *testing.T) {
	t.Parallel()

	got := sampleCollection().TableIDs()
	if want := []string{"t1", "t2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("TableIDs=%v; want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	c := sampleCollection()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	c.Columns = append(c.Columns, Column{Name: "Orphan", Type: TypeText})
	err := c.Validate()
	if !errors.Is(err, ErrColumnNotMapped) {
		t.Fatalf("err=%v; want ErrColumnNotMapped", err)
	}
}

// TestResolve_FirstMappingWins verifies the one-source-per-column policy and
// the partitioning of filters by table.
func TestResolve_FirstMappingWins(t *testing.T) {
	t.Parallel()

	spec := FilterSpec{
		"Email": {Values: []string{"a@x.com"}},
		"Age":   {Min: "30", Max: "40"},
	}
	got, err := Resolve(sampleCollection(), spec)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	// Email filters resolve to t1 (first mapping), not t2.
	t1 := got["t1"]
	if len(t1) != 2 {
		t.Fatalf("t1 filters=%d; want 2", len(t1))
	}
	if len(got["t2"]) != 0 {
		t.Fatalf("t2 filters=%v; want none", got["t2"])
	}
	byName := map[string]ColumnFilter{}
	for _, cf := range t1 {
		byName[cf.ColumnName] = cf
	}
	if cf, ok := byName["email"]; !ok || cf.ColumnType != TypeEmail {
		t.Fatalf("email filter=%+v", byName["email"])
	}
	if cf, ok := byName["age"]; !ok || cf.ColumnType != TypeNumber || cf.Condition.Min != "30" {
		t.Fatalf("age filter=%+v", byName["age"])
	}
}

// TestResolve_ConditionTypeOverride verifies the per-condition type escape
// hatch takes precedence over the column's declared type.
func TestResolve_ConditionTypeOverride(t *testing.T) {
	t.Parallel()

	spec := FilterSpec{"Age": {Min: "30", Type: TypeText}}
	got, err := Resolve(sampleCollection(), spec)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if cf := got["t1"][0]; cf.ColumnType != TypeText {
		t.Fatalf("ColumnType=%q; want override %q", cf.ColumnType, TypeText)
	}
}

func TestResolve_UnknownColumn(t *testing.T) {
	t.Parallel()

	_, err := Resolve(sampleCollection(), FilterSpec{"Nope": {Min: "1"}})
	if !errors.Is(err, ErrColumnNotMapped) {
		t.Fatalf("err=%v; want ErrColumnNotMapped", err)
	}
}

func TestResolveTarget(t *testing.T) {
	t.Parallel()

	got, err := ResolveTarget(sampleCollection(), "Email")
	if err != nil {
		t.Fatalf("ResolveTarget error: %v", err)
	}
	want := map[string]string{"t1": "email", "t2": "mail_address"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("targets=%v; want %v", got, want)
	}

	if _, err := ResolveTarget(sampleCollection(), "Nope"); !errors.Is(err, ErrColumnNotMapped) {
		t.Fatalf("err=%v; want ErrColumnNotMapped", err)
	}
}

func TestCondition_IsMembership(t *testing.T) {
	t.Parallel()

	if !(Condition{Values: []string{"x"}}).IsMembership() {
		t.Error("value set should be membership")
	}
	if (Condition{Min: "1", Max: "2"}).IsMembership() {
		t.Error("range should not be membership")
	}
}
