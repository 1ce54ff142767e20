package filter

import (
	"strings"
	"testing"

	"leadstore/internal/collection"
)

func mustCompile(t *testing.T, cf collection.ColumnFilter) func(string) bool {
	t.Helper()
	eval, err := compile(cf)
	if err != nil {
		t.Fatalf("compile(%+v) error: %v", cf, err)
	}
	return eval
}

func TestCompile_Membership(t *testing.T) {
	t.Parallel()

	eval := mustCompile(t, collection.ColumnFilter{
		ColumnName: "state",
		ColumnType: collection.TypeText,
		Condition:  collection.Condition{Values: []string{"NY", "CA "}},
	})
	for v, want := range map[string]bool{
		"NY":  true,
		" NY": true, // record values are trimmed before lookup
		"CA":  true,
		"TX":  false,
	} {
		if got := eval(v); got != want {
			t.Errorf("membership(%q)=%v; want %v", v, got, want)
		}
	}
}

// TestCompile_NumberRange covers the canonical age-range query: min 30,
// max 40, numeric comparison rather than lexicographic.
func TestCompile_NumberRange(t *testing.T) {
	t.Parallel()

	eval := mustCompile(t, collection.ColumnFilter{
		ColumnName: "age",
		ColumnType: collection.TypeNumber,
		Condition:  collection.Condition{Min: "30", Max: "40"},
	})
	for v, want := range map[string]bool{
		"25":    false,
		"30":    true,
		"35":    true,
		"40":    true,
		"50":    false,
		"9":     false, // lexicographically > "30" but numerically below
		"300":   false,
		" 35 ":  true,
		"abc":   false, // non-numeric record value fails the filter
		"35.5":  true,
		"-10.5": false,
	} {
		if got := eval(v); got != want {
			t.Errorf("number(%q)=%v; want %v", v, got, want)
		}
	}
}

func TestCompile_NumberBadBound(t *testing.T) {
	t.Parallel()

	_, err := compile(collection.ColumnFilter{
		ColumnName: "age",
		ColumnType: collection.TypeNumber,
		Condition:  collection.Condition{Min: "thirty"},
	})
	if err == nil || !strings.Contains(err.Error(), "min") {
		t.Fatalf("err=%v; want bad min error", err)
	}
}

func TestCompile_DateRange(t *testing.T) {
	t.Parallel()

	eval := mustCompile(t, collection.ColumnFilter{
		ColumnName: "signup",
		ColumnType: collection.TypeDate,
		Condition:  collection.Condition{Min: "2024-01-01", Max: "2024-12-31"},
	})
	for v, want := range map[string]bool{
		"2024-06-15":           true,
		"06/15/2024":           true, // alternate layout
		"2023-12-31":           false,
		"2025-01-01":           false,
		"2024-01-01T00:00:00Z": true,
		"not a date":           false,
	} {
		if got := eval(v); got != want {
			t.Errorf("date(%q)=%v; want %v", v, got, want)
		}
	}
}

func TestCompile_TextRangeLexicographic(t *testing.T) {
	t.Parallel()

	eval := mustCompile(t, collection.ColumnFilter{
		ColumnName: "zip",
		ColumnType: collection.TypeZip,
		Condition:  collection.Condition{Min: "10000", Max: "19999"},
	})
	for v, want := range map[string]bool{
		"10001": true,
		"19999": true,
		"20000": false,
		"09999": false,
	} {
		if got := eval(v); got != want {
			t.Errorf("zip(%q)=%v; want %v", v, got, want)
		}
	}
}

// TestCompile_TextRangeTrimsBounds verifies range bounds are trimmed the
// same way record values are, so padded bounds compare on content.
func TestCompile_TextRangeTrimsBounds(t *testing.T) {
	t.Parallel()

	eval := mustCompile(t, collection.ColumnFilter{
		ColumnName: "zip",
		ColumnType: collection.TypeZip,
		Condition:  collection.Condition{Min: " 10000 ", Max: " 19999 "},
	})
	for v, want := range map[string]bool{
		"10001":   true,
		" 19999 ": true,
		"20000":   false,
		"09999":   false,
	} {
		if got := eval(v); got != want {
			t.Errorf("zip(%q)=%v; want %v", v, got, want)
		}
	}
}

// TestMatches verifies AND semantics and that missing or empty filtered
// columns fail the record.
func TestMatches(t *testing.T) {
	t.Parallel()

	always := func(string) bool { return true }
	never := func(string) bool { return false }

	rec := []string{"LEAD-1", "35", ""}
	cases := []struct {
		name    string
		filters []compiled
		want    bool
	}{
		{"no filters", nil, true},
		{"all pass", []compiled{{idx: 1, eval: always}}, true},
		{"one fails", []compiled{{idx: 1, eval: always}, {idx: 1, eval: never}}, false},
		{"column absent", []compiled{{idx: -1, eval: always}}, false},
		{"index past record", []compiled{{idx: 9, eval: always}}, false},
		{"empty value", []compiled{{idx: 2, eval: always}}, false},
	}
	for _, tc := range cases {
		if got := matches(rec, tc.filters); got != tc.want {
			t.Errorf("%s: matches=%v; want %v", tc.name, got, tc.want)
		}
	}
}
