package textutil

import (
	"strings"
	"testing"
)

// TestFoldValue verifies trimming plus case folding so that dedup keys and
// purchase identifiers compare equal regardless of case or edge whitespace.
func TestFoldValue(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"A@X.com ", "a@x.com"},
		{"  JOHN  ", "john"},
		{"john", "john"},
		{"", ""},
		{"   ", ""},
		{"Straße", "strasse"}, // ß folds to ss
	}
	for _, tc := range cases {
		if got := FoldValue(tc.in); got != tc.want {
			t.Errorf("FoldValue(%q)=%q; want %q", tc.in, got, tc.want)
		}
	}
}

// TestCompositeKey verifies part ordering and that empty parts keep their
// position, so ("a","") and ("","a") stay distinct.
func TestCompositeKey(t *testing.T) {
	t.Parallel()

	if got, want := CompositeKey([]string{"A ", "b"}), "a"+KeySeparator+"b"; got != want {
		t.Fatalf("CompositeKey=%q; want %q", got, want)
	}
	if CompositeKey([]string{"a", ""}) == CompositeKey([]string{"", "a"}) {
		t.Fatal("keys with swapped empty parts must differ")
	}
}

func TestNormalizeColumnName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"First Name", "first_name"},
		{"E-Mail", "e_mail"},
		{"Prénom", "prenom"},
		{"  zip.code  ", "zip_code"},
		{"__x__", "x"},
		{"###", "col"},
		{"Age2", "age2"},
	}
	for _, tc := range cases {
		if got := NormalizeColumnName(tc.in); got != tc.want {
			t.Errorf("NormalizeColumnName(%q)=%q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestHasEdgeSpace(t *testing.T) {
	t.Parallel()

	// Non-ASCII edges report true conservatively; the caller's TrimSpace
	// settles whether anything is actually trimmed.
	for _, s := range []string{" x", "x ", "\tx", "x\n", " ", " x", "x "} {
		if !HasEdgeSpace(s) {
			t.Errorf("HasEdgeSpace(%q)=false; want true", s)
		}
	}
	for _, s := range []string{"", "x", "a b", "a b"} {
		if HasEdgeSpace(s) {
			t.Errorf("HasEdgeSpace(%q)=true; want false", s)
		}
	}
	// Interior whitespace only is not edge space.
	if HasEdgeSpace(strings.Repeat("a", 3) + " " + "b") {
		t.Error("interior space misreported as edge space")
	}
}
