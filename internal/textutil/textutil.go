// Package textutil holds the normalization helpers shared by the ingestion
// and query paths. Column names are folded to lowercase ASCII identifiers;
// record values used as dedup keys or purchase identifiers are trimmed and
// case-folded so that "A@X.com " and "a@x.com" compare equal.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// FoldValue normalizes a record value for keying: trims surrounding
// whitespace and case-folds the rest. Used for dedup keys and purchase
// identifiers; both sides of a comparison must go through this.
func FoldValue(s string) string {
	if HasEdgeSpace(s) {
		s = strings.TrimSpace(s)
	}
	return foldCaser.String(s)
}

// KeySeparator joins the parts of a composite dedup key. It is a control
// character so legitimate field values cannot collide with a joined key.
const KeySeparator = "\x1f"

// CompositeKey builds the normalized composite key from the given values in
// order. Empty parts are kept so ("a","") and ("","a") remain distinct.
func CompositeKey(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = FoldValue(v)
	}
	return strings.Join(parts, KeySeparator)
}

// NormalizeColumnName converts arbitrary header text into a lowercase ASCII
// identifier:
//  1. lowercase
//  2. strip accents (NFD → remove Mn → NFC)
//  3. keep [a-z0-9_]; convert space/dash/dot to underscore; drop others
//  4. fallback to "col" if empty
func NormalizeColumnName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	// Decompose → remove nonspacing marks (accents) → recompose.
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
			prevUnderscore = false
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "col"
	}
	return out
}

// HasEdgeSpace reports whether s may start or end with whitespace. A cheap
// byte check that lets hot loops skip strings.TrimSpace: a printable ASCII
// byte at both edges proves there is nothing to trim; control bytes and
// non-ASCII edges report true and the caller falls back to TrimSpace.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return first <= ' ' || first >= utf8.RuneSelf || last <= ' ' || last >= utf8.RuneSelf
}
