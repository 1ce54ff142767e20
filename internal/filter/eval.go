package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"leadstore/internal/collection"
)

// dateLayouts are tried in order when parsing date-typed values. The first
// layout that accepts the value wins.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// compiled is one filter condition bound to a physical column position and
// reduced to a pure value predicate. Compilation happens once per table
// file; evaluation runs per record and must not allocate.
type compiled struct {
	column string
	idx    int // position in the table header, -1 when absent
	eval   func(string) bool
}

// compile turns a ColumnFilter into a predicate. Invalid range bounds are a
// request error, reported here so the query fails before any stream opens.
func compile(cf collection.ColumnFilter) (func(string) bool, error) {
	cond := cf.Condition

	if cond.IsMembership() {
		set := make(map[string]struct{}, len(cond.Values))
		for _, v := range cond.Values {
			set[strings.TrimSpace(v)] = struct{}{}
		}
		return func(v string) bool {
			_, ok := set[strings.TrimSpace(v)]
			return ok
		}, nil
	}

	switch cf.ColumnType {
	case collection.TypeNumber:
		var min, max float64
		hasMin, hasMax := cond.Min != "", cond.Max != ""
		var err error
		if hasMin {
			if min, err = strconv.ParseFloat(strings.TrimSpace(cond.Min), 64); err != nil {
				return nil, fmt.Errorf("filter: bad numeric min %q for %s", cond.Min, cf.ColumnName)
			}
		}
		if hasMax {
			if max, err = strconv.ParseFloat(strings.TrimSpace(cond.Max), 64); err != nil {
				return nil, fmt.Errorf("filter: bad numeric max %q for %s", cond.Max, cf.ColumnName)
			}
		}
		return func(v string) bool {
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return false // non-numeric value fails the filter, not the query
			}
			if hasMin && n < min {
				return false
			}
			if hasMax && n > max {
				return false
			}
			return true
		}, nil

	case collection.TypeDate:
		var min, max time.Time
		hasMin, hasMax := cond.Min != "", cond.Max != ""
		if hasMin {
			t, ok := parseDate(cond.Min)
			if !ok {
				return nil, fmt.Errorf("filter: bad date min %q for %s", cond.Min, cf.ColumnName)
			}
			min = t
		}
		if hasMax {
			t, ok := parseDate(cond.Max)
			if !ok {
				return nil, fmt.Errorf("filter: bad date max %q for %s", cond.Max, cf.ColumnName)
			}
			max = t
		}
		return func(v string) bool {
			t, ok := parseDate(v)
			if !ok {
				return false
			}
			if hasMin && t.Before(min) {
				return false
			}
			if hasMax && t.After(max) {
				return false
			}
			return true
		}, nil

	default:
		// text, zip, email: lexicographic comparison, both sides trimmed.
		min, max := strings.TrimSpace(cond.Min), strings.TrimSpace(cond.Max)
		hasMin, hasMax := min != "", max != ""
		return func(v string) bool {
			v = strings.TrimSpace(v)
			if hasMin && v < min {
				return false
			}
			if hasMax && v > max {
				return false
			}
			return true
		}, nil
	}
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// matches evaluates all compiled conditions against one record (logical
// AND). A record missing, or empty, in a filtered column fails that filter
// unconditionally.
func matches(rec []string, filters []compiled) bool {
	for _, f := range filters {
		if f.idx < 0 || f.idx >= len(rec) {
			return false
		}
		v := rec[f.idx]
		if strings.TrimSpace(v) == "" {
			return false
		}
		if !f.eval(v) {
			return false
		}
	}
	return true
}
