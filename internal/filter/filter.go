// Package filter holds the list filter and turns it into the bills query.
package filter

import (
	"net/url"
	"sort"
	"strings"

	"billtrack/internal/core"
)

// DefaultDays is the length of the default date window, today included.
const DefaultDays = 7

// State is the current filter. An empty Types set means no type
// restriction; an empty Categories set means no category restriction.
// The date range is inclusive and only applied when both bounds are set.
type State struct {
	Types      []core.BillType
	Categories []string
	Start      core.Date
	End        core.Date
}

// Default returns the filter shown on startup: every type and category,
// the last week through today.
func Default(today core.Date) State {
	return State{Start: today.AddDays(-(DefaultDays - 1)), End: today}
}

// HasRange reports whether both bounds are set.
func (s State) HasRange() bool {
	return !s.Start.IsZero() && !s.End.IsZero()
}

// ActiveTypes returns the selected types, or every type when none is selected,
// in canonical order.
func (s State) ActiveTypes() []core.BillType {
	if len(s.Types) == 0 {
		return core.BillTypes()
	}
	var out []core.BillType
	for _, t := range core.BillTypes() {
		if s.HasType(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s State) HasType(t core.BillType) bool {
	for _, v := range s.Types {
		if v == t {
			return true
		}
	}
	return false
}

// Normalized returns a copy with duplicates removed, invalid types dropped
// and both sets sorted.
func (s State) Normalized() State {
	out := State{Start: s.Start, End: s.End}

	seenType := map[core.BillType]bool{}
	for _, t := range s.Types {
		if t.Valid() && !seenType[t] {
			seenType[t] = true
			out.Types = append(out.Types, t)
		}
	}
	sort.Slice(out.Types, func(i, j int) bool { return out.Types[i] < out.Types[j] })

	seenCat := map[string]bool{}
	for _, c := range s.Categories {
		c = strings.TrimSpace(c)
		if c != "" && !seenCat[c] {
			seenCat[c] = true
			out.Categories = append(out.Categories, c)
		}
	}
	sort.Strings(out.Categories)
	return out
}

// PruneCategories drops categories that belong to none of the active types.
func (s State) PruneCategories() State {
	active := s.ActiveTypes()
	kept := s.Categories[:0:0]
	for _, c := range s.Categories {
		for _, t := range active {
			if t.HasCategory(c) {
				kept = append(kept, c)
				break
			}
		}
	}
	s.Categories = kept
	return s
}

// Query renders the filter as bills query parameters. Types and categories
// are comma-joined in sorted order and omitted when empty.
func Query(s State) url.Values {
	s = s.Normalized()
	q := url.Values{}
	if len(s.Types) > 0 {
		types := make([]string, len(s.Types))
		for i, t := range s.Types {
			types[i] = string(t)
		}
		q.Set("type", strings.Join(types, ","))
	}
	if len(s.Categories) > 0 {
		q.Set("category", strings.Join(s.Categories, ","))
	}
	if s.HasRange() {
		q.Set("date_after", s.Start.String())
		q.Set("date_before", s.End.String())
	}
	return q
}
