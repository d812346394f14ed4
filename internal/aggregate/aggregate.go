// Package aggregate derives the chart views from a bill snapshot. Every
// function is pure: callers pass the snapshot and the filter in use.
package aggregate

import (
	"github.com/shopspring/decimal"

	"billtrack/internal/core"
	"billtrack/internal/filter"
)

// ByCategory sums amounts per category of every active type. Categories
// without bills appear with zero; income categories come before expense
// categories, each in canonical order.
func ByCategory(bills []core.Bill, s filter.State) []core.CategoryTotal {
	types := s.ActiveTypes()

	type key struct {
		t core.BillType
		c string
	}
	sums := make(map[key]decimal.Decimal)
	var out []core.CategoryTotal
	for _, t := range types {
		for _, c := range t.Categories() {
			sums[key{t, c.Code}] = decimal.Zero
			out = append(out, core.CategoryTotal{Type: t, Category: c.Code, Label: c.Label})
		}
	}

	for _, b := range bills {
		k := key{b.Type, b.Category}
		if sum, ok := sums[k]; ok {
			sums[k] = sum.Add(b.Amount)
		}
	}

	for i := range out {
		out[i].Amount = core.RoundAmount(sums[key{out[i].Type, out[i].Category}])
	}
	return out
}

// DailyType picks the type shown by the daily series: the only selected
// type, otherwise expense.
func DailyType(s filter.State) core.BillType {
	if len(s.Types) == 1 && s.Types[0].Valid() {
		return s.Types[0]
	}
	return core.Expense
}

// Daily builds a (day, category) series over the inclusive range of s for
// the type chosen by DailyType. Days run ascending and categories follow
// canonical order within a day. An unset or inverted range yields nil.
func Daily(bills []core.Bill, s filter.State) []core.DailyPoint {
	if !s.HasRange() || s.End.Before(s.Start) {
		return nil
	}
	t := DailyType(s)
	categories := t.Categories()

	type key struct {
		day string
		c   string
	}
	sums := make(map[key]decimal.Decimal)
	for _, b := range bills {
		if b.Type != t || b.Date.Before(s.Start) || b.Date.After(s.End) {
			continue
		}
		k := key{b.Date.String(), b.Category}
		sums[k] = sums[k].Add(b.Amount)
	}

	var out []core.DailyPoint
	for day := s.Start; !day.After(s.End); day = day.AddDays(1) {
		for _, c := range categories {
			out = append(out, core.DailyPoint{
				Date:     day,
				Category: c.Code,
				Label:    c.Label,
				Amount:   core.RoundAmount(sums[key{day.String(), c.Code}]),
			})
		}
	}
	return out
}

// Totals sums income and expense over bills.
func Totals(bills []core.Bill) core.Totals {
	var t core.Totals
	for _, b := range bills {
		switch b.Type {
		case core.Income:
			t.Income = t.Income.Add(b.Amount)
		case core.Expense:
			t.Expense = t.Expense.Add(b.Amount)
		}
	}
	t.Income = core.RoundAmount(t.Income)
	t.Expense = core.RoundAmount(t.Expense)
	return t
}

// DayTotals collapses a daily series into one total per day, in order.
func DayTotals(points []core.DailyPoint) []core.DailyPoint {
	var out []core.DailyPoint
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Date.Equal(p.Date) {
			out[n-1].Amount = out[n-1].Amount.Add(p.Amount)
			continue
		}
		out = append(out, core.DailyPoint{Date: p.Date, Amount: p.Amount})
	}
	return out
}
