package core

import "github.com/shopspring/decimal"

// CategoryTotal is one bucket of the categorical view.
type CategoryTotal struct {
	Type     BillType
	Category string
	Label    string
	Amount   decimal.Decimal
}

// DailyPoint is one (day, category) cell of the daily time series.
type DailyPoint struct {
	Date     Date
	Category string
	Label    string
	Amount   decimal.Decimal
}

// DailySummary is the server's income/expense total for the current day.
type DailySummary struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Date    Date            `json:"date"`
}

// Totals is the income/expense sum of a set of bills.
type Totals struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
}

// Balance returns income minus expense.
func (t Totals) Balance() decimal.Decimal {
	return t.Income.Sub(t.Expense)
}
