package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billtrack/internal/core"
	"billtrack/internal/filter"
)

func newBill(t core.BillType, category, amount, date string) core.Bill {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return core.Bill{Type: t, Category: category, Amount: decimal.RequireFromString(amount), Date: d}
}

func amounts(totals []core.CategoryTotal) map[string]string {
	out := make(map[string]string, len(totals))
	for _, ct := range totals {
		out[string(ct.Type)+"/"+ct.Category] = ct.Amount.StringFixed(2)
	}
	return out
}

func TestByCategoryExpenseOnly(t *testing.T) {
	bills := []core.Bill{
		newBill(core.Expense, "food", "10.00", "2024-01-02"),
		newBill(core.Expense, "food", "5.00", "2024-01-03"),
		newBill(core.Expense, "shopping", "20.00", "2024-01-03"),
	}
	got := ByCategory(bills, filter.State{Types: []core.BillType{core.Expense}})

	require.Len(t, got, len(core.Expense.Categories()))
	byKey := amounts(got)
	assert.Equal(t, "15.00", byKey["expense/food"])
	assert.Equal(t, "20.00", byKey["expense/shopping"])
	for _, c := range core.Expense.Categories() {
		if c.Code == "food" || c.Code == "shopping" {
			continue
		}
		assert.Equal(t, "0.00", byKey["expense/"+c.Code], c.Code)
	}
	assert.Equal(t, "吃饭", got[0].Label)
}

func TestByCategoryBothTypesOrder(t *testing.T) {
	bills := []core.Bill{
		newBill(core.Income, "other", "3.00", "2024-01-02"),
		newBill(core.Expense, "other", "4.00", "2024-01-02"),
	}
	got := ByCategory(bills, filter.State{})

	require.Len(t, got, len(core.Income.Categories())+len(core.Expense.Categories()))
	assert.Equal(t, core.Income, got[0].Type)
	assert.Equal(t, "salary", got[0].Category)
	assert.Equal(t, core.Expense, got[len(got)-1].Type)

	byKey := amounts(got)
	assert.Equal(t, "3.00", byKey["income/other"])
	assert.Equal(t, "4.00", byKey["expense/other"])
}

func TestByCategoryExactDecimalSum(t *testing.T) {
	var bills []core.Bill
	for i := 0; i < 10; i++ {
		bills = append(bills, newBill(core.Expense, "food", "0.10", "2024-01-02"))
	}
	got := amounts(ByCategory(bills, filter.State{Types: []core.BillType{core.Expense}}))
	assert.Equal(t, "1.00", got["expense/food"])
}

func TestDaily(t *testing.T) {
	bills := []core.Bill{
		newBill(core.Expense, "food", "10.00", "2024-01-01"),
		newBill(core.Expense, "food", "2.50", "2024-01-01"),
		newBill(core.Expense, "pet", "8.00", "2024-01-03"),
		newBill(core.Income, "salary", "100.00", "2024-01-02"),
		newBill(core.Expense, "food", "99.00", "2024-01-09"),
	}
	s := filter.State{Start: core.NewDate(2024, 1, 1), End: core.NewDate(2024, 1, 3)}

	got := Daily(bills, s)

	cats := core.Expense.Categories()
	require.Len(t, got, 3*len(cats))
	assert.Equal(t, "2024-01-01", got[0].Date.String())
	assert.Equal(t, "food", got[0].Category)
	assert.Equal(t, "12.50", got[0].Amount.StringFixed(2))
	assert.Equal(t, "2024-01-03", got[len(got)-1].Date.String())

	var petDay3 core.DailyPoint
	for _, p := range got {
		if p.Date.String() == "2024-01-03" && p.Category == "pet" {
			petDay3 = p
		}
	}
	assert.Equal(t, "8.00", petDay3.Amount.StringFixed(2))

	days := DayTotals(got)
	require.Len(t, days, 3)
	assert.Equal(t, "12.50", days[0].Amount.StringFixed(2))
	assert.Equal(t, "0.00", days[1].Amount.StringFixed(2))
}

func TestDailyResolvesSingleSelectedType(t *testing.T) {
	bills := []core.Bill{newBill(core.Income, "bonus", "50.00", "2024-01-01")}
	s := filter.State{
		Types: []core.BillType{core.Income},
		Start: core.NewDate(2024, 1, 1),
		End:   core.NewDate(2024, 1, 1),
	}

	got := Daily(bills, s)
	require.Len(t, got, len(core.Income.Categories()))
	assert.Equal(t, "50.00", got[1].Amount.StringFixed(2))

	s.Types = []core.BillType{core.Income, core.Expense}
	assert.Equal(t, core.Expense, DailyType(s))
}

func TestDailyEmptyRange(t *testing.T) {
	inverted := filter.State{Start: core.NewDate(2024, 1, 5), End: core.NewDate(2024, 1, 1)}
	assert.Empty(t, Daily(nil, inverted))
	assert.Empty(t, Daily(nil, filter.State{}))
}

func TestTotals(t *testing.T) {
	got := Totals([]core.Bill{
		newBill(core.Income, "salary", "1000.00", "2024-01-01"),
		newBill(core.Expense, "food", "12.34", "2024-01-01"),
		newBill(core.Expense, "pet", "0.66", "2024-01-02"),
	})
	assert.Equal(t, "1000.00", got.Income.StringFixed(2))
	assert.Equal(t, "13.00", got.Expense.StringFixed(2))
	assert.Equal(t, "987.00", got.Balance().StringFixed(2))
}
