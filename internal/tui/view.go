package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"billtrack/internal/aggregate"
	"billtrack/internal/chat"
	"billtrack/internal/core"
)

const maxBarWidth = 30

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))

	var body string
	switch m.tab {
	case TabBills:
		body = m.renderBills()
	case TabChart:
		body = m.renderChart()
	case TabChat:
		body = m.renderChat()
	}
	sections = append(sections, m.fit(body))

	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	if m.errorMessage != "" {
		sections = append(sections, ErrorStyle.Render("! "+m.errorMessage))
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("BILLTRACK")
	if m.deps.Username != "" {
		title += DimStyle.Render(" " + m.deps.Username)
	}

	tabs := make([]string, len(tabNames))
	for i, name := range tabNames {
		if Tab(i) == m.tab {
			tabs[i] = TabActiveStyle.Render(name)
		} else {
			tabs[i] = TabStyle.Render(name)
		}
	}
	return title + "  " + lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderStatusBar() string {
	var parts []string

	if m.filter.HasRange() {
		parts = append(parts, fmt.Sprintf("%s .. %s", m.filter.Start, m.filter.End))
	} else {
		parts = append(parts, "all dates")
	}
	types := make([]string, 0, len(m.filter.ActiveTypes()))
	for _, t := range m.filter.ActiveTypes() {
		types = append(types, t.Label())
	}
	parts = append(parts, strings.Join(types, "+"))

	if m.summaryLoaded {
		parts = append(parts,
			"today "+IncomeStyle.Render("+"+core.FormatAmount(m.summary.Income))+
				" "+ExpenseStyle.Render("-"+core.FormatAmount(m.summary.Expense)))
	}
	if m.loading && m.statusText != "" {
		parts = append(parts, m.statusText)
	} else if m.loading {
		parts = append(parts, "loading...")
	}

	return StatusStyle.Render(strings.Join(parts, "  |  "))
}

func (m Model) renderBills() string {
	if len(m.bills) == 0 {
		if m.loading {
			return DimStyle.Render("  Loading...")
		}
		return DimStyle.Render("  No bills in this range")
	}

	visible := m.bodyLines()
	start := 0
	if m.selected >= visible {
		start = m.selected - visible + 1
	}

	var lines []string
	for i := start; i < len(m.bills) && i < start+visible; i++ {
		b := m.bills[i]
		amount := core.FormatAmount(b.Amount)
		if b.Type == core.Income {
			amount = IncomeStyle.Render(fmt.Sprintf("%10s", "+"+amount))
		} else {
			amount = ExpenseStyle.Render(fmt.Sprintf("%10s", "-"+amount))
		}
		line := fmt.Sprintf("%s  %-8s %s  %s",
			b.Date, b.Type.CategoryLabel(b.Category), amount, b.RemarkText())
		if i == m.selected {
			line = SelectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}

	if m.confirmDelete && m.selected < len(m.bills) {
		b := m.bills[m.selected]
		lines = append(lines, "", ErrorStyle.Render(
			fmt.Sprintf("Delete %s %s on %s? (y/n)", b.Type.CategoryLabel(b.Category), core.FormatAmount(b.Amount), b.Date)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderChart() string {
	totals := aggregate.Totals(m.bills)
	lines := []string{
		fmt.Sprintf("Income %s   Expense %s   Balance %s",
			IncomeStyle.Render(core.FormatAmount(totals.Income)),
			ExpenseStyle.Render(core.FormatAmount(totals.Expense)),
			core.FormatAmount(totals.Balance())),
		"",
	}

	byCategory := aggregate.ByCategory(m.bills, m.filter)
	peak := decimal.Zero
	for _, c := range byCategory {
		peak = decimal.Max(peak, c.Amount)
	}
	for _, c := range byCategory {
		lines = append(lines, fmt.Sprintf("%-10s %s %s", c.Label, bar(c.Amount, peak), core.FormatAmount(c.Amount)))
	}

	days := aggregate.DayTotals(aggregate.Daily(m.bills, m.filter))
	if len(days) > 0 {
		lines = append(lines, "", DimStyle.Render("Daily "+aggregate.DailyType(m.filter).Label()))
		peak = decimal.Zero
		for _, d := range days {
			peak = decimal.Max(peak, d.Amount)
		}
		for _, d := range days {
			lines = append(lines, fmt.Sprintf("%-10s %s %s", d.Date, bar(d.Amount, peak), core.FormatAmount(d.Amount)))
		}
	}
	return strings.Join(lines, "\n")
}

func bar(v, peak decimal.Decimal) string {
	n := 0
	if peak.IsPositive() {
		n = int(v.Mul(decimal.NewFromInt(maxBarWidth)).Div(peak).IntPart())
	}
	return BarStyle.Render(strings.Repeat("█", n)) + strings.Repeat(" ", maxBarWidth-n)
}

func (m Model) renderChat() string {
	var lines []string
	if len(m.messages) == 0 {
		lines = append(lines, DimStyle.Render("  Ask a question about the bills in view"))
	}
	for _, msg := range m.messages {
		label := AssistantStyle.Render("assistant")
		if msg.Sender == chat.User {
			label = UserStyle.Render("you")
		}
		lines = append(lines, label+": "+msg.Content)
	}
	if m.sending {
		lines = append(lines, DimStyle.Render("  thinking..."))
	}

	visible := m.bodyLines() - 2
	if visible > 0 && len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}

	if m.confirmClear {
		lines = append(lines, "", ErrorStyle.Render("Clear the conversation? (y/n)"))
	} else {
		lines = append(lines, "", SelectedStyle.Render("> ")+m.input+"█")
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	var keys [][2]string
	switch m.tab {
	case TabChat:
		keys = [][2]string{{"enter", "send"}, {"ctrl+l", "clear"}, {"tab", "switch"}, {"esc", "quit"}}
	default:
		keys = [][2]string{{"j/k", "move"}, {"t", "type"}, {"[/]", "week"}, {"r", "refresh"}, {"d", "delete"}, {"tab", "switch"}, {"q", "quit"}}
	}

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = FooterKeyStyle.Render(k[0]) + " " + FooterDescStyle.Render(k[1])
	}
	return strings.Join(parts, "  ")
}

// bodyLines is the height left for the active tab.
func (m Model) bodyLines() int {
	if m.height == 0 {
		return 20
	}
	// header, status, two dividers, error, footer
	return max(5, m.height-6)
}

func (m Model) fit(body string) string {
	lines := strings.Split(body, "\n")
	h := m.bodyLines()
	if len(lines) > h {
		lines = lines[:h]
	}
	for len(lines) < h {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
