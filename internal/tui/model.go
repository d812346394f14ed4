// Package tui is the interactive terminal front end: a bill list, a chart
// view over the same snapshot and the analysis chat.
package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"billtrack/internal/chat"
	"billtrack/internal/core"
	"billtrack/internal/filter"
)

// Tab is the view currently shown.
type Tab int

const (
	TabBills Tab = iota
	TabChart
	TabChat
)

var tabNames = []string{"Bills", "Chart", "Analysis"}

func (t Tab) String() string {
	if int(t) < len(tabNames) {
		return tabNames[t]
	}
	return "?"
}

const transientErrorDelay = 4 * time.Second

// Bills is the bill snapshot the views read from.
type Bills interface {
	Snapshot() []core.Bill
	Remove(ctx context.Context, id int64) error
}

// Filters drives fetches of the snapshot.
type Filters interface {
	State() filter.State
	SetTypes(ctx context.Context, types ...core.BillType) error
	SetRange(ctx context.Context, start, end core.Date) error
	Refresh(ctx context.Context) error
}

// Summary returns today's totals.
type Summary interface {
	Today(ctx context.Context) (core.DailySummary, error)
}

// Chat is the analysis conversation.
type Chat interface {
	Initialize(ctx context.Context) error
	Send(ctx context.Context, text string) (chat.Message, error)
	Messages() []chat.Message
	Clear(confirm func() bool) bool
}

// Deps are the services the model works against.
type Deps struct {
	Bills    Bills
	Filters  Filters
	Summary  Summary
	Chat     Chat
	Username string
	// Changes receives a value whenever the snapshot changes outside a
	// fetch started by the model. May be nil.
	Changes <-chan struct{}
}

// Model is the root bubbletea model.
type Model struct {
	ctx  context.Context
	deps Deps

	tab      Tab
	bills    []core.Bill
	filter   filter.State
	selected int
	loading  bool

	summary       core.DailySummary
	summaryLoaded bool

	messages []chat.Message
	input    string
	sending  bool

	// Pending confirmation for a destructive action.
	confirmDelete bool
	confirmClear  bool

	width  int
	height int

	errorMessage   string
	errorTransient bool
	statusText     string
}

// New creates a Model over deps. ctx bounds every request the model starts.
func New(ctx context.Context, deps Deps) Model {
	return Model{
		ctx:        ctx,
		deps:       deps,
		filter:     deps.Filters.State(),
		loading:    true,
		statusText: "Loading bills...",
	}
}

// Init fetches the bills and today's summary.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchCmd(m.ctx, m.deps.Filters.Refresh),
		summaryCmd(m.ctx, m.deps.Summary),
		waitForChangeCmd(m.deps.Changes),
	)
}

func fetchCmd(ctx context.Context, fetch func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return BillsLoadedMsg{Err: fetch(ctx)}
	}
}

func summaryCmd(ctx context.Context, s Summary) tea.Cmd {
	return func() tea.Msg {
		sum, err := s.Today(ctx)
		return SummaryLoadedMsg{Summary: sum, Err: err}
	}
}

func waitForChangeCmd(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return DataChangedMsg{}
	}
}

func removeCmd(ctx context.Context, bills Bills, id int64) tea.Cmd {
	return func() tea.Msg {
		return BillRemovedMsg{ID: id, Err: bills.Remove(ctx, id)}
	}
}

func historyCmd(ctx context.Context, c Chat) tea.Cmd {
	return func() tea.Msg {
		return ChatHistoryMsg{Err: c.Initialize(ctx)}
	}
}

func sendCmd(ctx context.Context, c Chat, text string) tea.Cmd {
	return func() tea.Msg {
		reply, err := c.Send(ctx, text)
		return ChatReplyMsg{Reply: reply, Err: err}
	}
}

func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(transientErrorDelay, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case BillsLoadedMsg:
		m.loading = false
		m.filter = m.deps.Filters.State()
		m.bills = m.deps.Bills.Snapshot()
		m.clampSelection()
		if msg.Err != nil {
			return m.showError(msg.Err, true)
		}
		m.statusText = ""
		return m, nil

	case DataChangedMsg:
		m.bills = m.deps.Bills.Snapshot()
		m.clampSelection()
		return m, tea.Batch(summaryCmd(m.ctx, m.deps.Summary), waitForChangeCmd(m.deps.Changes))

	case SummaryLoadedMsg:
		if msg.Err != nil {
			return m.showError(msg.Err, true)
		}
		m.summary = msg.Summary
		m.summaryLoaded = true
		return m, nil

	case BillRemovedMsg:
		if msg.Err != nil {
			return m.showError(msg.Err, false)
		}
		m.bills = m.deps.Bills.Snapshot()
		m.clampSelection()
		return m, nil

	case ChatHistoryMsg:
		m.messages = m.deps.Chat.Messages()
		if msg.Err != nil {
			return m.showError(msg.Err, true)
		}
		return m, nil

	case ChatReplyMsg:
		m.sending = false
		m.messages = m.deps.Chat.Messages()
		if msg.Err != nil && !errors.As(msg.Err, new(*core.AnalysisError)) {
			return m.showError(msg.Err, true)
		}
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

func (m Model) showError(err error, transient bool) (tea.Model, tea.Cmd) {
	m.errorMessage = core.UserMessage(err)
	m.errorTransient = transient
	if transient {
		return m, clearTransientErrorCmd()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == KeyCtrlC {
		return m, tea.Quit
	}

	if m.confirmDelete || m.confirmClear {
		return m.handleConfirm(key)
	}

	switch key {
	case KeyTab:
		return m.switchTab((m.tab + 1) % Tab(len(tabNames)))
	case KeyShiftTab:
		return m.switchTab((m.tab + Tab(len(tabNames)) - 1) % Tab(len(tabNames)))
	}

	if m.tab == TabChat {
		return m.handleChatKey(msg)
	}

	switch key {
	case KeyQuit, KeyEsc:
		return m, tea.Quit

	case KeyUp, KeyK:
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeyDown, KeyJ:
		if m.selected < len(m.bills)-1 {
			m.selected++
		}
		return m, nil

	case KeyRefresh:
		m.loading = true
		return m, tea.Batch(fetchCmd(m.ctx, m.deps.Filters.Refresh), summaryCmd(m.ctx, m.deps.Summary))

	case KeyType:
		types := nextTypes(m.filter.Types)
		m.loading = true
		return m, fetchCmd(m.ctx, func(ctx context.Context) error {
			return m.deps.Filters.SetTypes(ctx, types...)
		})

	case KeyPrevWeek, KeyNextWeek:
		days := filter.DefaultDays
		if key == KeyPrevWeek {
			days = -days
		}
		cur := m.filter
		if !cur.HasRange() {
			cur = filter.Default(core.Today())
		}
		start, end := cur.Start.AddDays(days), cur.End.AddDays(days)
		m.loading = true
		return m, fetchCmd(m.ctx, func(ctx context.Context) error {
			return m.deps.Filters.SetRange(ctx, start, end)
		})

	case KeyDelete:
		if m.tab == TabBills && len(m.bills) > 0 {
			m.confirmDelete = true
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleConfirm(key string) (tea.Model, tea.Cmd) {
	confirmed := key == KeyYes
	if !confirmed && key != KeyNo && key != KeyEsc {
		return m, nil
	}

	if m.confirmDelete {
		m.confirmDelete = false
		if confirmed && m.selected < len(m.bills) {
			return m, removeCmd(m.ctx, m.deps.Bills, m.bills[m.selected].ID)
		}
		return m, nil
	}

	m.confirmClear = false
	if m.deps.Chat.Clear(func() bool { return confirmed }) {
		m.messages = nil
	}
	return m, nil
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		if m.sending || m.input == "" {
			return m, nil
		}
		text := m.input
		m.input = ""
		m.sending = true
		m.messages = append(m.messages, chat.Message{Sender: chat.User, Content: text})
		return m, sendCmd(m.ctx, m.deps.Chat, text)
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
		return m, nil
	case tea.KeyCtrlL:
		if len(m.messages) > 0 {
			m.confirmClear = true
		}
		return m, nil
	case tea.KeySpace:
		m.input += " "
		return m, nil
	case tea.KeyRunes:
		m.input += string(msg.Runes)
		return m, nil
	}
	return m, nil
}

func (m Model) switchTab(t Tab) (tea.Model, tea.Cmd) {
	m.tab = t
	if t == TabChat {
		return m, historyCmd(m.ctx, m.deps.Chat)
	}
	return m, nil
}

func (m *Model) clampSelection() {
	if m.selected >= len(m.bills) {
		m.selected = len(m.bills) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

// nextTypes cycles all → expense → income → all.
func nextTypes(cur []core.BillType) []core.BillType {
	switch {
	case len(cur) != 1:
		return []core.BillType{core.Expense}
	case cur[0] == core.Expense:
		return []core.BillType{core.Income}
	default:
		return nil
	}
}
