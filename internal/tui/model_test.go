package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"billtrack/internal/chat"
	"billtrack/internal/core"
	"billtrack/internal/filter"
)

type fakeBills struct {
	mu      sync.Mutex
	bills   []core.Bill
	removed []int64
}

func (f *fakeBills) Snapshot() []core.Bill {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Bill(nil), f.bills...)
}

func (f *fakeBills) Remove(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	for i, b := range f.bills {
		if b.ID == id {
			f.bills = append(f.bills[:i], f.bills[i+1:]...)
			break
		}
	}
	return nil
}

type fakeFilters struct {
	state   filter.State
	fetches int
	err     error
}

func (f *fakeFilters) State() filter.State { return f.state }

func (f *fakeFilters) SetTypes(_ context.Context, types ...core.BillType) error {
	f.state.Types = types
	f.fetches++
	return f.err
}

func (f *fakeFilters) SetRange(_ context.Context, start, end core.Date) error {
	f.state.Start, f.state.End = start, end
	f.fetches++
	return f.err
}

func (f *fakeFilters) Refresh(context.Context) error {
	f.fetches++
	return f.err
}

type fakeSummary struct{}

func (fakeSummary) Today(context.Context) (core.DailySummary, error) {
	return core.DailySummary{Income: decimal.NewFromInt(100), Expense: decimal.NewFromInt(15)}, nil
}

type fakeChat struct {
	messages []chat.Message
	fail     bool
}

func (f *fakeChat) Initialize(context.Context) error { return nil }

func (f *fakeChat) Send(_ context.Context, text string) (chat.Message, error) {
	f.messages = append(f.messages, chat.Message{Sender: chat.User, Content: text})
	if f.fail {
		reply := chat.Message{Sender: chat.Assistant, Content: "Sorry, the analysis failed: boom"}
		f.messages = append(f.messages, reply)
		return reply, &core.AnalysisError{Reason: "boom"}
	}
	reply := chat.Message{Sender: chat.Assistant, Content: "You spent 15.00 on food."}
	f.messages = append(f.messages, reply)
	return reply, nil
}

func (f *fakeChat) Messages() []chat.Message { return append([]chat.Message(nil), f.messages...) }

func (f *fakeChat) Clear(confirm func() bool) bool {
	if !confirm() {
		return false
	}
	f.messages = nil
	return true
}

type fixture struct {
	bills   *fakeBills
	filters *fakeFilters
	chat    *fakeChat
}

func newTestModel() (Model, *fixture) {
	f := &fixture{
		bills: &fakeBills{bills: []core.Bill{
			{ID: 2, Type: core.Expense, Category: "food", Amount: decimal.NewFromInt(15), Date: core.NewDate(2024, 1, 2)},
			{ID: 1, Type: core.Income, Category: "salary", Amount: decimal.NewFromInt(100), Date: core.NewDate(2024, 1, 1)},
		}},
		filters: &fakeFilters{state: filter.State{Start: core.NewDate(2024, 1, 1), End: core.NewDate(2024, 1, 7)}},
		chat:    &fakeChat{},
	}
	m := New(context.Background(), Deps{
		Bills:    f.bills,
		Filters:  f.filters,
		Summary:  fakeSummary{},
		Chat:     f.chat,
		Username: "alice",
	})
	m.width = 100
	m.height = 30
	return m, f
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewModel(t *testing.T) {
	m, _ := newTestModel()
	if m.tab != TabBills {
		t.Errorf("tab = %v, want Bills", m.tab)
	}
	if !m.loading {
		t.Error("new model should be loading")
	}
	if !m.filter.HasRange() {
		t.Error("model should start from the controller's filter")
	}
}

func TestBillsLoaded(t *testing.T) {
	m, _ := newTestModel()
	m, _ = update(t, m, BillsLoadedMsg{})

	if m.loading {
		t.Error("should not be loading after BillsLoadedMsg")
	}
	if len(m.bills) != 2 {
		t.Fatalf("bills = %d, want 2", len(m.bills))
	}
	if !strings.Contains(m.View(), "15.00") {
		t.Error("view should list the food bill")
	}
}

func TestBillsLoadError(t *testing.T) {
	m, _ := newTestModel()
	m, cmd := update(t, m, BillsLoadedMsg{Err: &core.NetworkError{Err: errors.New("dial")}})

	if m.errorMessage != "Network error, please try again later." {
		t.Errorf("errorMessage = %q", m.errorMessage)
	}
	if !m.errorTransient || cmd == nil {
		t.Error("load errors should clear themselves")
	}

	m, _ = update(t, m, ClearTransientErrorMsg{})
	if m.errorMessage != "" {
		t.Error("transient error should be cleared")
	}
}

func TestSummaryShownInStatusBar(t *testing.T) {
	m, _ := newTestModel()
	m, _ = update(t, m, summaryCmd(context.Background(), fakeSummary{})())

	if !m.summaryLoaded {
		t.Fatal("summary should be loaded")
	}
	if !strings.Contains(m.renderStatusBar(), "100.00") {
		t.Errorf("status bar = %q", m.renderStatusBar())
	}
}

func TestNavigationClamps(t *testing.T) {
	m, _ := newTestModel()
	m, _ = update(t, m, BillsLoadedMsg{})

	m, _ = update(t, m, runes("k"))
	if m.selected != 0 {
		t.Errorf("selected = %d, want 0", m.selected)
	}
	for i := 0; i < 5; i++ {
		m, _ = update(t, m, runes("j"))
	}
	if m.selected != 1 {
		t.Errorf("selected = %d, want 1", m.selected)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	m, f := newTestModel()
	m, _ = update(t, m, BillsLoadedMsg{})

	m, cmd := update(t, m, runes("d"))
	if !m.confirmDelete || cmd != nil {
		t.Fatal("delete should ask first")
	}
	m, cmd = update(t, m, runes("n"))
	if m.confirmDelete || cmd != nil {
		t.Fatal("declined delete should do nothing")
	}

	m, _ = update(t, m, runes("d"))
	m, cmd = update(t, m, runes("y"))
	if cmd == nil {
		t.Fatal("confirmed delete should issue a command")
	}
	m, _ = update(t, m, cmd())

	if len(f.bills.removed) != 1 || f.bills.removed[0] != 2 {
		t.Errorf("removed = %v, want [2]", f.bills.removed)
	}
	if len(m.bills) != 1 {
		t.Errorf("bills = %d, want 1", len(m.bills))
	}
}

func TestTypeCycle(t *testing.T) {
	m, f := newTestModel()

	want := [][]core.BillType{{core.Expense}, {core.Income}, nil}
	for _, w := range want {
		var cmd tea.Cmd
		m, cmd = update(t, m, runes("t"))
		m, _ = update(t, m, cmd())
		if len(f.filters.state.Types) != len(w) || (len(w) == 1 && f.filters.state.Types[0] != w[0]) {
			t.Errorf("types = %v, want %v", f.filters.state.Types, w)
		}
	}
	if f.filters.fetches != 3 {
		t.Errorf("fetches = %d, want 3", f.filters.fetches)
	}
}

func TestWeekShift(t *testing.T) {
	m, f := newTestModel()
	m, cmd := update(t, m, runes("["))
	m, _ = update(t, m, cmd())

	if got := f.filters.state.Start.String(); got != "2023-12-25" {
		t.Errorf("start = %s, want 2023-12-25", got)
	}
	if got := m.filter.End.String(); got != "2023-12-31" {
		t.Errorf("end = %s, want 2023-12-31", got)
	}
}

func TestChartView(t *testing.T) {
	m, _ := newTestModel()
	m, _ = update(t, m, BillsLoadedMsg{})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})

	if m.tab != TabChart {
		t.Fatalf("tab = %v, want Chart", m.tab)
	}
	view := m.View()
	for _, want := range []string{"Balance", "85.00", "吃饭"} {
		if !strings.Contains(view, want) {
			t.Errorf("chart view missing %q", want)
		}
	}
}

func TestChatSend(t *testing.T) {
	m, f := newTestModel()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.tab != TabChat {
		t.Fatalf("tab = %v, want Analysis", m.tab)
	}

	// Letters go to the input on the chat tab, including "q".
	m, _ = update(t, m, runes("quick"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	m, _ = update(t, m, runes("sum"))
	if m.input != "quick sum" {
		t.Fatalf("input = %q", m.input)
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.sending || m.input != "" || cmd == nil {
		t.Fatal("enter should send the input")
	}
	m, _ = update(t, m, cmd())

	if m.sending {
		t.Error("should not be sending after reply")
	}
	if len(m.messages) != 2 || m.messages[1].Sender != chat.Assistant {
		t.Fatalf("messages = %+v", m.messages)
	}
	if len(f.chat.messages) != 2 {
		t.Errorf("chat saw %d messages", len(f.chat.messages))
	}
}

func TestChatFailureShowsApologyWithoutErrorBar(t *testing.T) {
	m, f := newTestModel()
	f.chat.fail = true
	m.tab = TabChat
	m.input = "why"

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())

	if m.errorMessage != "" {
		t.Errorf("errorMessage = %q, want none", m.errorMessage)
	}
	if !strings.Contains(m.messages[len(m.messages)-1].Content, "Sorry") {
		t.Error("apology should be in the transcript")
	}
}

func TestChatClearAsks(t *testing.T) {
	m, f := newTestModel()
	f.chat.messages = []chat.Message{{Sender: chat.User, Content: "hi"}}
	m.tab = TabChat
	m.messages = f.chat.Messages()

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if !m.confirmClear {
		t.Fatal("clear should ask first")
	}
	m, _ = update(t, m, runes("y"))

	if m.confirmClear || len(m.messages) != 0 || len(f.chat.messages) != 0 {
		t.Error("confirmed clear should empty the transcript")
	}
}

func TestDataChangedRereadsSnapshot(t *testing.T) {
	m, f := newTestModel()
	changes := make(chan struct{}, 1)
	m.deps.Changes = changes

	f.bills.bills = f.bills.bills[:1]
	m, cmd := update(t, m, DataChangedMsg{})
	if len(m.bills) != 1 {
		t.Errorf("bills = %d, want 1", len(m.bills))
	}
	if cmd == nil {
		t.Error("should reload the summary and keep waiting for changes")
	}
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel()
	_, cmd := update(t, m, runes("q"))
	if cmd == nil {
		t.Fatal("q should quit on the bills tab")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}
