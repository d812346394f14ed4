package tui

import (
	"billtrack/internal/chat"
	"billtrack/internal/core"
)

// BillsLoadedMsg is sent when a fetch through the filter controller ends.
type BillsLoadedMsg struct {
	Err error
}

// SummaryLoadedMsg carries today's income/expense totals.
type SummaryLoadedMsg struct {
	Summary core.DailySummary
	Err     error
}

// DataChangedMsg is sent when the bill snapshot changed outside a fetch.
type DataChangedMsg struct{}

// BillRemovedMsg carries the result of a delete.
type BillRemovedMsg struct {
	ID  int64
	Err error
}

// ChatHistoryMsg is sent when the conversation history has been loaded.
type ChatHistoryMsg struct {
	Err error
}

// ChatReplyMsg carries the assistant's answer, or the apology on failure.
type ChatReplyMsg struct {
	Reply chat.Message
	Err   error
}

// ClearTransientErrorMsg clears a transient error after a delay.
type ClearTransientErrorMsg struct{}
