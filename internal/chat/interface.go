package chat

import (
	"context"

	"billtrack/internal/core"
)

// HistoryEntry is one stored turn of the server-side conversation.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Analyzer is the analysis assistant backend. The chat session depends on
// this interface, not on the HTTP implementation.
//
//go:generate mockgen -destination=mocks/mock_chat.go -source=interface.go
type Analyzer interface {
	History(ctx context.Context) ([]HistoryEntry, error)
	Analyze(ctx context.Context, text string, bills []core.Bill) (string, error)
}

// BillSource supplies the bill snapshot sent along with every question.
type BillSource interface {
	Snapshot() []core.Bill
}
