package chat

import (
	"context"
	"net/http"
	"time"

	"billtrack/internal/core"
	"billtrack/internal/gateway"
)

// APIAnalyzer talks to the analysis endpoints through the gateway.
type APIAnalyzer struct {
	api     gateway.Doer
	timeout time.Duration
}

var _ Analyzer = (*APIAnalyzer)(nil)

// NewAPIAnalyzer returns an analyzer whose Analyze calls may run for up to
// timeout; zero keeps the gateway default.
func NewAPIAnalyzer(api gateway.Doer, timeout time.Duration) *APIAnalyzer {
	return &APIAnalyzer{api: api, timeout: timeout}
}

func (a *APIAnalyzer) History(ctx context.Context) ([]HistoryEntry, error) {
	var resp struct {
		History []HistoryEntry `json:"history"`
	}
	err := a.api.Do(ctx, gateway.Request{Method: http.MethodGet, Path: "/api/analyze/history/"}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.History, nil
}

func (a *APIAnalyzer) Analyze(ctx context.Context, text string, bills []core.Bill) (string, error) {
	if bills == nil {
		bills = []core.Bill{}
	}
	var resp struct {
		Analysis string `json:"analysis"`
	}
	err := a.api.Do(ctx, gateway.Request{
		Method:  http.MethodPost,
		Path:    "/api/analyze/",
		Body:    map[string]any{"text": text, "bills": bills},
		Timeout: a.timeout,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Analysis, nil
}
