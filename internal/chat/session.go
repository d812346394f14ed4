// Package chat is the client side of the bill analysis assistant: a local
// transcript seeded from the server's history and extended by questions
// about the current bill snapshot.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"billtrack/internal/core"
	"billtrack/internal/log"
)

// Sender identifies the author of a message.
type Sender string

const (
	User      Sender = "user"
	Assistant Sender = "assistant"
)

// Message is one entry of the transcript.
type Message struct {
	ID      string
	Sender  Sender
	Content string
}

const fallbackReason = "the analysis request failed, please try again later"

// Session is the ChatSession.
type Session struct {
	analyzer Analyzer
	bills    BillSource
	logger   *log.Logger

	mu          sync.Mutex
	messages    []Message
	initialized bool
	// epoch changes when the transcript is dropped. Work started under an
	// older epoch does not write into the new transcript.
	epoch uint64
}

func NewSession(analyzer Analyzer, bills BillSource, logger *log.Logger) *Session {
	return &Session{
		analyzer: analyzer,
		bills:    bills,
		logger:   logger.WithComponent(log.ComponentChat),
	}
}

// Initialize loads the server's history into the transcript. It runs once;
// later calls do nothing until the transcript is cleared or reset.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	done := s.initialized
	s.mu.Unlock()
	if done {
		return nil
	}
	return s.Reload(ctx)
}

// Reload replaces the transcript with the server's history. Messages sent
// while the history was loading stay after it.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	epoch, pending := s.epoch, len(s.messages)
	s.mu.Unlock()

	history, err := s.analyzer.History(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Loading conversation history failed",
			log.FieldOperation, log.OpHistory, log.FieldError, err)
		return fmt.Errorf("load conversation history: %w", err)
	}

	messages := make([]Message, 0, len(history))
	for _, h := range history {
		sender := Assistant
		if h.Role == "user" {
			sender = User
		}
		messages = append(messages, newMessage(sender, h.Content))
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "Discarding history loaded for a dropped transcript")
		return nil
	}
	s.messages = append(messages, s.messages[pending:]...)
	s.initialized = true
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "Conversation history loaded", log.FieldCount, len(messages))
	return nil
}

// Send appends the question, asks the assistant about the current bill
// snapshot and appends its answer. On failure an apology is appended in
// place of the answer and an *core.AnalysisError returned.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, core.ErrEmptyMessage
	}

	s.mu.Lock()
	s.messages = append(s.messages, newMessage(User, text))
	epoch := s.epoch
	s.mu.Unlock()

	answer, err := s.analyzer.Analyze(ctx, text, s.bills.Snapshot())
	if err != nil {
		reason := analysisReason(err)
		reply := s.appendIn(ctx, epoch, newMessage(Assistant, "Sorry, the analysis failed: "+reason))
		s.logger.WarnContext(ctx, "Analysis request failed",
			log.FieldOperation, log.OpSend, log.FieldError, err)
		return reply, &core.AnalysisError{Reason: reason, Err: err}
	}

	return s.appendIn(ctx, epoch, newMessage(Assistant, answer)), nil
}

// Clear empties the local transcript when confirm approves. The server's
// history is kept, so the next Initialize brings it back.
func (s *Session) Clear(confirm func() bool) bool {
	if confirm != nil && !confirm() {
		return false
	}
	s.Reset()
	return true
}

// Reset drops the transcript without asking, e.g. when the user changes.
func (s *Session) Reset() {
	s.mu.Lock()
	s.epoch++
	s.messages = nil
	s.initialized = false
	s.mu.Unlock()
}

// Messages returns a copy of the transcript in order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// appendIn adds m unless the transcript was dropped since epoch.
func (s *Session) appendIn(ctx context.Context, epoch uint64, m Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		s.logger.DebugContext(ctx, "Dropping reply to a cleared transcript")
		return m
	}
	s.messages = append(s.messages, m)
	return m
}

func newMessage(sender Sender, content string) Message {
	return Message{ID: uuid.NewString(), Sender: sender, Content: content}
}

// analysisReason picks the server's explanation when it gave one.
func analysisReason(err error) string {
	var (
		se *core.StatusError
		ve *core.ValidationError
	)
	switch {
	case errors.As(err, &se) && se.Message != "":
		return se.Message
	case errors.As(err, &ve):
		return ve.Error()
	}
	return fallbackReason
}
