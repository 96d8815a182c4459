package turn

import (
	"context"
	"encoding/json"

	"careerpilot/internal/models"
)

// Intent is the discrete classification of what the user wants this turn.
type Intent string

const (
	IntentResumeOptimization Intent = "resume_optimization"
	IntentMockInterview      Intent = "mock_interview"
	IntentRelatedTopics      Intent = "related_topics"
	IntentOther              Intent = "other"
)

// Classification pairs an intent label with an informational confidence.
// Routing decides on the label alone; confidence never gates anything.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Turn is one request cycle: prior conversation plus new input. It is
// immutable once dispatched to a generator; stages that rewrite messages
// produce a derived Turn instead of mutating in place.
type Turn struct {
	UserID       int64
	ChatID       int64
	Provider     string
	ModelID      string
	Messages     []*models.Message
	ToolApproval bool
}

// WithMessages derives a turn carrying the rewritten message list.
func (t *Turn) WithMessages(msgs []*models.Message) *Turn {
	clone := *t
	clone.Messages = msgs
	return &clone
}

// LatestUserMessage returns the most recent user-authored message, nil
// when the turn has none.
func (t *Turn) LatestUserMessage() *models.Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i] != nil && t.Messages[i].Role == models.RoleUser {
			return t.Messages[i]
		}
	}
	return nil
}

// UserMessageCount counts user-authored messages in the turn.
func (t *Turn) UserMessageCount() int {
	count := 0
	for _, m := range t.Messages {
		if m != nil && m.Role == models.RoleUser {
			count++
		}
	}
	return count
}

// HasMessageID reports whether the turn's input history already carries
// the message id. This drives the reconciler's insert-vs-update decision.
func (t *Turn) HasMessageID(id string) bool {
	if id == "" {
		return false
	}
	for _, m := range t.Messages {
		if m != nil && m.ID == id {
			return true
		}
	}
	return false
}

// EventType tags a StreamEvent variant.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolCallStart  EventType = "tool_call_start"
	EventToolCallResult EventType = "tool_call_result"
	EventTitle          EventType = "title"
	EventError          EventType = "error"
)

// StreamEvent is one tagged element of the outbound stream.
type StreamEvent struct {
	Type EventType `json:"type"`

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`

	Title string `json:"title,omitempty"`

	Message string `json:"message,omitempty"`
}

// Result is the terminal set of messages a generator reports finished.
// Normally one new assistant message; a tool-approval continuation may
// report updates to already-persisted ids alongside new messages.
type Result struct {
	Messages []*models.Message
}

// Store is the durable storage collaborator. Each write is independent;
// no cross-message transactional guarantee is assumed.
type Store interface {
	InsertMessages(ctx context.Context, chatID int64, msgs []*models.Message) error
	UpdateMessageParts(ctx context.Context, messageID string, parts []models.Part) error
	UpdateChatTitle(ctx context.Context, userID, chatID int64, title string) error
}

// Extraction is a textual rendering of a binary attachment.
type Extraction struct {
	Text      string
	PageCount int
	Title     string
	Author    string
}

// Extractor converts document attachments into text.
type Extractor interface {
	Extract(ctx context.Context, source string) (*Extraction, error)
}
