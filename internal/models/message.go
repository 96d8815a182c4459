package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType tags the variant carried by a Part.
type PartType string

const (
	PartTypeText           PartType = "text"
	PartTypeFile           PartType = "file"
	PartTypeToolInvocation PartType = "tool_invocation"
)

// ToolState tracks a tool invocation part's lifecycle.
type ToolState string

const (
	ToolStatePending ToolState = "pending"
	ToolStateResult  ToolState = "result"
)

// Part is one ordered segment of a message. Exactly one variant is
// populated depending on Type; rendering order is significant.
type Part struct {
	Type PartType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// file
	MediaURL  string `json:"media_url,omitempty"`
	MediaKind string `json:"media_kind,omitempty"`
	Filename  string `json:"filename,omitempty"`

	// tool_invocation
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// Message is one conversational entry. The ID is supplied by the caller
// (or minted once when the message is created) and stays stable across
// streaming and persistence: it is the join key deciding whether the
// reconciler inserts a new row or patches an existing one.
type Message struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// PlainText concatenates the message's text parts.
func (m *Message) PlainText() string {
	var out string
	for _, p := range m.Parts {
		if p.Type != PartTypeText {
			continue
		}
		if out != "" && p.Text != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// ClonedParts returns a deep copy of the message's parts so callers can
// rewrite them without mutating shared history.
func (m *Message) ClonedParts() []Part {
	if m.Parts == nil {
		return nil
	}
	parts := make([]Part, len(m.Parts))
	copy(parts, m.Parts)
	for i := range parts {
		if parts[i].Arguments != nil {
			parts[i].Arguments = append(json.RawMessage(nil), parts[i].Arguments...)
		}
		if parts[i].Result != nil {
			parts[i].Result = append(json.RawMessage(nil), parts[i].Result...)
		}
	}
	return parts
}
