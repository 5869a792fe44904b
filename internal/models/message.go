package models

import (
	"encoding/json"
	"time"
)

// Message roles. A session's timestamp-ordered messages are the canonical
// conversation context fed back to the model on every turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID     string    `gorm:"size:24;not null;index" json:"sessionId"`
	Role          string    `gorm:"size:16;not null" json:"role"`
	Content       string    `gorm:"type:text" json:"content"`
	ToolCallsJSON string    `gorm:"type:text" json:"-"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

// ToolCall records one structured tool invocation observed during a turn.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCalls decodes the persisted tool-call list, returning nil for messages
// without one.
func (m *Message) ToolCalls() []ToolCall {
	if m.ToolCallsJSON == "" {
		return nil
	}
	var calls []ToolCall
	if err := json.Unmarshal([]byte(m.ToolCallsJSON), &calls); err != nil {
		return nil
	}
	return calls
}

// SetToolCalls encodes calls onto the row. An empty list clears the column.
func (m *Message) SetToolCalls(calls []ToolCall) {
	if len(calls) == 0 {
		m.ToolCallsJSON = ""
		return
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return
	}
	m.ToolCallsJSON = string(raw)
}
