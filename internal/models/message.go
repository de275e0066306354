package models

import (
	"encoding/json"
	"time"
)

// MessageRole is the author of a thread message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// RenderedComponent names a UI component chosen by the assistant together with
// the props it constructed for it.
type RenderedComponent struct {
	Name  string          `json:"name"`
	Props json.RawMessage `json:"props"`
}

// Message is one entry of an assistant thread. A thread is owned by a session.
type Message struct {
	ID        string             `json:"id"`
	ThreadID  string             `json:"thread_id"`
	Role      MessageRole        `json:"role"`
	Content   string             `json:"content"`
	Component *RenderedComponent `json:"component,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
