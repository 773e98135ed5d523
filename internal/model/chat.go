package model

import "encoding/json"

// Chat message roles accepted from clients.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation.
// Content is kept raw so structured content blocks pass through untouched.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentText returns the content as plain text. A JSON string is decoded;
// anything else is returned verbatim.
func (m ChatMessage) ContentText() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	return string(m.Content)
}
