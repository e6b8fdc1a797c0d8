package session

import (
	"encoding/json"
	"slices"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment references an image or file shown with a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Message is one entry of the conversation. IDs are generated locally and
// stay stable for the whole turn.
type Message struct {
	ID          string          `json:"id"`
	Role        Role            `json:"role"`
	Content     string          `json:"content"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	DocumentIDs []string        `json:"doc_ids,omitempty"`
	Reference   json.RawMessage `json:"reference,omitempty"`
}

func (m Message) clone() Message {
	m.Attachments = slices.Clone(m.Attachments)
	m.DocumentIDs = slices.Clone(m.DocumentIDs)
	m.Reference = slices.Clone(m.Reference)
	return m
}

// Answer is one delivery of answer content for AddNewestAnswer. Content is
// the full answer so far, not a suffix.
type Answer struct {
	ID        string
	Content   string
	Reference json.RawMessage
	Done      bool
}
