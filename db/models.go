package db

import "time"

// Document names understood by the Store.
const (
	DocSettings      = "settings"
	DocConversations = "conversations"
	DocMemory        = "memory"
	DocLogs          = "logs"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Log entry types.
const (
	LogTypeChat      = "chat"
	LogTypeProactive = "proactive"
	LogTypeTest      = "test"
)

// Conversation represents a chat conversation
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	Messages  []*Message `json:"messages"`

	rewrite bool // createdAt was decoded from a non-canonical value
}

// Message represents a single message in a conversation
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"` // "user" or "assistant"
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Legacy single-attachment fields, folded into Attachments on read.
	ImagePath string `json:"imagePath,omitempty"`
	ImageMime string `json:"imageMime,omitempty"`
	PDFPath   string `json:"pdfPath,omitempty"`

	rewrite bool // timestamp was decoded from a non-canonical value
}

// Attachment references a file kept under the managed attachment tree.
type Attachment struct {
	Path string `json:"path"`
	Mime string `json:"mime"`
}

// MemoryItem is a durable note injected into future prompts.
type MemoryItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Tags      []string  `json:"tags"`

	rewrite bool
}

// LogEntry is one diagnostic record of a provider exchange.
type LogEntry struct {
	ID             string    `json:"id"`
	Time           time.Time `json:"time"`
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Action         string    `json:"action"`
	Message        string    `json:"message"`
	Raw            string    `json:"raw"`
}

// ConversationsDoc is the persisted shape of the conversations document.
type ConversationsDoc struct {
	Conversations []*Conversation `json:"conversations"`
}

// MemoryDoc is the persisted shape of the memory document.
type MemoryDoc struct {
	Items []*MemoryItem `json:"items"`
}

// LogsDoc is the persisted shape of the logs document.
type LogsDoc struct {
	Items []*LogEntry `json:"items"`
}

// Find returns the conversation with id, or nil.
func (d *ConversationsDoc) Find(id string) *Conversation {
	for _, c := range d.Conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy so callers can hold it across I/O without aliasing store state.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return &out
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return &out
}

// FindMessage returns the message with id, or nil.
func (c *Conversation) FindMessage(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}
