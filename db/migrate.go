package db

import (
	"time"

	"companion-agent/utils"
)

// syntheticStep separates back-filled message timestamps.
const syntheticStep = time.Millisecond

// migrateConversations back-fills fields written by older versions and
// reports whether anything changed. Running it on its own output is a no-op.
func migrateConversations(doc *ConversationsDoc, now time.Time, newID func(string) string) bool {
	changed := false
	if doc.Conversations == nil {
		doc.Conversations = []*Conversation{}
		changed = true
	}

	seen := make(map[string]bool, len(doc.Conversations))
	kept := doc.Conversations[:0]
	for _, c := range doc.Conversations {
		if c == nil {
			changed = true
			continue
		}
		if c.ID != "" && seen[c.ID] {
			c.ID = ""
		}
		if migrateConversation(c, now, newID) {
			changed = true
		}
		seen[c.ID] = true
		kept = append(kept, c)
	}
	doc.Conversations = kept
	return changed
}

func migrateConversation(c *Conversation, now time.Time, newID func(string) string) bool {
	changed := c.rewrite
	c.rewrite = false
	if c.ID == "" {
		c.ID = newID("conv")
		changed = true
	}
	if c.Messages == nil {
		c.Messages = []*Message{}
		changed = true
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = firstTimestamp(c.Messages, now)
		changed = true
	}
	if c.Title == "" {
		c.Title = FormatStartTime(c.CreatedAt)
		changed = true
	}

	last := c.CreatedAt
	seen := make(map[string]bool, len(c.Messages))
	kept := c.Messages[:0]
	for _, m := range c.Messages {
		if m == nil {
			changed = true
			continue
		}
		if m.rewrite {
			m.rewrite = false
			changed = true
		}
		// Millisecond-based legacy ids can collide; later duplicates get a fresh id.
		if m.ID == "" || seen[m.ID] {
			m.ID = newID("msg")
			changed = true
		}
		seen[m.ID] = true
		if m.Role == "" {
			m.Role = RoleUser
			changed = true
		}
		if foldLegacyAttachments(m) {
			changed = true
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = last.Add(syntheticStep)
			changed = true
		}
		if m.Timestamp.After(last) {
			last = m.Timestamp
		}
		kept = append(kept, m)
	}
	c.Messages = kept
	return changed
}

// firstTimestamp is the earliest usable creation time for a conversation
// lacking createdAt: just before its first stamped message, or now.
func firstTimestamp(messages []*Message, now time.Time) time.Time {
	for _, m := range messages {
		if m != nil && !m.Timestamp.IsZero() {
			return m.Timestamp.Add(-syntheticStep * time.Duration(len(messages)+1))
		}
	}
	return now
}

func foldLegacyAttachments(m *Message) bool {
	changed := false
	if m.ImagePath != "" {
		mime := m.ImageMime
		if mime == "" {
			mime = utils.GetMimeType(m.ImagePath)
		}
		m.Attachments = append(m.Attachments, Attachment{Path: m.ImagePath, Mime: mime})
		m.ImagePath, m.ImageMime = "", ""
		changed = true
	}
	if m.PDFPath != "" {
		m.Attachments = append(m.Attachments, Attachment{Path: m.PDFPath, Mime: "application/pdf"})
		m.PDFPath = ""
		changed = true
	}
	for i := range m.Attachments {
		if m.Attachments[i].Mime == "" {
			m.Attachments[i].Mime = utils.GetMimeType(m.Attachments[i].Path)
			changed = true
		}
	}
	return changed
}

func migrateMemory(doc *MemoryDoc, now time.Time, newID func(string) string) bool {
	changed := false
	if doc.Items == nil {
		doc.Items = []*MemoryItem{}
		changed = true
	}
	seen := make(map[string]bool, len(doc.Items))
	kept := doc.Items[:0]
	for _, it := range doc.Items {
		if it == nil {
			changed = true
			continue
		}
		if it.rewrite {
			it.rewrite = false
			changed = true
		}
		if it.ID == "" || seen[it.ID] {
			it.ID = newID("mem")
			changed = true
		}
		seen[it.ID] = true
		if it.Title == "" {
			it.Title = DefaultMemoryTitle
			changed = true
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
			changed = true
		}
		if it.Tags == nil {
			it.Tags = []string{}
			changed = true
		}
		kept = append(kept, it)
	}
	doc.Items = kept
	return changed
}

// FormatStartTime renders the default title of a conversation created at t.
func FormatStartTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
