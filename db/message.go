package db

import (
	"fmt"
)

// NewMessage builds a message stamped with the store clock. It is not persisted.
func (s *Store) NewMessage(role, content string) *Message {
	return &Message{
		ID:        s.NewID("msg"),
		Role:      role,
		Content:   content,
		Timestamp: s.Now(),
	}
}

// AppendMessage appends msg to the conversation. The timestamp is raised if
// needed so messages stay ordered by send time.
func (s *Store) AppendMessage(conversationID string, msg *Message) (*Message, error) {
	var out *Message
	err := s.UpdateConversations(func(doc *ConversationsDoc) error {
		conv := doc.Find(conversationID)
		if conv == nil {
			return ErrConversationNotFound
		}
		m := msg.Clone()
		if m.ID == "" {
			m.ID = s.NewID("msg")
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = s.Now()
		}
		if n := len(conv.Messages); n > 0 {
			if last := conv.Messages[n-1].Timestamp; !m.Timestamp.After(last) {
				m.Timestamp = last.Add(syntheticStep)
			}
		}
		conv.Messages = append(conv.Messages, m)
		out = m.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateMessage updates a message's content
func (s *Store) UpdateMessage(conversationID, messageID, content string) (*Message, error) {
	var out *Message
	err := s.UpdateConversations(func(doc *ConversationsDoc) error {
		conv := doc.Find(conversationID)
		if conv == nil {
			return ErrConversationNotFound
		}
		m := conv.FindMessage(messageID)
		if m == nil {
			return ErrMessageNotFound
		}
		m.Content = content
		out = m.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return out, nil
}

// DeleteMessage deletes a message and, best-effort, its attachment files.
func (s *Store) DeleteMessage(conversationID, messageID string) error {
	var removed *Message
	err := s.UpdateConversations(func(doc *ConversationsDoc) error {
		conv := doc.Find(conversationID)
		if conv == nil {
			return ErrConversationNotFound
		}
		kept := conv.Messages[:0]
		for _, m := range conv.Messages {
			if m.ID == messageID {
				removed = m
				continue
			}
			kept = append(kept, m)
		}
		if removed == nil {
			return ErrMessageNotFound
		}
		conv.Messages = kept
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	s.removeAttachments(removed)
	return nil
}
