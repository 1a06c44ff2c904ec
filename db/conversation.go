package db

import (
	"fmt"
	"sort"
)

// ListConversations returns all conversations ordered by creation time, newest first.
func (s *Store) ListConversations() ([]*Conversation, error) {
	doc, err := s.ReadConversations()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	list := doc.Conversations
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// GetConversation retrieves a conversation by ID
func (s *Store) GetConversation(id string) (*Conversation, error) {
	doc, err := s.ReadConversations()
	if err != nil {
		return nil, err
	}
	conv := doc.Find(id)
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// CreateConversation creates a new conversation; an empty title becomes the formatted start time.
func (s *Store) CreateConversation(title string) (*Conversation, error) {
	now := s.Now()
	if title == "" {
		title = FormatStartTime(now)
	}
	conv := &Conversation{
		ID:        s.NewID("conv"),
		Title:     title,
		CreatedAt: now,
		Messages:  []*Message{},
	}

	err := s.UpdateConversations(func(doc *ConversationsDoc) error {
		doc.Conversations = append(doc.Conversations, conv)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv.Clone(), nil
}

// RenameConversation updates a conversation's title
func (s *Store) RenameConversation(id, title string) (*Conversation, error) {
	var out *Conversation
	err := s.UpdateConversations(func(doc *ConversationsDoc) error {
		conv := doc.Find(id)
		if conv == nil {
			return ErrConversationNotFound
		}
		conv.Title = title
		out = conv.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteConversation deletes a conversation and all its messages. Pin,
// selection and manual ordering that reference it are cleared, and its
// attachment files are removed best-effort.
func (s *Store) DeleteConversation(id string) error {
	var removed *Conversation
	err := s.UpdateConversations(func(doc *ConversationsDoc) error {
		kept := doc.Conversations[:0]
		for _, c := range doc.Conversations {
			if c.ID == id {
				removed = c
				continue
			}
			kept = append(kept, c)
		}
		if removed == nil {
			return ErrConversationNotFound
		}
		doc.Conversations = kept
		return nil
	})
	if err != nil {
		return err
	}

	_, err = s.UpdateSettings(func(settings *Settings) error {
		if settings.UI.ProactiveConversationID == id {
			settings.UI.ProactiveConversationID = ""
		}
		if settings.UI.CurrentConversationID == id {
			settings.UI.CurrentConversationID = ""
		}
		order := settings.UI.ConversationOrder[:0]
		for _, cid := range settings.UI.ConversationOrder {
			if cid != id {
				order = append(order, cid)
			}
		}
		settings.UI.ConversationOrder = order
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range removed.Messages {
		s.removeAttachments(m)
	}
	return nil
}
