package agent

import (
	"context"
	"fmt"
	"strings"

	"companion-agent/db"
	"companion-agent/events"
	"companion-agent/prompt"
)

// ActionError is the log action recorded for a failed provider call.
const ActionError = "ERROR"

// SendRequest is one user turn. Attachment paths point at files outside the
// store; they are copied into the managed tree before being referenced.
type SendRequest struct {
	Text        string          `json:"text"`
	Attachments []db.Attachment `json:"attachments,omitempty"`
}

// SendResult is the outcome of a chat turn.
type SendResult struct {
	UserMessage        *db.Message `json:"userMessage,omitempty"`
	Reply              *db.Message `json:"reply"`
	SkippedAttachments int         `json:"skippedAttachments"`
}

// SendMessage runs one synchronous chat turn. The user message is persisted
// before the provider is called and stays persisted if the call fails.
func (s *Service) SendMessage(ctx context.Context, conversationID string, req SendRequest) (*SendResult, error) {
	if _, err := s.store.GetConversation(conversationID); err != nil {
		return nil, err
	}

	result := &SendResult{}
	if strings.TrimSpace(req.Text) != "" || len(req.Attachments) > 0 {
		msg := s.store.NewMessage(db.RoleUser, req.Text)
		stored, err := s.store.StoreAttachments(conversationID, msg.ID, msg.Timestamp, req.Attachments)
		if err != nil {
			return nil, err
		}
		msg.Attachments = stored
		userMsg, err := s.store.AppendMessage(conversationID, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to save user message: %w", err)
		}
		result.UserMessage = userMsg
		s.publishChange(events.ScopeConversations, conversationID, "user_message")
		s.scheduler.Reset()
	}

	settings, err := s.store.ReadSettings()
	if err != nil {
		return result, err
	}
	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return result, err
	}
	memory, err := s.store.ReadMemory()
	if err != nil {
		return result, err
	}

	built := s.builder.Build(prompt.PurposeChat, prompt.Input{
		Conversation: conv,
		Settings:     settings,
		Memory:       memory.Items,
		Now:          s.clock.Now(),
	})
	result.SkippedAttachments = built.SkippedAttachments
	if built.SkippedAttachments > 0 {
		s.logger.Warn("Skipped %d unreadable attachments in conversation %s", built.SkippedAttachments, conversationID)
	}

	reply, err := s.generate(ctx, settings.API, built.Request)
	if err != nil {
		s.appendLog(db.LogEntry{
			Type:           db.LogTypeChat,
			ConversationID: conversationID,
			Action:         ActionError,
			Message:        err.Error(),
		})
		return result, fmt.Errorf("failed to generate reply: %w", err)
	}

	assistant, err := s.store.AppendMessage(conversationID, s.store.NewMessage(db.RoleAssistant, reply))
	if err != nil {
		return result, fmt.Errorf("failed to save reply: %w", err)
	}
	result.Reply = assistant

	s.appendLog(db.LogEntry{
		Type:           db.LogTypeChat,
		ConversationID: conversationID,
		Action:         string(prompt.ActionSend),
		Message:        reply,
		Raw:            reply,
	})
	s.publishChange(events.ScopeConversations, conversationID, "assistant_message")
	return result, nil
}
