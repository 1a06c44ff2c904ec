package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"companion-agent/db"
	"companion-agent/events"
	"companion-agent/prompt"
)

const (
	summaryTitleSuffix = " 摘要"
	summaryTag         = "summary"
	actionRecv         = "RECV"
)

// CreateConversation creates a conversation, pins it as the proactive target
// when nothing is pinned yet, and seeds a greeting in the background when
// proactive.greetOnCreate is set.
func (s *Service) CreateConversation(title string) (*db.Conversation, error) {
	conv, err := s.store.CreateConversation(title)
	if err != nil {
		return nil, err
	}
	settings, err := s.store.UpdateSettings(func(settings *db.Settings) error {
		if settings.UI.ProactiveConversationID == "" {
			settings.UI.ProactiveConversationID = conv.ID
		}
		settings.UI.CurrentConversationID = conv.ID
		return nil
	})
	if err != nil {
		return conv, err
	}
	s.publishChange(events.ScopeConversations, conv.ID, "created")
	if settings.Proactive.GreetOnCreate {
		s.greetAsync(conv.ID)
	}
	return conv, nil
}

// DeleteConversation deletes a conversation and its attachments.
func (s *Service) DeleteConversation(id string) error {
	if err := s.store.DeleteConversation(id); err != nil {
		return err
	}
	s.publishChange(events.ScopeConversations, id, "deleted")
	return nil
}

// RenameConversation changes a conversation's title.
func (s *Service) RenameConversation(id, title string) (*db.Conversation, error) {
	conv, err := s.store.RenameConversation(id, title)
	if err != nil {
		return nil, err
	}
	s.publishChange(events.ScopeConversations, id, "renamed")
	return conv, nil
}

// AppendMessage stores a message without calling the provider, copying its
// attachments into the managed tree first.
func (s *Service) AppendMessage(conversationID, role string, req SendRequest) (*db.Message, error) {
	if role != db.RoleAssistant {
		role = db.RoleUser
	}
	if _, err := s.store.GetConversation(conversationID); err != nil {
		return nil, err
	}
	msg := s.store.NewMessage(role, req.Text)
	stored, err := s.store.StoreAttachments(conversationID, msg.ID, msg.Timestamp, req.Attachments)
	if err != nil {
		return nil, err
	}
	msg.Attachments = stored
	out, err := s.store.AppendMessage(conversationID, msg)
	if err != nil {
		return nil, err
	}
	s.publishChange(events.ScopeConversations, conversationID, "message_added")
	if role == db.RoleUser {
		s.scheduler.Reset()
	}
	return out, nil
}

// UpdateMessage edits a message's content.
func (s *Service) UpdateMessage(conversationID, messageID, content string) (*db.Message, error) {
	msg, err := s.store.UpdateMessage(conversationID, messageID, content)
	if err != nil {
		return nil, err
	}
	s.publishChange(events.ScopeConversations, conversationID, "message_updated")
	return msg, nil
}

// DeleteMessage removes a message and its attachments.
func (s *Service) DeleteMessage(conversationID, messageID string) error {
	if err := s.store.DeleteMessage(conversationID, messageID); err != nil {
		return err
	}
	s.publishChange(events.ScopeConversations, conversationID, "message_deleted")
	return nil
}

// SetCurrentConversation records the UI selection.
func (s *Service) SetCurrentConversation(id string) (*db.Settings, error) {
	if id != "" {
		if _, err := s.store.GetConversation(id); err != nil {
			return nil, err
		}
	}
	settings, err := s.store.SetCurrentConversation(id)
	if err != nil {
		return nil, err
	}
	s.publishChange(events.ScopeSettings, id, "current")
	return settings, nil
}

// PinProactive sets the proactive target; an empty id unpins.
func (s *Service) PinProactive(id string) (*db.Settings, error) {
	if id != "" {
		if _, err := s.store.GetConversation(id); err != nil {
			return nil, err
		}
	}
	settings, err := s.store.PinProactive(id)
	if err != nil {
		return nil, err
	}
	s.publishChange(events.ScopeSettings, id, "pinned")
	return settings, nil
}

// UpdateSettings shallow-merges patch into the settings document and rebuilds
// the scheduler from the result.
func (s *Service) UpdateSettings(patch db.SettingsPatch) (*db.Settings, error) {
	settings, err := s.store.PatchSettings(patch)
	if err != nil {
		return nil, err
	}
	s.scheduler.Start(settings.Proactive)
	s.publishChange(events.ScopeSettings, "", "updated")
	return settings, nil
}

// AddMemory stores a memory item.
func (s *Service) AddMemory(title, content string, tags []string) (*db.MemoryItem, error) {
	item, err := s.store.AddMemory(title, content, tags)
	if err != nil {
		return nil, err
	}
	s.publishChange(events.ScopeMemory, "", "added")
	return item, nil
}

// UpdateMemory replaces a memory item's fields.
func (s *Service) UpdateMemory(id, title, content string, tags []string) (*db.MemoryItem, error) {
	item, err := s.store.UpdateMemoryItem(id, title, content, tags)
	if err != nil {
		return nil, err
	}
	s.publishChange(events.ScopeMemory, "", "updated")
	return item, nil
}

// DeleteMemory removes a memory item.
func (s *Service) DeleteMemory(id string) error {
	if err := s.store.DeleteMemory(id); err != nil {
		return err
	}
	s.publishChange(events.ScopeMemory, "", "deleted")
	return nil
}

// SummarizeToMemory condenses the recent history of a conversation into a
// new memory item tagged "summary".
func (s *Service) SummarizeToMemory(ctx context.Context, conversationID string) (*db.MemoryItem, error) {
	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	settings, err := s.store.ReadSettings()
	if err != nil {
		return nil, err
	}
	memory, err := s.store.ReadMemory()
	if err != nil {
		return nil, err
	}

	built := s.builder.Build(prompt.PurposeSummary, prompt.Input{
		Conversation: conv,
		Settings:     settings,
		Memory:       memory.Items,
		Now:          s.clock.Now(),
	})
	summary, err := s.generate(ctx, settings.API, built.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize conversation: %w", err)
	}
	return s.AddMemory(conv.Title+summaryTitleSuffix, strings.TrimSpace(summary), []string{summaryTag})
}

// TestAPI sends the diagnostic prompt using the stored API settings with
// apiPatch overlaid. Nothing is persisted except the log entry.
func (s *Service) TestAPI(ctx context.Context, apiPatch json.RawMessage) (string, error) {
	settings, err := s.store.ReadSettings()
	if err != nil {
		return "", err
	}
	api, err := mergeAPI(settings.API, apiPatch)
	if err != nil {
		return "", err
	}
	reply, err := s.generate(ctx, api, prompt.Test())
	if err != nil {
		s.appendLog(db.LogEntry{Type: db.LogTypeTest, Action: ActionError, Message: err.Error()})
		return "", err
	}
	s.appendLog(db.LogEntry{Type: db.LogTypeTest, Action: actionRecv, Message: reply, Raw: reply})
	return reply, nil
}

// greetAsync generates an opening message from persona and memory alone.
// The caller does not wait for it; failures are logged.
func (s *Service) greetAsync(conversationID string) {
	s.goBackground("greeting", func() {
		if err := s.greet(context.Background(), conversationID); err != nil {
			s.logger.Warn("Greeting for conversation %s failed: %v", conversationID, err)
		}
	})
}

func (s *Service) greet(ctx context.Context, conversationID string) error {
	settings, err := s.store.ReadSettings()
	if err != nil {
		return err
	}
	memory, err := s.store.ReadMemory()
	if err != nil {
		return err
	}
	reply, err := s.generate(ctx, settings.API, s.builder.Greeting(settings, memory.Items))
	if err != nil {
		return err
	}
	if strings.TrimSpace(reply) == "" {
		return nil
	}
	if _, err := s.store.AppendMessage(conversationID, s.store.NewMessage(db.RoleAssistant, reply)); err != nil {
		return err
	}
	s.publishChange(events.ScopeConversations, conversationID, "greeting")
	return nil
}
