// Package prompt turns conversations, settings and memory into provider
// agnostic llm.Requests. It reads attachment bytes but never touches the
// document store.
package prompt

import (
	"fmt"
	"time"

	"companion-agent/db"
	"companion-agent/llm"
	"companion-agent/utils"
)

// Purpose selects the history window, instruction and sampling limits.
type Purpose string

const (
	PurposeChat      Purpose = "chat"
	PurposeProactive Purpose = "proactive"
	PurposeSummary   Purpose = "summary"
)

// Token limits for the purposes that override the configured values.
const (
	proactiveMaxTokens   = 180
	summaryMaxTokens     = 300
	summaryTemperature   = 0.5
	testMaxTokens        = 5
	timestampLayout      = "2006-01-02 15:04:05"
	proactiveClockLayout = "2006-01-02 15:04"
)

// Input is a snapshot of everything a prompt is built from.
type Input struct {
	Conversation *db.Conversation
	Settings     *db.Settings
	Memory       []*db.MemoryItem // full memory list; only the most recent items are used
	Now          time.Time
}

// Result is a built request plus the number of attachments that could not be read.
type Result struct {
	Request            *llm.Request
	SkippedAttachments int
}

// Builder builds requests. ReadAttachment loads attachment bytes at build time.
type Builder struct {
	ReadAttachment func(a db.Attachment) ([]byte, error)
	Location       *time.Location
}

// NewBuilder creates a builder reading attachments through read.
func NewBuilder(read func(a db.Attachment) ([]byte, error)) *Builder {
	return &Builder{ReadAttachment: read, Location: time.Local}
}

// Window returns the number of history messages used for purpose, clamped to its maximum.
func Window(purpose Purpose, api db.APISettings) int {
	switch purpose {
	case PurposeProactive:
		return db.ClampHistory(api.ProactiveHistoryMessages, db.DefaultProactiveHistory, db.MaxChatHistory)
	case PurposeSummary:
		return db.ClampHistory(api.SummaryHistoryMessages, db.DefaultSummaryHistory, db.MaxSummaryHistory)
	default:
		return db.ClampHistory(api.HistoryMessages, db.DefaultChatHistory, db.MaxChatHistory)
	}
}

// Build produces the request for purpose.
func (b *Builder) Build(purpose Purpose, in Input) Result {
	settings := in.Settings
	if settings == nil {
		settings = db.DefaultSettings()
	}
	memory := recentMemory(in.Memory)

	var messages []*db.Message
	if in.Conversation != nil {
		messages = recent(in.Conversation.Messages, Window(purpose, settings.API))
	}
	turns, skipped := b.turns(messages, settings.UI.Names)

	req := &llm.Request{
		System:      systemPreamble(settings.Persona, memory),
		Turns:       turns,
		MaxTokens:   settings.API.MaxTokens,
		Temperature: settings.API.Temperature,
	}

	switch purpose {
	case PurposeProactive:
		now := in.Now
		if now.IsZero() {
			now = time.Now()
		}
		req.Instruction = proactiveInstruction(now.In(b.location()).Format(proactiveClockLayout),
			settings.UI.Names.UserName(), len(messages))
		if req.MaxTokens <= 0 || req.MaxTokens > proactiveMaxTokens {
			req.MaxTokens = proactiveMaxTokens
		}
	case PurposeSummary:
		req.Instruction = summaryInstruction(settings.UI.Names)
		req.MaxTokens = summaryMaxTokens
		req.Temperature = summaryTemperature
	default:
		lastRole := db.RoleUser
		if n := len(messages); n > 0 {
			lastRole = messages[n-1].Role
		}
		req.Instruction = chatInstruction(lastRole)
	}

	return Result{Request: req, SkippedAttachments: skipped}
}

// Greeting builds the first message of a new conversation from persona and memory alone.
func (b *Builder) Greeting(settings *db.Settings, memory []*db.MemoryItem) *llm.Request {
	if settings == nil {
		settings = db.DefaultSettings()
	}
	return &llm.Request{
		System:      systemPreamble(settings.Persona, recentMemory(memory)),
		Instruction: greetingInstruction(settings.UI.Names),
		MaxTokens:   settings.API.MaxTokens,
		Temperature: settings.API.Temperature,
	}
}

// Test builds the connectivity check request.
func Test() *llm.Request {
	return &llm.Request{
		System:      testSystem,
		Instruction: testInstruction,
		MaxTokens:   testMaxTokens,
		Temperature: 0,
	}
}

// turns renders each message as a labelled line and inlines its attachments.
// Unreadable attachments are skipped and counted.
func (b *Builder) turns(messages []*db.Message, names db.Names) ([]llm.Turn, int) {
	turns := make([]llm.Turn, 0, len(messages))
	skipped := 0
	for _, m := range messages {
		turn := llm.Turn{
			Role: llm.RoleUser,
			Text: b.renderLine(m, names),
		}
		if m.Role == db.RoleAssistant {
			turn.Role = llm.RoleAssistant
		}
		for _, a := range m.Attachments {
			if a.Path == "" || b.ReadAttachment == nil {
				skipped++
				continue
			}
			data, err := b.ReadAttachment(a)
			if err != nil {
				skipped++
				continue
			}
			mime := a.Mime
			if mime == "" {
				mime = utils.GetMimeType(a.Path)
			}
			turn.Attachments = append(turn.Attachments, llm.Attachment{MimeType: mime, Data: data})
		}
		turns = append(turns, turn)
	}
	return turns, skipped
}

func (b *Builder) renderLine(m *db.Message, names db.Names) string {
	label := names.UserName()
	if m.Role == db.RoleAssistant {
		label = names.ModelName()
	}
	if m.Timestamp.IsZero() {
		return fmt.Sprintf("%s: %s", label, m.Content)
	}
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.In(b.location()).Format(timestampLayout), label, m.Content)
}

func (b *Builder) location() *time.Location {
	if b.Location == nil {
		return time.Local
	}
	return b.Location
}

func recent(messages []*db.Message, n int) []*db.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

func recentMemory(items []*db.MemoryItem) []*db.MemoryItem {
	doc := db.MemoryDoc{Items: items}
	return doc.Recent(db.RecentMemoryCount)
}
