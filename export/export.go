// Package export renders conversations as Markdown or JSON documents.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"companion-agent/db"
	"companion-agent/utils"
)

// Format represents the export format
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
)

const (
	defaultTitle    = "对话"
	allTitle        = "所有对话"
	timeLayout      = "2006-01-02 15:04:05"
	filenameLayout  = "200601021504"
	createdAtPrefix = "创建时间: "
)

// ParseFormat maps "md" and "markdown" to Markdown; anything else is JSON.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown":
		return FormatMarkdown
	default:
		return FormatJSON
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatMarkdown {
		return "text/markdown; charset=utf-8"
	}
	return "application/json"
}

// Options controls rendering.
type Options struct {
	IncludeTimestamps bool
	Location          *time.Location
}

func (o Options) format(t time.Time) string {
	loc := o.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(timeLayout)
}

// conversationExport is the JSON shape; time fields are dropped when timestamps are excluded.
type conversationExport struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
	Messages  []messageExport `json:"messages"`
}

type messageExport struct {
	ID          string          `json:"id"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	Attachments []db.Attachment `json:"attachments,omitempty"`
}

func toExport(conv *db.Conversation, opts Options) conversationExport {
	out := conversationExport{
		ID:       conv.ID,
		Title:    conv.Title,
		Messages: make([]messageExport, 0, len(conv.Messages)),
	}
	if opts.IncludeTimestamps && !conv.CreatedAt.IsZero() {
		created := conv.CreatedAt
		out.CreatedAt = &created
	}
	for _, m := range conv.Messages {
		me := messageExport{ID: m.ID, Role: m.Role, Content: m.Content, Attachments: m.Attachments}
		if opts.IncludeTimestamps && !m.Timestamp.IsZero() {
			ts := m.Timestamp
			me.Timestamp = &ts
		}
		out.Messages = append(out.Messages, me)
	}
	return out
}

// ConversationJSON exports a single conversation to JSON format
func ConversationJSON(conv *db.Conversation, opts Options) ([]byte, error) {
	data, err := json.MarshalIndent(toExport(conv, opts), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// AllJSON exports conversations as {"conversations": [...]}.
func AllJSON(convs []*db.Conversation, opts Options) ([]byte, error) {
	wrapper := struct {
		Conversations []conversationExport `json:"conversations"`
	}{Conversations: make([]conversationExport, 0, len(convs))}
	for _, c := range convs {
		wrapper.Conversations = append(wrapper.Conversations, toExport(c, opts))
	}
	data, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// ConversationMarkdown exports a single conversation to Markdown format
func ConversationMarkdown(conv *db.Conversation, opts Options) []byte {
	return []byte(conversationMarkdown(conv, opts))
}

// AllMarkdown exports conversations under one top-level heading.
func AllMarkdown(convs []*db.Conversation, opts Options) []byte {
	parts := []string{"# " + allTitle, ""}
	for _, c := range convs {
		parts = append(parts, conversationMarkdown(c, opts), "")
	}
	return []byte(strings.Join(parts, "\n"))
}

func conversationMarkdown(conv *db.Conversation, opts Options) string {
	title := conv.Title
	if title == "" {
		title = defaultTitle
	}
	lines := []string{"# " + title}
	if opts.IncludeTimestamps && !conv.CreatedAt.IsZero() {
		lines = append(lines, createdAtPrefix+opts.format(conv.CreatedAt))
	}
	lines = append(lines, "")

	for _, m := range conv.Messages {
		heading := "## " + roleName(m.Role)
		if opts.IncludeTimestamps && !m.Timestamp.IsZero() {
			heading += " · " + opts.format(m.Timestamp)
		}
		lines = append(lines, heading, "", m.Content, "")
	}
	return strings.Join(lines, "\n")
}

func roleName(role string) string {
	switch role {
	case db.RoleUser:
		return "用户"
	case db.RoleAssistant:
		return "助手"
	case "":
		return "系统"
	default:
		return role
	}
}

// Render exports one conversation in format.
func Render(conv *db.Conversation, format Format, opts Options) ([]byte, error) {
	if format == FormatMarkdown {
		return ConversationMarkdown(conv, opts), nil
	}
	return ConversationJSON(conv, opts)
}

// RenderAll exports all conversations in format.
func RenderAll(convs []*db.Conversation, format Format, opts Options) ([]byte, error) {
	if format == FormatMarkdown {
		return AllMarkdown(convs, opts), nil
	}
	return AllJSON(convs, opts)
}

// Filename generates a filename for export
func Filename(title string, format Format, now time.Time) string {
	if title == "" {
		title = defaultTitle
	}
	return utils.SafeFilename(fmt.Sprintf("%s-%s.%s", title, now.Format(filenameLayout), format))
}

// AllFilename is the filename for a full export.
func AllFilename(format Format, now time.Time) string {
	return Filename(allTitle, format, now)
}
