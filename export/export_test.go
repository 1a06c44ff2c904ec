package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion-agent/db"
)

func sampleConversation() *db.Conversation {
	created := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	return &db.Conversation{
		ID:        "conv_1",
		Title:     "早安",
		CreatedAt: created,
		Messages: []*db.Message{
			{ID: "m1", Role: db.RoleUser, Content: "早", Timestamp: created.Add(time.Minute)},
			{ID: "m2", Role: db.RoleAssistant, Content: "早上好", Timestamp: created.Add(2 * time.Minute)},
		},
	}
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatMarkdown, ParseFormat("md"))
	assert.Equal(t, FormatMarkdown, ParseFormat("Markdown"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatJSON, ParseFormat(""))
}

func TestConversationMarkdown(t *testing.T) {
	opts := Options{IncludeTimestamps: true, Location: time.UTC}
	md := string(ConversationMarkdown(sampleConversation(), opts))

	assert.True(t, strings.HasPrefix(md, "# 早安\n创建时间: 2024-03-02 08:00:00\n"))
	assert.Contains(t, md, "## 用户 · 2024-03-02 08:01:00\n\n早\n")
	assert.Contains(t, md, "## 助手 · 2024-03-02 08:02:00\n\n早上好\n")

	md = string(ConversationMarkdown(sampleConversation(), Options{}))
	assert.NotContains(t, md, "创建时间")
	assert.Contains(t, md, "## 用户\n\n早\n")
}

func TestConversationJSONWithoutTimestamps(t *testing.T) {
	data, err := ConversationJSON(sampleConversation(), Options{})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "createdAt")
	messages := raw["messages"].([]any)
	require.Len(t, messages, 2)
	assert.NotContains(t, messages[0].(map[string]any), "timestamp")

	data, err = ConversationJSON(sampleConversation(), Options{IncludeTimestamps: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"createdAt": "2024-03-02T08:00:00Z"`)
}

func TestRenderAll(t *testing.T) {
	convs := []*db.Conversation{sampleConversation(), {ID: "conv_2", Messages: []*db.Message{}}}

	md, err := RenderAll(convs, FormatMarkdown, Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# 所有对话\n"))
	assert.Contains(t, string(md), "# 对话\n")

	data, err := RenderAll(convs, FormatJSON, Options{})
	require.NoError(t, err)
	var wrapper struct {
		Conversations []map[string]any `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(data, &wrapper))
	assert.Len(t, wrapper.Conversations, 2)
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 3, 2, 8, 5, 0, 0, time.UTC)
	assert.Equal(t, "a_b-202403020805.md", Filename("a/b", FormatMarkdown, now))
	assert.Equal(t, "所有对话-202403020805.json", AllFilename(FormatJSON, now))
}
