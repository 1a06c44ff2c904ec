package prompt

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion-agent/db"
	"companion-agent/llm"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestBuilder(files map[string][]byte) *Builder {
	b := NewBuilder(func(a db.Attachment) ([]byte, error) {
		data, ok := files[a.Path]
		if !ok {
			return nil, errors.New("not found")
		}
		return data, nil
	})
	b.Location = time.UTC
	return b
}

func conversation(n int) *db.Conversation {
	conv := &db.Conversation{ID: "conv_1", Title: "t"}
	for i := 0; i < n; i++ {
		role := db.RoleUser
		if i%2 == 1 {
			role = db.RoleAssistant
		}
		conv.Messages = append(conv.Messages, &db.Message{
			ID:        fmt.Sprintf("msg_%d", i),
			Role:      role,
			Content:   fmt.Sprintf("m%d", i),
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
		})
	}
	return conv
}

func TestWindowClamps(t *testing.T) {
	api := db.APISettings{HistoryMessages: 10000, ProactiveHistoryMessages: 10000, SummaryHistoryMessages: 10000}
	assert.Equal(t, db.MaxChatHistory, Window(PurposeChat, api))
	assert.Equal(t, db.MaxChatHistory, Window(PurposeProactive, api))
	assert.Equal(t, db.MaxSummaryHistory, Window(PurposeSummary, api))

	assert.Equal(t, db.DefaultChatHistory, Window(PurposeChat, db.APISettings{}))
	assert.Equal(t, db.DefaultProactiveHistory, Window(PurposeProactive, db.APISettings{}))
	assert.Equal(t, db.DefaultSummaryHistory, Window(PurposeSummary, db.APISettings{}))
}

func TestBuildChatUsesRecentWindow(t *testing.T) {
	settings := db.DefaultSettings()
	settings.API.HistoryMessages = 3
	settings.UI.Names = db.Names{User: "小明", Model: "小助"}

	res := newTestBuilder(nil).Build(PurposeChat, Input{Conversation: conversation(6), Settings: settings})
	req := res.Request
	require.Len(t, req.Turns, 3)
	assert.Equal(t, "[2024-03-01 09:03:00] 小助: m3", req.Turns[0].Text)
	assert.Equal(t, llm.RoleAssistant, req.Turns[0].Role)
	assert.Equal(t, "[2024-03-01 09:05:00] 小助: m5", req.Turns[2].Text)
	assert.Equal(t, settings.API.MaxTokens, req.MaxTokens)
	assert.Equal(t, settings.API.Temperature, req.Temperature)
	assert.Contains(t, req.Instruction, "请继续你的上一条消息")
}

func TestBuildChatAfterUserMessage(t *testing.T) {
	res := newTestBuilder(nil).Build(PurposeChat, Input{Conversation: conversation(1)})
	assert.Contains(t, res.Request.Instruction, "请继续回复消息")
	assert.True(t, strings.HasPrefix(res.Request.Instruction, historyEnd))
}

func TestBuildMemoryMarkers(t *testing.T) {
	var memory []*db.MemoryItem
	for i := 0; i < 7; i++ {
		memory = append(memory, &db.MemoryItem{ID: fmt.Sprintf("mem_%d", i), Title: fmt.Sprintf("title%d", i), Content: "c"})
	}
	settings := db.DefaultSettings()
	settings.Persona = "PERSONA"

	res := newTestBuilder(nil).Build(PurposeChat, Input{Settings: settings, Memory: memory})
	system := res.Request.System
	assert.True(t, strings.HasPrefix(system, "PERSONA\n\n"+memoryBegin))
	assert.Contains(t, system, memoryEnd)
	assert.True(t, strings.HasSuffix(system, historyBegin+"\n"))
	assert.NotContains(t, system, "title1")
	assert.Contains(t, system, "- title2: \nc\n")
	assert.Contains(t, system, "- title6: \nc\n")
}

func TestBuildWithoutMemoryIsPersonaOnly(t *testing.T) {
	settings := db.DefaultSettings()
	res := newTestBuilder(nil).Build(PurposeChat, Input{Settings: settings})
	assert.Equal(t, settings.Persona, res.Request.System)
	assert.Empty(t, res.Request.Turns)
}

func TestBuildAttachments(t *testing.T) {
	conv := conversation(1)
	conv.Messages[0].Attachments = []db.Attachment{
		{Path: "attachments/a.png"},
		{Path: "attachments/b.pdf", Mime: "application/pdf"},
		{Path: "attachments/gone.png"},
	}
	files := map[string][]byte{
		"attachments/a.png": []byte("png"),
		"attachments/b.pdf": []byte("pdf"),
	}

	res := newTestBuilder(files).Build(PurposeChat, Input{Conversation: conv})
	assert.Equal(t, 1, res.SkippedAttachments)
	atts := res.Request.Turns[0].Attachments
	require.Len(t, atts, 2)
	assert.Equal(t, "image/png", atts[0].MimeType)
	assert.Equal(t, []byte("png"), atts[0].Data)
	assert.Equal(t, "application/pdf", atts[1].MimeType)
}

func TestBuildProactive(t *testing.T) {
	settings := db.DefaultSettings()
	settings.API.MaxTokens = 1000
	settings.UI.Names.User = "小明"
	now := time.Date(2024, 5, 6, 21, 30, 0, 0, time.UTC)
	b := newTestBuilder(nil)

	short := b.Build(PurposeProactive, Input{Conversation: conversation(2), Settings: settings, Now: now}).Request
	assert.Equal(t, proactiveMaxTokens, short.MaxTokens)
	assert.Contains(t, short.Instruction, "2024-05-06 21:30")
	assert.Contains(t, short.Instruction, "一段时间没有回复你")
	assert.Contains(t, short.Instruction, "SKIP")
	assert.Contains(t, short.Instruction, "SEND: <消息>")

	long := b.Build(PurposeProactive, Input{Conversation: conversation(3), Settings: settings, Now: now}).Request
	assert.NotContains(t, long.Instruction, "一段时间没有回复你")
	assert.Contains(t, long.Instruction, "小明")

	settings.API.MaxTokens = 100
	small := b.Build(PurposeProactive, Input{Conversation: conversation(3), Settings: settings, Now: now}).Request
	assert.Equal(t, 100, small.MaxTokens)
}

func TestBuildSummary(t *testing.T) {
	settings := db.DefaultSettings()
	settings.UI.Names = db.Names{User: "小明", Model: "小助"}
	req := newTestBuilder(nil).Build(PurposeSummary, Input{Conversation: conversation(4), Settings: settings}).Request
	assert.Equal(t, summaryMaxTokens, req.MaxTokens)
	assert.Equal(t, summaryTemperature, req.Temperature)
	assert.Contains(t, req.Instruction, "记忆条目以小助作为第一人称来写")
	assert.Len(t, req.Turns, 4)
}

func TestGreetingAndTest(t *testing.T) {
	settings := db.DefaultSettings()
	settings.UI.Names.User = "小明"
	greet := newTestBuilder(nil).Greeting(settings, nil)
	assert.Empty(t, greet.Turns)
	assert.Equal(t, settings.Persona, greet.System)
	assert.Contains(t, greet.Instruction, "你需要向小明发送一条打招呼的信息")

	test := Test()
	assert.Equal(t, testMaxTokens, test.MaxTokens)
	assert.Zero(t, test.Temperature)
	assert.Equal(t, testSystem, test.System)
	assert.Equal(t, testInstruction, test.Instruction)
}

func TestRenderLineWithoutTimestamp(t *testing.T) {
	b := newTestBuilder(nil)
	line := b.renderLine(&db.Message{Role: db.RoleUser, Content: "hi"}, db.Names{})
	assert.Equal(t, "User: hi", line)
}
