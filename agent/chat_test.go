package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion-agent/db"
	"companion-agent/events"
	"companion-agent/llm"
	"companion-agent/utils"
)

func TestSendMessagePersistsReply(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	conv, err := env.store.CreateConversation("chat")
	require.NoError(t, err)
	env.provider.replies = []string{"我在呢"}

	result, err := env.svc.SendMessage(context.Background(), conv.ID, SendRequest{Text: "在吗"})
	require.NoError(t, err)
	require.NotNil(t, result.UserMessage)
	require.NotNil(t, result.Reply)
	assert.Equal(t, "我在呢", result.Reply.Content)

	got, err := env.store.GetConversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, db.RoleUser, got.Messages[0].Role)
	assert.Equal(t, db.RoleAssistant, got.Messages[1].Role)
	assert.True(t, got.Messages[1].Timestamp.After(got.Messages[0].Timestamp))

	req := env.provider.lastRequest()
	require.Len(t, req.Turns, 1)
	assert.Contains(t, req.Turns[0].Text, "在吗")
	assert.Contains(t, req.Instruction, "请继续回复消息")

	logs := env.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, db.LogTypeChat, logs[0].Type)
	assert.Equal(t, "SEND", logs[0].Action)
}

func TestSendMessageUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.SendMessage(context.Background(), "conv_missing", SendRequest{Text: "hi"})
	assert.True(t, errors.Is(err, db.ErrConversationNotFound))
	assert.Equal(t, 0, env.provider.calls())
}

func TestSendMessageKeepsUserMessageOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	conv, err := env.store.CreateConversation("")
	require.NoError(t, err)
	env.provider.err = &llm.ProviderError{Provider: "fake", Status: 401, Body: "unauthorized"}

	_, err = env.svc.SendMessage(context.Background(), conv.ID, SendRequest{Text: "hello"})
	require.Error(t, err)
	var perr *llm.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 401, perr.Status)

	got, err := env.store.GetConversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestSendMessageEmptyReplyIsPersisted(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	conv, err := env.store.CreateConversation("")
	require.NoError(t, err)

	result, err := env.svc.SendMessage(context.Background(), conv.ID, SendRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "", result.Reply.Content)

	got, err := env.store.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
}

func TestSendMessageWithoutInputContinues(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	conv, err := env.store.CreateConversation("")
	require.NoError(t, err)
	_, err = env.store.AppendMessage(conv.ID, env.store.NewMessage(db.RoleAssistant, "first"))
	require.NoError(t, err)
	env.provider.replies = []string{"second"}

	result, err := env.svc.SendMessage(context.Background(), conv.ID, SendRequest{Text: "  "})
	require.NoError(t, err)
	assert.Nil(t, result.UserMessage)
	assert.Contains(t, env.provider.lastRequest().Instruction, "请继续你的上一条消息")
}

func TestSendMessageCopiesAttachments(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	conv, err := env.store.CreateConversation("")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "photo.png")
	content := []byte("\x89PNG fake image")
	require.NoError(t, os.WriteFile(src, content, 0644))
	env.provider.replies = []string{"nice"}

	result, err := env.svc.SendMessage(context.Background(), conv.ID, SendRequest{
		Text:        "look",
		Attachments: []db.Attachment{{Path: src}},
	})
	require.NoError(t, err)
	require.Len(t, result.UserMessage.Attachments, 1)
	stored := result.UserMessage.Attachments[0]
	assert.True(t, strings.HasPrefix(stored.Path, "attachments/"))
	assert.Equal(t, "image/png", stored.Mime)

	data, err := os.ReadFile(env.store.ResolveAttachment(stored.Path))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	req := env.provider.lastRequest()
	require.Len(t, req.Turns, 1)
	require.Len(t, req.Turns[0].Attachments, 1)
	assert.Equal(t, content, req.Turns[0].Attachments[0].Data)
	assert.Equal(t, 0, result.SkippedAttachments)
}

func TestSendMessageMissingAttachmentFails(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	conv, err := env.store.CreateConversation("")
	require.NoError(t, err)

	_, err = env.svc.SendMessage(context.Background(), conv.ID, SendRequest{
		Text:        "look",
		Attachments: []db.Attachment{{Path: filepath.Join(t.TempDir(), "missing.png")}},
	})
	var aerr *db.AttachmentError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 0, env.provider.calls())
}

func TestSendMessagePublishesChange(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	conv, err := env.store.CreateConversation("")
	require.NoError(t, err)
	ch := env.bus.Subscribe(16)
	defer env.bus.Unsubscribe(ch)
	env.provider.replies = []string{"ok"}

	_, err = env.svc.SendMessage(context.Background(), conv.ID, SendRequest{Text: "hi"})
	require.NoError(t, err)

	kinds := map[string]int{}
	for len(ch) > 0 {
		e := <-ch
		kinds[e.Kind]++
	}
	assert.Equal(t, 2, kinds[events.KindDataChanged])
	assert.Equal(t, 1, kinds[events.KindLog])
}

func TestCreateConversationGreetsAndPins(t *testing.T) {
	env := newTestEnv(t)
	env.provider.replies = []string{"你好！"}

	conv, err := env.svc.CreateConversation("")
	require.NoError(t, err)
	env.svc.Wait()

	got, err := env.store.GetConversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "你好！", got.Messages[0].Content)
	assert.Contains(t, env.provider.lastRequest().Instruction, "打招呼")
	assert.Empty(t, env.provider.lastRequest().Turns)

	settings, err := env.store.ReadSettings()
	require.NoError(t, err)
	assert.Equal(t, conv.ID, settings.UI.ProactiveConversationID)
	assert.Equal(t, conv.ID, settings.UI.CurrentConversationID)

	second, err := env.svc.CreateConversation("second")
	require.NoError(t, err)
	env.svc.Wait()
	settings, err = env.store.ReadSettings()
	require.NoError(t, err)
	assert.Equal(t, conv.ID, settings.UI.ProactiveConversationID)
	assert.Equal(t, second.ID, settings.UI.CurrentConversationID)
}

func TestSummarizeToMemory(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	conv, err := env.store.CreateConversation("周末")
	require.NoError(t, err)
	_, err = env.store.AppendMessage(conv.ID, env.store.NewMessage(db.RoleUser, "我喜欢爬山"))
	require.NoError(t, err)
	env.provider.replies = []string{"  你喜欢爬山  "}

	item, err := env.svc.SummarizeToMemory(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "周末 摘要", item.Title)
	assert.Equal(t, "你喜欢爬山", item.Content)
	assert.Equal(t, []string{"summary"}, item.Tags)

	req := env.provider.lastRequest()
	assert.Equal(t, 300, req.MaxTokens)
	assert.Equal(t, 0.5, req.Temperature)

	items, err := env.store.ListMemory()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestTestAPIOverlaysPatch(t *testing.T) {
	env := newTestEnv(t)
	env.provider.replies = []string{"OK"}

	reply, err := env.svc.TestAPI(context.Background(), []byte(`{"apiKey":"sk-test","model":"gpt-test"}`))
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)

	require.NotEmpty(t, env.configs)
	cfg := env.configs[len(env.configs)-1]
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "gpt-test", cfg.Model)
	assert.Equal(t, "https://api.openai.com", cfg.BaseURL)

	req := env.provider.lastRequest()
	assert.Equal(t, 5, req.MaxTokens)
	assert.Zero(t, req.Temperature)

	settings, err := env.store.ReadSettings()
	require.NoError(t, err)
	assert.Empty(t, settings.API.APIKey)

	logs := env.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, db.LogTypeTest, logs[0].Type)
	assert.Equal(t, "RECV", logs[0].Action)
}

func TestDeleteConversationClearsPin(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	conv, err := env.svc.CreateConversation("")
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteConversation(conv.ID))
	settings, err := env.store.ReadSettings()
	require.NoError(t, err)
	assert.Empty(t, settings.UI.ProactiveConversationID)
	assert.Empty(t, settings.UI.CurrentConversationID)
}

func TestPinProactiveRejectsUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.PinProactive("conv_missing")
	assert.True(t, errors.Is(err, db.ErrConversationNotFound))

	_, err = env.svc.PinProactive("")
	assert.NoError(t, err)
}

func TestSendMessageTracesProviderPayload(t *testing.T) {
	env := newTestEnv(t)
	env.disableGreeting(t)
	var buf bytes.Buffer
	env.svc.logger = utils.NewWriterLogger(&buf, utils.LevelTrace)

	conv, err := env.store.CreateConversation("chat")
	require.NoError(t, err)
	env.provider.replies = []string{"我在呢"}

	_, err = env.svc.SendMessage(context.Background(), conv.ID, SendRequest{Text: "在吗"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "fake request")
	assert.Contains(t, out, "在吗")
	assert.Contains(t, out, "请继续回复消息")
	assert.Contains(t, out, "我在呢")

	buf.Reset()
	env.svc.logger = utils.NewWriterLogger(&buf, slog.LevelInfo)
	_, err = env.svc.SendMessage(context.Background(), conv.ID, SendRequest{Text: "again"})
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "level=TRACE")
}
