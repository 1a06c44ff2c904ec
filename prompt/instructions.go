package prompt

import (
	"fmt"
	"strings"

	"companion-agent/db"
)

const (
	memoryBegin  = "[以下是你的记忆]"
	memoryNote   = "注意：记忆是你作为第一人称记录的，记忆中的“我”代表你自己。"
	memoryEnd    = "[结束记忆]"
	historyBegin = "[以下是对话内容]"
	historyEnd   = "[对话内容结束]"

	noLabelsNote = "你回复时不需要带上姓名和时间戳。只要回复你说的话即可。"

	testSystem      = "你是一个诊断助手。请仅回复：OK"
	testInstruction = "测试连接与鉴权"
)

// systemPreamble is the persona followed by the most recent memory items
// between explicit markers.
func systemPreamble(persona string, memory []*db.MemoryItem) string {
	if len(memory) == 0 {
		return persona
	}
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n")
	sb.WriteString(memoryBegin)
	sb.WriteString("\n")
	sb.WriteString(memoryNote)
	sb.WriteString("\n")
	for _, it := range memory {
		fmt.Fprintf(&sb, "- %s: \n%s\n", it.Title, it.Content)
	}
	sb.WriteString(memoryEnd)
	sb.WriteString("\n\n")
	sb.WriteString(historyBegin)
	sb.WriteString("\n")
	return sb.String()
}

func chatInstruction(lastRole string) string {
	if lastRole == db.RoleAssistant {
		return historyEnd + "\nNote: [请继续你的上一条消息，" + noLabelsNote + "]"
	}
	return historyEnd + "\nNote: [请继续回复消息，" + noLabelsNote + "]"
}

// proactiveInstruction states the current time and the SEND/SKIP contract.
// Short histories get the "hasn't replied in a while" framing so a fresh
// conversation still produces a first contact.
func proactiveInstruction(now, user string, historyLen int) string {
	contract := "如果你决定不发信息，请回复 SKIP；若需要，请以 SEND: <消息> 格式输出，不要只回复SEND。你回复时不需要带上姓名和时间戳。"
	if historyLen <= 2 {
		return fmt.Sprintf("%s\n[提醒] 现在的时间是 %s 。如果你发现%s一段时间没有回复你，你要主动给%s发消息。如果你想主动联系%s，也可以直接给%s发消息。%s",
			historyEnd, now, user, user, user, user, contract)
	}
	return fmt.Sprintf("%s\n[提醒] 现在的时间是 %s 。如果你想主动联系%s，也可以直接给%s发消息。%s",
		historyEnd, now, user, user, contract)
}

func summaryInstruction(names db.Names) string {
	return fmt.Sprintf("%s\n请将以上对话要点总结为简洁的记忆条目，突出人物偏好、性格、计划、提醒点、长期目标或高频提及的信息，输出中文，尽量简洁。"+
		"记忆条目以%s作为第一人称来写。记忆中的“我”代表%s，记忆中的“你”代表%s。请基于以上对话文本与附件，输出记忆条目。",
		historyEnd, names.ModelName(), names.ModelName(), names.UserName())
}

func greetingInstruction(names db.Names) string {
	return fmt.Sprintf("你需要向%s发送一条打招呼的信息。%s", names.UserName(), noLabelsNote)
}
